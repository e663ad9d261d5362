package user

import (
	"errors"
	"time"

	"github.com/frahmantamala/expense-claims/internal/auth"
	userDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/user"
)

// User is the directory entry for a person who can sign in.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         auth.Role `json:"role"`
	Department   string    `json:"department,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var (
	ErrNotFound    = errors.New("user not found")
	ErrEmailExists = errors.New("email already registered")
)

func ToDataModel(u *User) *userDatamodel.User {
	return &userDatamodel.User{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Department:   u.Department,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func FromDataModel(u *userDatamodel.User) *User {
	return &User{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         auth.Role(u.Role),
		Department:   u.Department,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// RegisterDTO creates a user. Password is plain text until the service
// hashes it.
type RegisterDTO struct {
	Email      string    `json:"email" validate:"required,email"`
	Name       string    `json:"name" validate:"required,max=100"`
	Password   string    `json:"password" validate:"required,min=8"`
	Role       auth.Role `json:"role" validate:"required,oneof=employee manager admin"`
	Department string    `json:"department,omitempty"`
}
