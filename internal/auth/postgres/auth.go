package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/frahmantamala/expense-claims/internal/auth"
	userDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/user"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetCredentialsByEmail matches email case-insensitively. Inactive users
// are returned so the service can tell them apart from unknown ones.
func (r *Repository) GetCredentialsByEmail(ctx context.Context, email string) (*auth.Credentials, error) {
	var row userDatamodel.User
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &auth.Credentials{
		UserID:       row.ID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		IsActive:     row.IsActive,
	}, nil
}

func (r *Repository) GetUserByID(ctx context.Context, userID int64) (*auth.User, error) {
	var row userDatamodel.User
	if err := r.db.WithContext(ctx).First(&row, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &auth.User{
		ID:       row.ID,
		Name:     row.Name,
		Email:    row.Email,
		Role:     auth.Role(row.Role),
		IsActive: row.IsActive,
	}, nil
}
