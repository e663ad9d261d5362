package user

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/frahmantamala/expense-claims/internal"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

type Repository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Create(ctx context.Context, u *User) error
}

type Service struct {
	repo       Repository
	bcryptCost int
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewService(repo Repository, bcryptCost int, logger *slog.Logger) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, bcryptCost: bcryptCost, validate: validator.New(), logger: logger}
}

func (s *Service) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, internal.NewNotFoundError("user not found", internal.ErrCodeUserNotFound)
	}
	if err != nil {
		return nil, internal.NewInternalError("failed to load user", err)
	}
	return u, nil
}

func (s *Service) List(ctx context.Context) ([]*User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, internal.NewInternalError("failed to list users", err)
	}
	return users, nil
}

// Register creates an active user. An existing email is reported as
// ErrEmailExists so seeding can be rerun.
func (s *Service) Register(ctx context.Context, dto RegisterDTO) (*User, error) {
	dto.Email = strings.ToLower(strings.TrimSpace(dto.Email))
	if err := s.validate.Struct(dto); err != nil {
		return nil, internal.NewValidationError(err.Error(), internal.ErrCodeValidationFailed)
	}

	if _, err := s.repo.GetByEmail(ctx, dto.Email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, internal.NewInternalError("failed to check email", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), s.bcryptCost)
	if err != nil {
		return nil, internal.NewInternalError("failed to hash password", err)
	}

	u := &User{
		Email:        dto.Email,
		Name:         dto.Name,
		PasswordHash: string(hash),
		Role:         dto.Role,
		Department:   dto.Department,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, internal.NewInternalError("failed to create user", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}
