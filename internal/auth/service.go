package auth

import (
	"context"
	"log/slog"
	"strconv"

	errors "github.com/frahmantamala/expense-claims/internal"
	"golang.org/x/crypto/bcrypt"
)

// Credentials is what the user store returns for a sign-in attempt.
type Credentials struct {
	UserID       int64
	Email        string
	PasswordHash string
	IsActive     bool
}

type UserRepository interface {
	GetCredentialsByEmail(ctx context.Context, email string) (*Credentials, error)
	GetUserByID(ctx context.Context, userID int64) (*User, error)
}

// ServiceAPI is the surface the HTTP handler depends on.
type ServiceAPI interface {
	Authenticate(ctx context.Context, dto LoginDTO) (AuthTokens, error)
	RefreshTokens(ctx context.Context, refreshToken string) (AuthTokens, error)
	UserForAccessToken(ctx context.Context, accessToken string) (*User, error)
}

type Service struct {
	userRepo       UserRepository
	tokenGenerator TokenGenerator
	bcryptCost     int
	logger         *slog.Logger
}

func NewService(userRepo UserRepository, tokenGen TokenGenerator, bcryptCost int, logger *slog.Logger) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo:       userRepo,
		tokenGenerator: tokenGen,
		bcryptCost:     bcryptCost,
		logger:         logger,
	}
}

// Authenticate validates credentials and returns tokens
func (s *Service) Authenticate(ctx context.Context, dto LoginDTO) (AuthTokens, error) {
	if err := dto.Validate(); err != nil {
		return AuthTokens{}, err
	}

	creds, err := s.userRepo.GetCredentialsByEmail(ctx, dto.Email)
	if err != nil {
		s.logger.InfoContext(ctx, "login for unknown email", "error", err)
		return AuthTokens{}, errors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(dto.Password)); err != nil {
		return AuthTokens{}, errors.ErrInvalidCredentials
	}

	if !creds.IsActive {
		return AuthTokens{}, errors.ErrUserInactive
	}

	return s.issue(strconv.FormatInt(creds.UserID, 10), creds.Email)
}

// RefreshTokens validates refresh token and returns new tokens
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (AuthTokens, error) {
	claims, err := s.tokenGenerator.ValidateRefreshToken(refreshToken)
	if err != nil {
		return AuthTokens{}, err
	}

	user, err := s.lookup(ctx, claims)
	if err != nil {
		return AuthTokens{}, err
	}

	return s.issue(claims.UserID, user.Email)
}

func (s *Service) UserForAccessToken(ctx context.Context, accessToken string) (*User, error) {
	claims, err := s.tokenGenerator.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	return s.lookup(ctx, claims)
}

func (s *Service) lookup(ctx context.Context, claims *Claims) (*User, error) {
	uid, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return nil, errors.ErrInvalidToken.WithCause(err)
	}

	user, err := s.userRepo.GetUserByID(ctx, uid)
	if err != nil {
		return nil, errors.ErrInvalidToken.WithCause(err)
	}
	if !user.IsActive {
		return nil, errors.ErrUserInactive
	}
	return user, nil
}

func (s *Service) issue(userID, email string) (AuthTokens, error) {
	accessToken, err := s.tokenGenerator.GenerateAccessToken(userID, email)
	if err != nil {
		return AuthTokens{}, errors.NewInternalError("failed to sign access token", err)
	}

	refreshToken, err := s.tokenGenerator.GenerateRefreshToken(userID, email)
	if err != nil {
		return AuthTokens{}, errors.NewInternalError("failed to sign refresh token", err)
	}

	return AuthTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// HashPassword creates a bcrypt hash of the password
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
