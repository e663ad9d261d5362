package category

import (
	"context"
	"log/slog"
	"strings"

	categoryDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/category"
)

type RepositoryAPI interface {
	GetAll(ctx context.Context) ([]*categoryDatamodel.ExpenseCategory, error)
	GetByName(ctx context.Context, name string) (*categoryDatamodel.ExpenseCategory, error)
	Create(ctx context.Context, category *categoryDatamodel.ExpenseCategory) error
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// ListActive returns the categories claims may be filed under.
func (s *Service) ListActive(ctx context.Context) ([]Category, error) {
	dataCategories, err := s.repo.GetAll(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get categories from repository", "error", err)
		return nil, err
	}

	categories := make([]Category, 0, len(dataCategories))
	for _, dataCategory := range dataCategories {
		if dataCategory.IsActive {
			categories = append(categories, *FromDataModel(dataCategory))
		}
	}

	s.logger.DebugContext(ctx, "retrieved categories", "count", len(categories))
	return categories, nil
}

func (s *Service) GetAllCategories(ctx context.Context) ([]CategoryResponse, error) {
	categories, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	responses := make([]CategoryResponse, len(categories))
	for i := range categories {
		responses[i] = categories[i].ToResponse()
	}
	return responses, nil
}

// ActiveNames feeds the category membership rule.
func (s *Service) ActiveNames(ctx context.Context) ([]string, error) {
	categories, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return Names(categories), nil
}

func (s *Service) IsValidCategory(ctx context.Context, name string) bool {
	cat, err := s.repo.GetByName(ctx, strings.TrimSpace(name))
	if err != nil {
		s.logger.WarnContext(ctx, "error checking category validity", "name", name, "error", err)
		return false
	}
	return cat != nil && cat.IsActive
}
