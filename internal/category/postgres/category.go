package postgres

import (
	"context"
	"errors"

	"github.com/frahmantamala/expense-claims/internal/category"
	categoryDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/category"
	"gorm.io/gorm"
)

type CategoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) category.RepositoryAPI {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) GetAll(ctx context.Context) ([]*categoryDatamodel.ExpenseCategory, error) {
	var categories []*categoryDatamodel.ExpenseCategory
	err := r.db.WithContext(ctx).Order("name ASC").Find(&categories).Error
	return categories, err
}

func (r *CategoryRepository) GetByName(ctx context.Context, name string) (*categoryDatamodel.ExpenseCategory, error) {
	var cat categoryDatamodel.ExpenseCategory
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&cat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cat, nil
}

func (r *CategoryRepository) Create(ctx context.Context, cat *categoryDatamodel.ExpenseCategory) error {
	return r.db.WithContext(ctx).Create(cat).Error
}
