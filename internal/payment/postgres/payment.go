package postgres

import (
	"context"
	"errors"

	paymentDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/payment"
	"github.com/frahmantamala/expense-claims/internal/payment"
	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	row := payment.ToDataModel(p)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	p.ID = row.ID
	p.CreatedAt, p.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (r *PaymentRepository) GetByClaimID(ctx context.Context, claimID int64) (*payment.Payment, error) {
	var row paymentDatamodel.Payment
	err := r.db.WithContext(ctx).Where("expense_id = ?", claimID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payment.ErrNotFound
		}
		return nil, err
	}
	return payment.FromDataModel(&row), nil
}

// Save writes every mutable column of an existing record.
func (r *PaymentRepository) Save(ctx context.Context, p *payment.Payment) error {
	row := payment.ToDataModel(p)
	res := r.db.WithContext(ctx).Model(&paymentDatamodel.Payment{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"external_id":      row.ExternalID,
			"status":           row.Status,
			"gateway_response": row.GatewayResponse,
			"failure_reason":   row.FailureReason,
			"retry_count":      row.RetryCount,
			"processed_at":     row.ProcessedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return payment.ErrNotFound
	}
	return nil
}
