package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/frahmantamala/expense-claims/internal"
	expenseDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/expense"
	"github.com/frahmantamala/expense-claims/internal/expense"
	"gorm.io/gorm"
)

// likeEscaper makes LIKE wildcards in search text match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

type ExpenseRepository struct {
	db *gorm.DB
}

func NewExpenseRepository(db *gorm.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

func (r *ExpenseRepository) Create(ctx context.Context, c *expense.Claim) error {
	row := expense.ToDataModel(c)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	c.ID = row.ID
	c.CreatedAt, c.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (r *ExpenseRepository) GetByID(ctx context.Context, id int64) (*expense.Claim, error) {
	var row expenseDatamodel.Expense
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrExpenseNotFound
		}
		return nil, err
	}
	return expense.FromDataModel(&row), nil
}

// List returns one page, newest submissions first, plus the total number
// of rows matching the filters.
func (r *ExpenseRepository) List(ctx context.Context, filters expense.Filters, page expense.Pagination) ([]*expense.Claim, int64, error) {
	q := r.db.WithContext(ctx).Model(&expenseDatamodel.Expense{})
	if filters.Status != "" {
		q = q.Where("expense_status = ?", string(filters.Status))
	}
	if filters.PaymentStatus != "" {
		q = q.Where("payment_status = ?", string(filters.PaymentStatus))
	}
	if filters.Category != "" {
		q = q.Where("LOWER(category) = ?", strings.ToLower(filters.Category))
	}
	if filters.SubmitterID != 0 {
		q = q.Where("user_id = ?", filters.SubmitterID)
	}
	if filters.Search != "" {
		q = q.Where(`LOWER(description) LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(strings.ToLower(filters.Search))+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page = page.Normalize()
	var rows []*expenseDatamodel.Expense
	err := q.Order("submitted_at DESC").Order("id DESC").
		Limit(page.PerPage).
		Offset(page.Offset()).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return expense.FromDataModelSlice(rows), total, nil
}

// CompareAndSwap writes the mutable columns of c when the stored row still
// has the expected statuses.
func (r *ExpenseRepository) CompareAndSwap(ctx context.Context, c *expense.Claim, expect expense.Expect) (bool, error) {
	row := expense.ToDataModel(c)
	res := r.db.WithContext(ctx).Model(&expenseDatamodel.Expense{}).
		Where("id = ? AND expense_status = ? AND payment_status = ?", c.ID, string(expect.Status), string(expect.PaymentStatus)).
		Updates(map[string]interface{}{
			"description":      row.Description,
			"amount":           row.Amount,
			"currency":         row.Currency,
			"category":         row.Category,
			"expense_date":     row.ExpenseDate,
			"receipt_url":      row.ReceiptURL,
			"receipt_filename": row.ReceiptFileName,
			"expense_status":   row.ExpenseStatus,
			"payment_status":   row.PaymentStatus,
			"rejection_reason": row.RejectionReason,
			"approval_notes":   row.ApprovalNotes,
			"processed_by":     row.ProcessedBy,
			"processed_at":     row.ProcessedAt,
			"updated_at":       row.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetPaymentStatus moves payment_status from one value to another. It is
// how the payment processor reports progress.
func (r *ExpenseRepository) SetPaymentStatus(ctx context.Context, id int64, from, to expense.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&expenseDatamodel.Expense{}).
		Where("id = ? AND payment_status = ?", id, string(from)).
		Update("payment_status", string(to))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListByPaymentStatus returns claims whose payment is in one of the given
// states, oldest first.
func (r *ExpenseRepository) ListByPaymentStatus(ctx context.Context, statuses ...expense.PaymentStatus) ([]*expense.Claim, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	var rows []*expenseDatamodel.Expense
	if err := r.db.WithContext(ctx).Where("payment_status IN ?", values).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return expense.FromDataModelSlice(rows), nil
}
