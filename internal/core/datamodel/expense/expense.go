package expense

import (
	"time"

	"github.com/shopspring/decimal"
)

type Expense struct {
	ID              int64           `gorm:"primaryKey"`
	UserID          int64           `gorm:"column:user_id;not null;index"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency        string          `gorm:"column:currency;size:3;not null"`
	Description     string          `gorm:"not null"`
	Category        string          `gorm:"column:category"`
	ReceiptURL      *string         `gorm:"column:receipt_url"`
	ReceiptFileName *string         `gorm:"column:receipt_filename"`
	ExpenseStatus   string          `gorm:"column:expense_status;index;default:pending_approval"`
	PaymentStatus   string          `gorm:"column:payment_status"`
	RejectionReason *string         `gorm:"column:rejection_reason"`
	ApprovalNotes   *string         `gorm:"column:approval_notes"`
	ProcessedBy     *int64          `gorm:"column:processed_by"`
	ExpenseDate     time.Time       `gorm:"column:expense_date;type:date"`
	SubmittedAt     time.Time       `gorm:"column:submitted_at"`
	ProcessedAt     *time.Time      `gorm:"column:processed_at"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Expense) TableName() string { return "expenses" }
