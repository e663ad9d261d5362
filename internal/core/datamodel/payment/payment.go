package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is one settlement attempt chain for an expense. Retries reuse the
// row and bump RetryCount.
type Payment struct {
	ID              int64           `gorm:"primaryKey"`
	ExpenseID       int64           `gorm:"column:expense_id;not null;uniqueIndex"`
	ExternalID      string          `gorm:"column:external_id;not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency        string          `gorm:"column:currency;size:3;not null"`
	Status          string          `gorm:"column:status;default:pending"`
	GatewayResponse string          `gorm:"column:gateway_response"`
	FailureReason   *string         `gorm:"column:failure_reason"`
	RetryCount      int             `gorm:"column:retry_count;default:0"`
	ProcessedAt     *time.Time      `gorm:"column:processed_at"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }
