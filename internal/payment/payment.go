package payment

import (
	"errors"
	"fmt"
	"time"

	paymentDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/payment"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
)

var ErrNotFound = errors.New("payment not found")

// Payment is the settlement record of one claim. A retry reuses the
// record, bumps RetryCount and sends a fresh ExternalID.
type Payment struct {
	ID              int64           `json:"id"`
	ClaimID         int64           `json:"claim_id"`
	ExternalID      string          `json:"external_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"status"`
	GatewayResponse string          `json:"-"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	RetryCount      int             `json:"retry_count"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ExternalIDFor is the idempotency key sent to the gateway for one attempt
// at paying a claim.
func ExternalIDFor(claimID int64, attempt int) string {
	return fmt.Sprintf("claim-%d-%d", claimID, attempt)
}

func ToDataModel(p *Payment) *paymentDatamodel.Payment {
	row := &paymentDatamodel.Payment{
		ID:              p.ID,
		ExpenseID:       p.ClaimID,
		ExternalID:      p.ExternalID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Status:          string(p.Status),
		GatewayResponse: p.GatewayResponse,
		RetryCount:      p.RetryCount,
		ProcessedAt:     p.ProcessedAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.FailureReason != "" {
		row.FailureReason = &p.FailureReason
	}
	return row
}

func FromDataModel(row *paymentDatamodel.Payment) *Payment {
	p := &Payment{
		ID:              row.ID,
		ClaimID:         row.ExpenseID,
		ExternalID:      row.ExternalID,
		Amount:          row.Amount,
		Currency:        row.Currency,
		Status:          Status(row.Status),
		GatewayResponse: row.GatewayResponse,
		RetryCount:      row.RetryCount,
		ProcessedAt:     row.ProcessedAt,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.FailureReason != nil {
		p.FailureReason = *row.FailureReason
	}
	return p
}
