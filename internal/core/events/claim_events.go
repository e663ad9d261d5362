package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypeClaimApproved         = "claim.approved"
	EventTypePaymentRetryRequested = "payment.retry_requested"
)

// ClaimPaymentEvent asks the payment side to settle a claim. It is raised
// when a claim becomes payable and again on every retry request.
type ClaimPaymentEvent struct {
	BaseEvent
	ClaimID  int64           `json:"claim_id"`
	UserID   int64           `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func NewClaimApprovedEvent(claimID, userID int64, amount decimal.Decimal, currency string) *ClaimPaymentEvent {
	return newClaimPaymentEvent(EventTypeClaimApproved, claimID, userID, amount, currency)
}

func NewPaymentRetryRequestedEvent(claimID, userID int64, amount decimal.Decimal, currency string) *ClaimPaymentEvent {
	return newClaimPaymentEvent(EventTypePaymentRetryRequested, claimID, userID, amount, currency)
}

func newClaimPaymentEvent(eventType string, claimID, userID int64, amount decimal.Decimal, currency string) *ClaimPaymentEvent {
	return &ClaimPaymentEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"claim_id": claimID,
				"user_id":  userID,
				"amount":   amount.String(),
				"currency": currency,
			},
		},
		ClaimID:  claimID,
		UserID:   userID,
		Amount:   amount,
		Currency: currency,
	}
}
