package expense

import (
	"time"

	expenseDatamodel "github.com/frahmantamala/expense-claims/internal/core/datamodel/expense"
	"github.com/frahmantamala/expense-claims/internal/core/money"
)

type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusAutoApproved    Status = "auto_approved"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusAutoApproved, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// IsFinal reports whether no approve/reject transition leaves s.
func (s Status) IsFinal() bool {
	return s != StatusPendingApproval
}

// PaymentStatus tracks money movement. It is advanced by the payment side;
// the empty value means no payment has been initiated.
type PaymentStatus string

const (
	PaymentStatusNone       PaymentStatus = ""
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// Receipt references a file held by the storage service.
type Receipt struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type Claim struct {
	ID              int64         `json:"id"`
	SubmitterID     int64         `json:"submitter_id"`
	Description     string        `json:"description"`
	Amount          money.Money   `json:"amount"`
	Category        string        `json:"category"`
	ExpenseDate     time.Time     `json:"expense_date"`
	Receipt         *Receipt      `json:"receipt,omitempty"`
	Status          Status        `json:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status,omitempty"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	ApprovalNotes   string        `json:"approval_notes,omitempty"`
	ProcessedBy     int64         `json:"processed_by,omitempty"`
	SubmittedAt     time.Time     `json:"submitted_at"`
	ProcessedAt     *time.Time    `json:"processed_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NeedsPayment reports whether the claim has been cleared for payout.
func (c *Claim) NeedsPayment() bool {
	return c.Status == StatusApproved || c.Status == StatusAutoApproved
}

// NewClaim builds the record the backend stores on submission. The
// initial status follows the auto-approval threshold.
func NewClaim(submitterID int64, dto CreateClaimDTO, lc Lifecycle, now time.Time) *Claim {
	c := &Claim{
		SubmitterID: submitterID,
		Description: dto.Description,
		Amount:      dto.Amount,
		Category:    dto.Category,
		ExpenseDate: dto.ExpenseDate,
		Receipt:     dto.Receipt,
		Status:      lc.InitialStatus(dto.Amount),
		SubmittedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if c.Status == StatusAutoApproved {
		c.ProcessedAt = &now
		c.PaymentStatus = PaymentStatusPending
	}
	return c
}

func ToDataModel(c *Claim) *expenseDatamodel.Expense {
	row := &expenseDatamodel.Expense{
		ID:            c.ID,
		UserID:        c.SubmitterID,
		Amount:        c.Amount.Amount,
		Currency:      string(c.Amount.Currency),
		Description:   c.Description,
		Category:      c.Category,
		ExpenseStatus: string(c.Status),
		PaymentStatus: string(c.PaymentStatus),
		ExpenseDate:   c.ExpenseDate,
		SubmittedAt:   c.SubmittedAt,
		ProcessedAt:   c.ProcessedAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
	if c.Receipt != nil {
		row.ReceiptURL = &c.Receipt.URL
		row.ReceiptFileName = &c.Receipt.Filename
	}
	if c.RejectionReason != "" {
		row.RejectionReason = &c.RejectionReason
	}
	if c.ApprovalNotes != "" {
		row.ApprovalNotes = &c.ApprovalNotes
	}
	if c.ProcessedBy != 0 {
		row.ProcessedBy = &c.ProcessedBy
	}
	return row
}

func FromDataModel(e *expenseDatamodel.Expense) *Claim {
	c := &Claim{
		ID:            e.ID,
		SubmitterID:   e.UserID,
		Description:   e.Description,
		Amount:        money.New(e.Amount, money.Currency(e.Currency)),
		Category:      e.Category,
		ExpenseDate:   e.ExpenseDate,
		Status:        Status(e.ExpenseStatus),
		PaymentStatus: PaymentStatus(e.PaymentStatus),
		SubmittedAt:   e.SubmittedAt,
		ProcessedAt:   e.ProcessedAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
	if e.ReceiptURL != nil && *e.ReceiptURL != "" {
		c.Receipt = &Receipt{URL: *e.ReceiptURL}
		if e.ReceiptFileName != nil {
			c.Receipt.Filename = *e.ReceiptFileName
		}
	}
	if e.RejectionReason != nil {
		c.RejectionReason = *e.RejectionReason
	}
	if e.ApprovalNotes != nil {
		c.ApprovalNotes = *e.ApprovalNotes
	}
	if e.ProcessedBy != nil {
		c.ProcessedBy = *e.ProcessedBy
	}
	return c
}

func FromDataModelSlice(rows []*expenseDatamodel.Expense) []*Claim {
	result := make([]*Claim, len(rows))
	for i, e := range rows {
		result[i] = FromDataModel(e)
	}
	return result
}
