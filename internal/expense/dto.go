package expense

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/expense-claims/internal/core/money"
	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

// ClaimInput is a claim as typed into a form: every value is still raw
// text. Rules turns it into a CreateClaimDTO.
type ClaimInput struct {
	Description string        `json:"description"`
	Amount      string        `json:"amount"`
	Currency    string        `json:"currency"`
	Category    string        `json:"category"`
	ExpenseDate string        `json:"expense_date"`
	Receipt     *ReceiptInput `json:"receipt,omitempty"`
}

// ReceiptInput is the outcome of an upload attempt. UploadError is set
// when the storage service refused the file.
type ReceiptInput struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	UploadError string `json:"upload_error,omitempty"`
}

// CreateClaimDTO is a validated, typed submission.
type CreateClaimDTO struct {
	Description string
	Amount      money.Money
	Category    string
	ExpenseDate time.Time
	Receipt     *Receipt
}

// Input renders the DTO back into form values so the backend can run the
// same rules the client ran.
func (d CreateClaimDTO) Input() ClaimInput {
	in := ClaimInput{
		Description: d.Description,
		Amount:      d.Amount.Amount.String(),
		Currency:    string(d.Amount.Currency),
		Category:    d.Category,
	}
	if !d.ExpenseDate.IsZero() {
		in.ExpenseDate = d.ExpenseDate.Format(DateLayout)
	}
	if d.Receipt != nil {
		in.Receipt = &ReceiptInput{URL: d.Receipt.URL, Filename: d.Receipt.Filename}
	}
	return in
}

// UpdateClaimInput holds the form fields being changed; nil means unchanged.
type UpdateClaimInput struct {
	Description *string       `json:"description,omitempty"`
	Amount      *string       `json:"amount,omitempty"`
	Currency    *string       `json:"currency,omitempty"`
	Category    *string       `json:"category,omitempty"`
	ExpenseDate *string       `json:"expense_date,omitempty"`
	Receipt     *ReceiptInput `json:"receipt,omitempty"`
}

func (u UpdateClaimInput) Empty() bool {
	return u.Description == nil && u.Amount == nil && u.Currency == nil &&
		u.Category == nil && u.ExpenseDate == nil && u.Receipt == nil
}

// UpdateClaimDTO carries typed changes. Amount and Currency are independent
// so a claim keeps its currency unless one is given.
type UpdateClaimDTO struct {
	Description *string
	Amount      *decimal.Decimal
	Currency    *money.Currency
	Category    *string
	ExpenseDate *time.Time
	Receipt     *Receipt
}

func (d UpdateClaimDTO) Input() UpdateClaimInput {
	var in UpdateClaimInput
	in.Description = d.Description
	in.Category = d.Category
	if d.Amount != nil {
		amt := d.Amount.String()
		in.Amount = &amt
	}
	if d.Currency != nil {
		cur := string(*d.Currency)
		in.Currency = &cur
	}
	if d.ExpenseDate != nil {
		s := d.ExpenseDate.Format(DateLayout)
		in.ExpenseDate = &s
	}
	if d.Receipt != nil {
		in.Receipt = &ReceiptInput{URL: d.Receipt.URL, Filename: d.Receipt.Filename}
	}
	return in
}

// Apply copies the changed fields onto c.
func (d UpdateClaimDTO) Apply(c *Claim) {
	if d.Description != nil {
		c.Description = *d.Description
	}
	if d.Amount != nil {
		c.Amount.Amount = *d.Amount
	}
	if d.Currency != nil {
		c.Amount.Currency = *d.Currency
	}
	if d.Category != nil {
		c.Category = *d.Category
	}
	if d.ExpenseDate != nil {
		c.ExpenseDate = *d.ExpenseDate
	}
	if d.Receipt != nil {
		c.Receipt = d.Receipt
	}
}

type Filters struct {
	Status        Status
	PaymentStatus PaymentStatus
	Category      string
	Search        string
	SubmitterID   int64
}

type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

type PageInfo struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

type Page struct {
	Items    []*Claim
	PageInfo PageInfo
}

// Query encodes filters and pagination as URL parameters.
func (f Filters) Query(p Pagination) url.Values {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.PaymentStatus != "" {
		q.Set("payment_status", string(f.PaymentStatus))
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.SubmitterID != 0 {
		q.Set("submitter_id", strconv.FormatInt(f.SubmitterID, 10))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	return q
}

// ParseQuery is the inverse of Filters.Query. Malformed numbers fall back
// to defaults.
func ParseQuery(q url.Values) (Filters, Pagination) {
	f := Filters{
		Status:        Status(q.Get("status")),
		PaymentStatus: PaymentStatus(q.Get("payment_status")),
		Category:      strings.TrimSpace(q.Get("category")),
		Search:        strings.TrimSpace(q.Get("search")),
	}
	f.SubmitterID, _ = strconv.ParseInt(q.Get("submitter_id"), 10, 64)

	var p Pagination
	p.Page, _ = strconv.Atoi(q.Get("page"))
	p.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	return f, p.Normalize()
}

// ClaimView is the wire form of a claim.
type ClaimView struct {
	ID              int64           `json:"id"`
	SubmitterID     int64           `json:"submitter_id"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Category        string          `json:"category"`
	ExpenseDate     string          `json:"expense_date"`
	ReceiptURL      *string         `json:"receipt_url,omitempty"`
	ReceiptFilename *string         `json:"receipt_filename,omitempty"`
	Status          Status          `json:"expense_status"`
	PaymentStatus   *PaymentStatus  `json:"payment_status"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	ApprovalNotes   *string         `json:"approval_notes,omitempty"`
	ProcessedBy     *int64          `json:"processed_by,omitempty"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func ToView(c *Claim) ClaimView {
	v := ClaimView{
		ID:          c.ID,
		SubmitterID: c.SubmitterID,
		Description: c.Description,
		Amount:      c.Amount.Amount,
		Currency:    string(c.Amount.Currency),
		Category:    c.Category,
		ExpenseDate: c.ExpenseDate.Format(DateLayout),
		Status:      c.Status,
		SubmittedAt: c.SubmittedAt,
		ProcessedAt: c.ProcessedAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if c.Receipt != nil {
		v.ReceiptURL, v.ReceiptFilename = &c.Receipt.URL, &c.Receipt.Filename
	}
	if c.PaymentStatus != PaymentStatusNone {
		ps := c.PaymentStatus
		v.PaymentStatus = &ps
	}
	if c.RejectionReason != "" {
		v.RejectionReason = &c.RejectionReason
	}
	if c.ApprovalNotes != "" {
		v.ApprovalNotes = &c.ApprovalNotes
	}
	if c.ProcessedBy != 0 {
		v.ProcessedBy = &c.ProcessedBy
	}
	return v
}

func (v ClaimView) ToClaim() (*Claim, error) {
	date, err := time.Parse(DateLayout, v.ExpenseDate)
	if err != nil {
		return nil, err
	}
	c := &Claim{
		ID:          v.ID,
		SubmitterID: v.SubmitterID,
		Description: v.Description,
		Amount:      money.New(v.Amount, money.Currency(v.Currency)),
		Category:    v.Category,
		ExpenseDate: date,
		Status:      v.Status,
		SubmittedAt: v.SubmittedAt,
		ProcessedAt: v.ProcessedAt,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
	if v.ReceiptURL != nil {
		c.Receipt = &Receipt{URL: *v.ReceiptURL}
		if v.ReceiptFilename != nil {
			c.Receipt.Filename = *v.ReceiptFilename
		}
	}
	if v.PaymentStatus != nil {
		c.PaymentStatus = *v.PaymentStatus
	}
	if v.RejectionReason != nil {
		c.RejectionReason = *v.RejectionReason
	}
	if v.ApprovalNotes != nil {
		c.ApprovalNotes = *v.ApprovalNotes
	}
	if v.ProcessedBy != nil {
		c.ProcessedBy = *v.ProcessedBy
	}
	return c, nil
}

// CreateClaimRequest is the wire body of a submission.
type CreateClaimRequest struct {
	Description     string  `json:"description"`
	Amount          string  `json:"amount"`
	Currency        string  `json:"currency,omitempty"`
	Category        string  `json:"category"`
	ExpenseDate     string  `json:"expense_date"`
	ReceiptURL      *string `json:"receipt_url,omitempty"`
	ReceiptFilename *string `json:"receipt_filename,omitempty"`
}

func NewCreateClaimRequest(d CreateClaimDTO) CreateClaimRequest {
	in := d.Input()
	req := CreateClaimRequest{
		Description: in.Description,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Category:    in.Category,
		ExpenseDate: in.ExpenseDate,
	}
	if d.Receipt != nil {
		req.ReceiptURL, req.ReceiptFilename = &d.Receipt.URL, &d.Receipt.Filename
	}
	return req
}

func (r CreateClaimRequest) Input() ClaimInput {
	in := ClaimInput{
		Description: r.Description,
		Amount:      r.Amount,
		Currency:    r.Currency,
		Category:    r.Category,
		ExpenseDate: r.ExpenseDate,
	}
	if r.ReceiptURL != nil || r.ReceiptFilename != nil {
		in.Receipt = &ReceiptInput{}
		if r.ReceiptURL != nil {
			in.Receipt.URL = *r.ReceiptURL
		}
		if r.ReceiptFilename != nil {
			in.Receipt.Filename = *r.ReceiptFilename
		}
	}
	return in
}

type ApproveClaimRequest struct {
	Notes string `json:"notes,omitempty" validate:"max=1000"`
}

type RejectClaimRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type ListClaimsResponse struct {
	Data       []ClaimView `json:"data"`
	Pagination PageInfo    `json:"pagination"`
}
