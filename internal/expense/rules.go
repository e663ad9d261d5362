package expense

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/core/common/validation"
	"github.com/frahmantamala/expense-claims/internal/core/money"
	"github.com/shopspring/decimal"
)

const (
	FieldDescription = "description"
	FieldAmount      = "amount"
	FieldCurrency    = "currency"
	FieldCategory    = "category"
	FieldExpenseDate = "expense_date"
	FieldReceipt     = "receipt"
)

// ErrUnknownField is returned when a caller asks for a field the rules do
// not know. It signals a programming error, not invalid input.
var ErrUnknownField = errors.New("expense: unknown claim field")

type ValidationResult = validation.Result

// Limit holds the amounts of one currency.
type Limit struct {
	AutoApproval decimal.Decimal
	Max          decimal.Decimal
}

// Rules evaluates claim input against the business limits. Every field is
// checked on each pass so a form can show all problems at once. Amounts
// are only ever compared with the limits of their own currency.
type Rules struct {
	Limits            map[money.Currency]Limit
	MinDescriptionLen int
	MaxDescriptionLen int
	MaxBackdateMonths int
	Currencies        []money.Currency
	DefaultCurrency   money.Currency
	Now               func() time.Time

	categories map[string]struct{}
}

func NewRules(cfg internal.PolicyConfig) Rules {
	def := internal.DefaultPolicy()
	if cfg.AutoApprovalThreshold <= 0 {
		cfg.AutoApprovalThreshold = def.AutoApprovalThreshold
	}
	if cfg.MaxExpenseAmount <= 0 {
		cfg.MaxExpenseAmount = def.MaxExpenseAmount
	}
	if cfg.MinDescriptionLen <= 0 {
		cfg.MinDescriptionLen = def.MinDescriptionLen
	}
	if cfg.MaxDescriptionLen <= 0 {
		cfg.MaxDescriptionLen = def.MaxDescriptionLen
	}
	if cfg.MaxBackdateMonths <= 0 {
		cfg.MaxBackdateMonths = def.MaxBackdateMonths
	}
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = def.Currencies
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = cfg.Currencies[0]
	}

	// A currency without limits is not accepted.
	currencies := make([]money.Currency, 0, len(cfg.Currencies))
	limits := make(map[money.Currency]Limit, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		l, ok := cfg.LimitFor(c)
		if !ok {
			continue
		}
		cur := money.ParseCurrency(c)
		currencies = append(currencies, cur)
		limits[cur] = Limit{
			AutoApproval: decimal.NewFromFloat(l.AutoApprovalThreshold),
			Max:          decimal.NewFromFloat(l.MaxExpenseAmount),
		}
	}

	return Rules{
		Limits:            limits,
		MinDescriptionLen: cfg.MinDescriptionLen,
		MaxDescriptionLen: cfg.MaxDescriptionLen,
		MaxBackdateMonths: cfg.MaxBackdateMonths,
		Currencies:        currencies,
		DefaultCurrency:   money.ParseCurrency(cfg.DefaultCurrency),
		Now:               time.Now,
	}
}

// Thresholds returns the auto-approval threshold of every accepted currency.
func (r Rules) Thresholds() map[money.Currency]decimal.Decimal {
	out := make(map[money.Currency]decimal.Decimal, len(r.Limits))
	for c, l := range r.Limits {
		out[c] = l.AutoApproval
	}
	return out
}

// WithCategories returns a copy that also requires the category to be one
// of names. An empty list disables the membership check.
func (r Rules) WithCategories(names []string) Rules {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	r.categories = set
	return r
}

type fieldRule func(r Rules, v *validation.ValidationBuilder, in ClaimInput)

var claimFields = map[string]fieldRule{
	FieldDescription: Rules.description,
	FieldAmount:      Rules.amount,
	FieldCurrency:    Rules.currency,
	FieldCategory:    Rules.category,
	FieldExpenseDate: Rules.expenseDate,
	FieldReceipt:     Rules.receipt,
}

var fieldOrder = []string{FieldDescription, FieldAmount, FieldCurrency, FieldCategory, FieldExpenseDate, FieldReceipt}

func (r Rules) Validate(in ClaimInput) ValidationResult {
	v := validation.NewValidator()
	for _, name := range fieldOrder {
		claimFields[name](r, v, in)
	}
	return v.Run()
}

// ValidateField checks a single field, returning its message or "".
func (r Rules) ValidateField(field string, in ClaimInput) (string, error) {
	rule, ok := claimFields[field]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	v := validation.NewValidator()
	rule(r, v, in)
	return v.Run().FieldErrors[field], nil
}

// Normalize validates in and converts it into typed values.
func (r Rules) Normalize(in ClaimInput) (CreateClaimDTO, ValidationResult) {
	res := r.Validate(in)
	if !res.Valid {
		return CreateClaimDTO{}, res
	}

	amount, _ := decimal.NewFromString(strings.TrimSpace(in.Amount))
	date, _ := time.Parse(DateLayout, strings.TrimSpace(in.ExpenseDate))
	dto := CreateClaimDTO{
		Description: strings.TrimSpace(in.Description),
		Amount:      money.New(amount, r.currencyOf(in.Currency)),
		Category:    strings.TrimSpace(in.Category),
		ExpenseDate: date,
	}
	if in.Receipt != nil {
		dto.Receipt = &Receipt{URL: in.Receipt.URL, Filename: in.Receipt.Filename}
	}
	return dto, res
}

// ValidateUpdate checks only the fields present in in. Without the stored
// claim the currency of an amount-only change is unknown, so its upper
// limit is left to ValidateChange.
func (r Rules) ValidateUpdate(in UpdateClaimInput) ValidationResult {
	full, present := in.merge()
	if in.Currency == nil {
		r.Limits = nil
	}
	return r.validatePresent(full, present)
}

// ValidateChange checks in against the claim it modifies. The amount is
// always checked in the currency the claim will end up with.
func (r Rules) ValidateChange(c *Claim, in UpdateClaimInput) ValidationResult {
	full, present := in.merge()
	if in.Currency == nil {
		full.Currency = string(c.Amount.Currency)
	}
	if in.Amount == nil && in.Currency != nil {
		full.Amount = c.Amount.Amount.String()
		present[FieldAmount] = true
	}
	return r.validatePresent(full, present)
}

func (r Rules) validatePresent(full ClaimInput, present map[string]bool) ValidationResult {
	v := validation.NewValidator()
	for _, name := range fieldOrder {
		if present[name] {
			claimFields[name](r, v, full)
		}
	}
	return v.Run()
}

func (r Rules) NormalizeUpdate(in UpdateClaimInput) (UpdateClaimDTO, ValidationResult) {
	res := r.ValidateUpdate(in)
	if !res.Valid {
		return UpdateClaimDTO{}, res
	}

	var dto UpdateClaimDTO
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		dto.Description = &d
	}
	if in.Amount != nil {
		amount, _ := decimal.NewFromString(strings.TrimSpace(*in.Amount))
		dto.Amount = &amount
	}
	if in.Currency != nil {
		cur := r.currencyOf(*in.Currency)
		dto.Currency = &cur
	}
	if in.Category != nil {
		c := strings.TrimSpace(*in.Category)
		dto.Category = &c
	}
	if in.ExpenseDate != nil {
		date, _ := time.Parse(DateLayout, strings.TrimSpace(*in.ExpenseDate))
		dto.ExpenseDate = &date
	}
	if in.Receipt != nil {
		dto.Receipt = &Receipt{URL: in.Receipt.URL, Filename: in.Receipt.Filename}
	}
	return dto, res
}

// ValidateReason checks a rejection reason.
func ValidateReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return internal.NewValidationFieldError("reason", "rejection reason is required", internal.ErrCodeReasonRequired)
	}
	return nil
}

func (u UpdateClaimInput) merge() (ClaimInput, map[string]bool) {
	var in ClaimInput
	present := map[string]bool{}
	if u.Description != nil {
		in.Description, present[FieldDescription] = *u.Description, true
	}
	if u.Amount != nil {
		in.Amount, present[FieldAmount] = *u.Amount, true
	}
	if u.Currency != nil {
		in.Currency, present[FieldCurrency] = *u.Currency, true
	}
	if u.Category != nil {
		in.Category, present[FieldCategory] = *u.Category, true
	}
	if u.ExpenseDate != nil {
		in.ExpenseDate, present[FieldExpenseDate] = *u.ExpenseDate, true
	}
	if u.Receipt != nil {
		in.Receipt, present[FieldReceipt] = u.Receipt, true
	}
	return in, present
}

func (r Rules) currencyOf(raw string) money.Currency {
	if strings.TrimSpace(raw) == "" {
		return r.DefaultCurrency
	}
	return money.ParseCurrency(raw)
}

func (r Rules) today() time.Time {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	y, m, d := now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r Rules) description(v *validation.ValidationBuilder, in ClaimInput) {
	v.Field(FieldDescription, in.Description).
		Required().
		MinLength(r.MinDescriptionLen, internal.ErrCodeInvalidDescription).
		MaxLength(r.MaxDescriptionLen, internal.ErrCodeInvalidDescription)
}

func (r Rules) amount(v *validation.ValidationBuilder, in ClaimInput) {
	raw := strings.TrimSpace(in.Amount)
	if raw == "" {
		v.Field(FieldAmount, raw).Required()
		return
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		v.Field(FieldAmount, raw).Custom(internal.ErrCodeInvalidAmount, func(interface{}) string {
			return "amount must be a number"
		})
		return
	}

	f := v.Field(FieldAmount, amount).Positive(internal.ErrCodeInvalidAmount)
	if limit, ok := r.Limits[r.currencyOf(in.Currency)]; ok {
		f.MaxDecimal(limit.Max, internal.ErrCodeAmountTooHigh)
	}
}

func (r Rules) currency(v *validation.ValidationBuilder, in ClaimInput) {
	allowed := make([]string, len(r.Currencies))
	for i, c := range r.Currencies {
		allowed[i] = string(c)
	}
	v.Field(FieldCurrency, string(r.currencyOf(in.Currency))).
		OneOf(allowed, internal.ErrCodeInvalidCurrency)
}

func (r Rules) category(v *validation.ValidationBuilder, in ClaimInput) {
	f := v.Field(FieldCategory, in.Category).Required()
	if len(r.categories) == 0 {
		return
	}
	f.Custom(internal.ErrCodeInvalidCategory, func(value interface{}) string {
		s, _ := value.(string)
		if _, ok := r.categories[strings.ToLower(strings.TrimSpace(s))]; !ok {
			return "category must be one of the available categories"
		}
		return ""
	})
}

func (r Rules) expenseDate(v *validation.ValidationBuilder, in ClaimInput) {
	raw := strings.TrimSpace(in.ExpenseDate)
	if raw == "" {
		v.Field(FieldExpenseDate, raw).As("expense date").Required()
		return
	}

	date, err := time.Parse(DateLayout, raw)
	if err != nil {
		v.Field(FieldExpenseDate, raw).Custom(internal.ErrCodeInvalidDate, func(interface{}) string {
			return "expense date must be a valid date (YYYY-MM-DD)"
		})
		return
	}

	today := r.today()
	v.Field(FieldExpenseDate, date).As("expense date").
		NotAfter(today).
		NotBefore(today.AddDate(0, -r.MaxBackdateMonths, 0), backdateWindow(r.MaxBackdateMonths))
}

// receipt is optional; a present receipt must point at an uploaded file.
func (r Rules) receipt(v *validation.ValidationBuilder, in ClaimInput) {
	if in.Receipt == nil {
		return
	}
	v.Field(FieldReceipt, in.Receipt).Custom(internal.ErrCodeInvalidReceipt, func(value interface{}) string {
		rc := value.(*ReceiptInput)
		if rc.UploadError != "" {
			return "receipt upload failed: " + rc.UploadError
		}
		if strings.TrimSpace(rc.URL) == "" || strings.TrimSpace(rc.Filename) == "" {
			return "receipt must have a url and filename"
		}
		return ""
	})
}

func backdateWindow(months int) string {
	switch {
	case months == 12:
		return "1 year"
	case months%12 == 0:
		return fmt.Sprintf("%d years", months/12)
	case months == 1:
		return "1 month"
	default:
		return fmt.Sprintf("%d months", months)
	}
}
