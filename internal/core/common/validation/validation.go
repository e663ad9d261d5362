package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	errors "github.com/frahmantamala/expense-claims/internal"
	"github.com/shopspring/decimal"
)

type ValidatorFunc func(interface{}) *errors.ValidationError

type FieldValidator struct {
	FieldName  string
	Label      string
	Value      interface{}
	Validators []ValidatorFunc
}

// ValidationBuilder evaluates every registered field. The first failing
// rule of a field wins, but all fields are always evaluated.
type ValidationBuilder struct {
	fields []*FieldValidator
}

// Result is the outcome of a validation pass.
type Result struct {
	Valid       bool              `json:"valid"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
	errors      []errors.ValidationError
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{
		fields: make([]*FieldValidator, 0),
	}
}

func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	fv := &FieldValidator{
		FieldName:  name,
		Label:      name,
		Value:      value,
		Validators: make([]ValidatorFunc, 0),
	}
	v.fields = append(v.fields, fv)
	return fv
}

// As sets the human label used in messages, e.g. "expense date".
func (fv *FieldValidator) As(label string) *FieldValidator {
	fv.Label = label
	return fv
}

func (fv *FieldValidator) fail(message string, code errors.ErrorCode) *errors.ValidationError {
	return &errors.ValidationError{Field: fv.FieldName, Message: message, Code: string(code)}
}

func (fv *FieldValidator) Required() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.ValidationError {
		missing := false
		switch v := value.(type) {
		case nil:
			missing = true
		case string:
			missing = strings.TrimSpace(v) == ""
		case *string:
			missing = v == nil || strings.TrimSpace(*v) == ""
		case time.Time:
			missing = v.IsZero()
		}
		if missing {
			return fv.fail(fmt.Sprintf("%s is required", fv.Label), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

// MinLength counts characters of the trimmed value.
func (fv *FieldValidator) MinLength(min int, code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.ValidationError {
		if v, ok := value.(string); ok {
			if utf8.RuneCountInString(strings.TrimSpace(v)) < min {
				return fv.fail(fmt.Sprintf("%s must be at least %d characters", fv.Label, min), code)
			}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MaxLength(max int, code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.ValidationError {
		if v, ok := value.(string); ok {
			if utf8.RuneCountInString(v) > max {
				return fv.fail(fmt.Sprintf("%s must not exceed %d characters", fv.Label, max), code)
			}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Positive(code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.ValidationError {
		if v, ok := value.(decimal.Decimal); ok && !v.IsPositive() {
			return fv.fail(fmt.Sprintf("%s must be greater than 0", fv.Label), code)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MaxDecimal(max decimal.Decimal, code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.ValidationError {
		if v, ok := value.(decimal.Decimal); ok && v.GreaterThan(max) {
			return fv.fail(fmt.Sprintf("%s must not exceed %s", fv.Label, max.StringFixedBank(0)), code)
		}
		return nil
	})
	return fv
}

// OneOf checks string membership in allowed.
func (fv *FieldValidator) OneOf(allowed []string, code errors.ErrorCode) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.ValidationError {
		v, ok := value.(string)
		if !ok {
			return nil
		}
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return fv.fail(fmt.Sprintf("%s must be one of %s", fv.Label, strings.Join(allowed, ", ")), code)
	})
	return fv
}

// NotAfter rejects dates later than the given day.
func (fv *FieldValidator) NotAfter(limit time.Time) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.ValidationError {
		if v, ok := value.(time.Time); ok && !v.IsZero() && v.After(limit) {
			return fv.fail(fmt.Sprintf("%s cannot be in the future", fv.Label), errors.ErrCodeInvalidDate)
		}
		return nil
	})
	return fv
}

// NotBefore rejects dates earlier than the given day.
func (fv *FieldValidator) NotBefore(limit time.Time, window string) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.ValidationError {
		if v, ok := value.(time.Time); ok && !v.IsZero() && v.Before(limit) {
			return fv.fail(fmt.Sprintf("%s cannot be more than %s in the past", fv.Label, window), errors.ErrCodeInvalidDate)
		}
		return nil
	})
	return fv
}

// Custom registers a rule returning a message; empty means valid.
func (fv *FieldValidator) Custom(code errors.ErrorCode, rule func(interface{}) string) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.ValidationError {
		if msg := rule(value); msg != "" {
			return fv.fail(msg, code)
		}
		return nil
	})
	return fv
}

func (v *ValidationBuilder) Run() Result {
	res := Result{Valid: true, FieldErrors: map[string]string{}}

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			if err := validator(field.Value); err != nil {
				res.errors = append(res.errors, *err)
				res.FieldErrors[field.FieldName] = err.Message
				res.Valid = false
				break
			}
		}
	}

	return res
}

// Err converts a failed result to a typed validation error, nil when valid.
func (r Result) Err() *errors.AppError {
	if r.Valid {
		return nil
	}
	return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).
		WithDetails(errors.ValidationErrors{Errors: r.errors})
}
