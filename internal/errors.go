package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount      ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidDescription ErrorCode = "INVALID_DESCRIPTION"
	ErrCodeInvalidCategory    ErrorCode = "INVALID_CATEGORY"
	ErrCodeInvalidCurrency    ErrorCode = "INVALID_CURRENCY"
	ErrCodeInvalidDate        ErrorCode = "INVALID_DATE"
	ErrCodeInvalidReceipt     ErrorCode = "INVALID_RECEIPT"
	ErrCodeReasonRequired     ErrorCode = "REASON_REQUIRED"
	ErrCodeAmountTooHigh      ErrorCode = "AMOUNT_TOO_HIGH"

	ErrCodeExpenseNotFound     ErrorCode = "EXPENSE_NOT_FOUND"
	ErrCodeUnauthorizedAccess  ErrorCode = "UNAUTHORIZED_ACCESS"
	ErrCodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrCodeCannotModifyExpense ErrorCode = "CANNOT_MODIFY_EXPENSE"
	ErrCodeClaimBusy           ErrorCode = "CLAIM_BUSY"

	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeUserInactive       ErrorCode = "USER_INACTIVE"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
	ErrCodeSessionExpired     ErrorCode = "SESSION_EXPIRED"
	ErrCodeUserNotFound       ErrorCode = "USER_NOT_FOUND"

	ErrCodePaymentNotFound ErrorCode = "PAYMENT_NOT_FOUND"

	ErrCodeUploadFailed   ErrorCode = "UPLOAD_FAILED"
	ErrCodeTransportError ErrorCode = "TRANSPORT_ERROR"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeRouteNotFound  ErrorCode = "ROUTE_NOT_FOUND"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so that freshly built errors compare equal to the
// package sentinels below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// FieldErrors flattens validation details into field -> message.
func (e *AppError) FieldErrors() map[string]string {
	out := map[string]string{}
	if ve, ok := e.Details.(ValidationErrors); ok {
		for _, fe := range ve.Errors {
			if _, seen := out[fe.Field]; !seen {
				out[fe.Field] = fe.Message
			}
		}
	}
	return out
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NewValidationFieldError reports one bad field under its own code.
func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       ErrCodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewExternalError(message string, code ErrorCode, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewInvalidTransitionError reports an action that is illegal from the
// claim's current status.
func NewInvalidTransitionError(action, status string) *AppError {
	return NewConflictError(
		fmt.Sprintf("expense has already been processed (status %s), cannot %s", status, action),
		ErrCodeInvalidTransition,
	)
}

var (
	ErrExpenseNotFound     = NewNotFoundError("Expense not found", ErrCodeExpenseNotFound)
	ErrUnauthorizedAccess  = NewForbiddenError("unauthorized access to expense", ErrCodeUnauthorizedAccess)
	ErrInvalidTransition   = NewConflictError("expense has already been processed", ErrCodeInvalidTransition)
	ErrCannotModifyExpense = NewConflictError("Cannot modify expense in current status", ErrCodeCannotModifyExpense)
	ErrClaimBusy           = NewConflictError("another change to this expense is in progress", ErrCodeClaimBusy)
	ErrValidationFailed    = NewValidationError("Validation failed", ErrCodeValidationFailed)

	ErrInvalidCredentials = NewUnauthorizedError("Invalid email or password", ErrCodeInvalidCredentials)
	ErrUserInactive       = NewForbiddenError("User account is inactive", ErrCodeUserInactive)
	ErrInvalidToken       = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired       = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
	ErrSessionExpired     = NewUnauthorizedError("Session expired, please sign in again", ErrCodeSessionExpired)

	ErrUploadFailed   = NewExternalError("Receipt upload failed", ErrCodeUploadFailed, nil)
	ErrTransportError = NewExternalError("Request failed, please try again", ErrCodeTransportError, nil)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

type wireError struct {
	Type    ErrorType         `json:"type"`
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Details *ValidationErrors `json:"details,omitempty"`
}

// ErrorFromStatus rebuilds a typed error from a non-2xx backend response.
// Bodies that are not a Response envelope fall back to a status mapping.
func ErrorFromStatus(status int, body []byte) *AppError {
	var env struct {
		Error *wireError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Code != "" {
		appErr := &AppError{
			Type:       env.Error.Type,
			Code:       env.Error.Code,
			Message:    env.Error.Message,
			StatusCode: status,
		}
		if env.Error.Details != nil {
			appErr.Details = *env.Error.Details
		}
		if status == http.StatusUnauthorized && appErr.Code != ErrCodeInvalidCredentials {
			appErr = ErrSessionExpired.WithCause(appErr)
		}
		return appErr
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return NewValidationError(strings.TrimSpace(string(body)), ErrCodeValidationFailed)
	case http.StatusUnauthorized:
		return ErrSessionExpired
	case http.StatusForbidden:
		return ErrUnauthorizedAccess
	case http.StatusNotFound:
		return ErrExpenseNotFound
	case http.StatusConflict:
		return ErrInvalidTransition
	}
	return ErrTransportError.WithCause(fmt.Errorf("unexpected status %d", status))
}
