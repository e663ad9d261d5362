package transport

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	errors "github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/pkg/logger"
	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// BaseHandler provides common functionality for HTTP handlers
type BaseHandler struct {
	Logger *slog.Logger
}

// NewBaseHandler creates a base handler with logger
func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
		if lg == nil {
			lg = slog.Default()
		}
	}
	return &BaseHandler{Logger: lg}
}

// WriteJSON writes a JSON response
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes an untyped error response using the standard envelope.
func (h *BaseHandler) WriteError(w http.ResponseWriter, status int, message string) {
	appErr := &errors.AppError{
		Type:       errors.ErrorTypeInternal,
		Code:       errors.ErrCodeInternal,
		Message:    message,
		StatusCode: status,
	}
	switch {
	case status == http.StatusBadRequest:
		appErr.Type, appErr.Code = errors.ErrorTypeValidation, errors.ErrCodeValidationFailed
	case status == http.StatusUnauthorized:
		appErr.Type, appErr.Code = errors.ErrorTypeUnauthorized, errors.ErrCodeInvalidToken
	case status == http.StatusForbidden:
		appErr.Type, appErr.Code = errors.ErrorTypeForbidden, errors.ErrCodeUnauthorizedAccess
	}
	h.WriteAppError(w, appErr)
}

// HandleServiceError maps any error returned by a service to a response.
func (h *BaseHandler) HandleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.IsAppError(err)
	if !ok {
		logger.From(r.Context()).Error("unhandled service error", "error", err)
		appErr = errors.NewInternalError("Internal server error", err)
	}
	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.From(r.Context()).Error("request failed", "code", appErr.Code, "error", appErr.Cause)
	}
	h.WriteAppError(w, appErr)
}

func (h *BaseHandler) WriteAppError(w http.ResponseWriter, appErr *errors.AppError) {
	status, body := appErr.ToHTTPResponse()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	h.WriteJSON(w, status, body)
}

// DecodeJSON reads the request body into dst, writing a 400 on failure.
func (h *BaseHandler) DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// DecodeAndValidate decodes the body and checks its `validate` tags. An
// empty body decodes to the zero value when allowEmpty is set.
func (h *BaseHandler) DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !(allowEmpty && err == io.EOF) {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		h.WriteAppError(w, structError(err))
		return false
	}
	return true
}

func structError(err error) *errors.AppError {
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.NewValidationError(err.Error(), errors.ErrCodeValidationFailed)
	}
	details := errors.ValidationErrors{}
	for _, fe := range fieldErrs {
		details.Errors = append(details.Errors, errors.ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()),
			Code:    string(errors.ErrCodeValidationFailed),
		})
	}
	return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).WithDetails(details)
}

// PathID parses a numeric chi URL parameter.
func (h *BaseHandler) PathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		h.WriteError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// ExtractTokenFromHeader extracts Bearer token from Authorization header
func (h *BaseHandler) ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
