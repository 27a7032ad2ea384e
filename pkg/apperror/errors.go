package apperror

import (
	"fmt"
	"net/http"

	"payment-webhook-engine/internal/core/domain"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"description"`
	Suggestion string `json:"suggestion,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithSuggestion returns a copy of e carrying a remediation hint.
func (e *AppError) WithSuggestion(s string) *AppError {
	c := *e
	c.Suggestion = s
	return &c
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Webhook intake ----

func ErrSignatureInvalid() *AppError {
	return &AppError{
		Code:       domain.CodeSignatureInvalid,
		Message:    "Webhook signature verification failed",
		Suggestion: "Check that the signature key configured for this endpoint matches the processor's",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// ErrDuplicateEvent is not a failure; it reports an idempotent replay.
func ErrDuplicateEvent() *AppError {
	return New(domain.CodeDuplicateEvent, "Event already received", http.StatusOK)
}

func ErrValidation(message string) *AppError {
	return &AppError{
		Code:       domain.CodeValidationError,
		Message:    message,
		Suggestion: "Send a JSON body with a known event type",
		HTTPStatus: http.StatusBadRequest,
	}
}

// ---- Dispatch ----

func ErrDispatchTransient(err error) *AppError {
	return Wrap(domain.CodeDispatchTransientError, "Delivery attempt failed, will be retried", http.StatusBadGateway, err)
}

func ErrDispatchPermanent(err error) *AppError {
	return Wrap(domain.CodeDispatchPermanentError, "Delivery rejected by target", http.StatusBadGateway, err)
}

func ErrExhaustedRetries() *AppError {
	return New(domain.CodeExhaustedRetries, "Delivery retries exhausted", http.StatusBadGateway)
}

// ---- Ops ----

func ErrNotFound(entity string) *AppError {
	return New("NOT_FOUND", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrConflict(message string) *AppError {
	return New("CONFLICT", message, http.StatusConflict)
}

func ErrInvalidToken() *AppError {
	return New("INVALID_TOKEN", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrRateLimitExceeded() *AppError {
	return New("RATE_LIMIT_EXCEEDED", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System ----

// InternalError wraps an internal error as a 500.
func InternalError(err error) *AppError {
	return Wrap("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError, err)
}
