package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("delivery record not found")
	ErrInvalidTransition = errors.New("invalid delivery state transition")
	ErrClaimConflict     = errors.New("delivery record is not claimable")
	ErrClaimLost         = errors.New("delivery record claim no longer held")
	ErrDuplicateEvent    = errors.New("event already recorded")
	ErrUnknownEventType  = errors.New("unknown event type")
)

// Error codes of the webhook error taxonomy.
const (
	CodeSignatureInvalid       = "SIGNATURE_INVALID"
	CodeDuplicateEvent         = "DUPLICATE_EVENT"
	CodeValidationError        = "VALIDATION_ERROR"
	CodeDispatchTransientError = "DISPATCH_TRANSIENT_ERROR"
	CodeDispatchPermanentError = "DISPATCH_PERMANENT_ERROR"
	CodeExhaustedRetries       = "EXHAUSTED_RETRIES"
)

// DispatchError is a classified failure of a single delivery attempt.
type DispatchError struct {
	Code       string
	Retryable  bool
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Code, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// TransientDispatchError wraps a retryable failure (timeout, 5xx, connection).
func TransientDispatchError(statusCode int, err error) *DispatchError {
	return &DispatchError{Code: CodeDispatchTransientError, Retryable: true, StatusCode: statusCode, Err: err}
}

// PermanentDispatchError wraps a failure retry cannot remedy (4xx, bad target).
func PermanentDispatchError(statusCode int, err error) *DispatchError {
	return &DispatchError{Code: CodeDispatchPermanentError, Retryable: false, StatusCode: statusCode, Err: err}
}
