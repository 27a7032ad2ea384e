package response

import (
	"errors"
	"net/http"
	"time"

	"payment-webhook-engine/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CorrelationIDKey is the gin context key holding the request correlation id.
const CorrelationIDKey = "correlation_id"

// SuccessResponse is the standard success envelope of the ops API.
type SuccessResponse struct {
	Data          interface{} `json:"data"`
	CorrelationID string      `json:"correlation_id"`
	Timestamp     string      `json:"timestamp"`
}

// ErrorResponse is the standard error envelope of the ops API.
type ErrorResponse struct {
	ErrorCode     string `json:"error_code"`
	Message       string `json:"message"`
	Suggestion    string `json:"suggestion,omitempty"`
	CorrelationID string `json:"correlation_id"`
	Timestamp     string `json:"timestamp"`
}

// Intake statuses.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
	StatusError     = "error"
)

// IntakeResponse is returned to the processor for every inbound notification.
type IntakeResponse struct {
	Status        string       `json:"status"`
	Message       string       `json:"message"`
	EventID       string       `json:"eventId,omitempty"`
	CorrelationID string       `json:"correlationId"`
	Error         *IntakeError `json:"error,omitempty"`
}

// IntakeError details a rejected notification.
type IntakeError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data:          data,
		CorrelationID: GetCorrelationID(c),
		Timestamp:     now(),
	})
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, SuccessResponse{
		Data:          data,
		CorrelationID: GetCorrelationID(c),
		Timestamp:     now(),
	})
}

// Error sends an error response. It checks if err is an *apperror.AppError
// and maps it accordingly, otherwise returns 500.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, ErrorResponse{
			ErrorCode:     appErr.Code,
			Message:       appErr.Message,
			Suggestion:    appErr.Suggestion,
			CorrelationID: GetCorrelationID(c),
			Timestamp:     now(),
		})
		return
	}

	// Unknown error -> 500
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		ErrorCode:     "INTERNAL_ERROR",
		Message:       "Internal server error",
		CorrelationID: GetCorrelationID(c),
		Timestamp:     now(),
	})
}

// Intake sends the intake envelope with the given HTTP status.
func Intake(c *gin.Context, httpStatus int, status, message, eventID string) {
	c.JSON(httpStatus, IntakeResponse{
		Status:        status,
		Message:       message,
		EventID:       eventID,
		CorrelationID: GetCorrelationID(c),
	})
}

// IntakeFailure sends the intake envelope for a rejected notification.
// Non-AppErrors are reported as internal errors.
func IntakeFailure(c *gin.Context, err error, eventID string) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = apperror.InternalError(err)
	}
	status := StatusError
	if appErr.HTTPStatus < http.StatusInternalServerError {
		status = StatusRejected
	}
	c.JSON(appErr.HTTPStatus, IntakeResponse{
		Status:        status,
		Message:       appErr.Message,
		EventID:       eventID,
		CorrelationID: GetCorrelationID(c),
		Error: &IntakeError{
			Code:        appErr.Code,
			Description: appErr.Message,
			Suggestion:  appErr.Suggestion,
			Timestamp:   now(),
		},
	})
}

// GetCorrelationID retrieves the correlation id from context, or generates one.
func GetCorrelationID(c *gin.Context) string {
	if id, exists := c.Get(CorrelationIDKey); exists {
		if s, ok := id.(string); ok && s != "" {
			return s
		}
	}
	return uuid.New().String()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
