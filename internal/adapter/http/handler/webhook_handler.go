package handler

import (
	"errors"
	"io"
	"net/http"

	"payment-webhook-engine/internal/adapter/http/dto"
	"payment-webhook-engine/internal/adapter/http/middleware"
	"payment-webhook-engine/internal/core/domain"
	"payment-webhook-engine/internal/core/ports"
	"payment-webhook-engine/pkg/apperror"
	"payment-webhook-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// Header names of processor notifications
	HeaderANetSignature = "X-ANET-Signature"
	HeaderSignature     = "X-Signature"
	HeaderEventType     = "X-Event-Type"
	HeaderEventID       = "X-Event-Id"
)

// WebhookHandler handles webhook intake and outbound enqueue endpoints.
type WebhookHandler struct {
	webhookSvc ports.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc ports.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// Inbound handles POST /api/v1/webhooks/inbound. The raw body is passed
// through untouched because the signature covers its exact bytes.
func (h *WebhookHandler) Inbound(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.IntakeFailure(c, apperror.New(domain.CodeValidationError, "Request body too large", http.StatusRequestEntityTooLarge), "")
			return
		}
		response.IntakeFailure(c, apperror.ErrValidation("Cannot read request body"), "")
		return
	}

	signature := c.GetHeader(HeaderANetSignature)
	if signature == "" {
		signature = c.GetHeader(HeaderSignature)
	}

	result, err := h.webhookSvc.HandleInbound(c.Request.Context(), ports.InboundNotification{
		Body:          body,
		Signature:     signature,
		EventType:     c.GetHeader(HeaderEventType),
		EventID:       c.GetHeader(HeaderEventID),
		CorrelationID: response.GetCorrelationID(c),
	})
	if result.EventID != "" {
		c.Set(middleware.CtxEventID, result.EventID)
	}
	if err != nil {
		response.IntakeFailure(c, err, result.EventID)
		return
	}

	status := response.StatusAccepted
	if result.Outcome == ports.IntakeDuplicate {
		status = response.StatusDuplicate
	}
	response.Intake(c, http.StatusOK, status, result.Message, result.EventID)
}

// Outbound handles POST /api/v1/webhooks/outbound.
func (h *WebhookHandler) Outbound(c *gin.Context) {
	var req dto.OutboundEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrValidation(err.Error()))
		return
	}
	eventType, err := domain.ParseEventType(req.EventType)
	if err != nil {
		response.Error(c, apperror.ErrValidation(err.Error()))
		return
	}

	eventID := req.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	c.Set(middleware.CtxEventID, eventID)

	records, err := h.webhookSvc.EnqueueOutbound(c.Request.Context(), ports.OutboundEvent{
		EventType:     eventType,
		EventID:       eventID,
		Payload:       req.Payload,
		CorrelationID: response.GetCorrelationID(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.RecordResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, dto.ToRecordResponse(rec, false))
	}
	response.Created(c, dto.OutboundEnqueueResponse{EventID: eventID, Records: items})
}
