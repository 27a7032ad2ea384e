package handler

import (
	"strconv"

	"payment-webhook-engine/internal/adapter/http/dto"
	"payment-webhook-engine/internal/core/ports"
	"payment-webhook-engine/pkg/apperror"
	"payment-webhook-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OpsHandler serves the operator endpoints.
type OpsHandler struct {
	webhookSvc ports.WebhookService
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(webhookSvc ports.WebhookService) *OpsHandler {
	return &OpsHandler{webhookSvc: webhookSvc}
}

// GetRecord handles GET /api/v1/ops/records/:id.
func (h *OpsHandler) GetRecord(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrValidation("Record id must be a UUID"))
		return
	}

	detail, err := h.webhookSvc.GetRecord(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToRecordDetailResponse(detail))
}

// ListDeadLetters handles GET /api/v1/ops/dead-letters.
func (h *OpsHandler) ListDeadLetters(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	records, total, err := h.webhookSvc.ListDeadLetters(c.Request.Context(), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.RecordResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, dto.ToRecordResponse(rec, false))
	}
	response.OK(c, dto.DeadLetterListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Redeliver handles POST /api/v1/ops/dead-letters/:id/redeliver.
func (h *OpsHandler) Redeliver(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrValidation("Record id must be a UUID"))
		return
	}

	rec, err := h.webhookSvc.Redeliver(c.Request.Context(), id, response.GetCorrelationID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ToRecordResponse(rec, false))
}

// Stats handles GET /api/v1/ops/stats.
func (h *OpsHandler) Stats(c *gin.Context) {
	stats, err := h.webhookSvc.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToStatsResponse(stats))
}
