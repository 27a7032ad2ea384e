package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"payment-webhook-engine/internal/core/domain"
	"payment-webhook-engine/internal/core/ports"
	"payment-webhook-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog records successful write calls made by internal callers. Engine
// lifecycle events are audited by the services themselves.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		action := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"operator":  c.GetString(CtxOperator),
			"client_ip": c.ClientIP(),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:            uuid.New(),
			Action:        action,
			EventID:       c.GetString(CtxEventID),
			CorrelationID: c.GetString(response.CorrelationIDKey),
			Details:       string(details),
			CreatedAt:     time.Now().UTC(),
		})
	}
}

func mapRouteToAction(route, method string) domain.AuditAction {
	if route == "/api/v1/webhooks/outbound" && method == http.MethodPost {
		return domain.AuditActionOutboundEnqueued
	}
	return ""
}
