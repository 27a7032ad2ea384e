package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited webhook lifecycle event.
type AuditAction string

const (
	AuditActionInboundAccepted     AuditAction = "INBOUND_ACCEPTED"
	AuditActionSignatureRejected   AuditAction = "SIGNATURE_REJECTED"
	AuditActionDeadLettered        AuditAction = "DEAD_LETTERED"
	AuditActionRedeliveryRequested AuditAction = "REDELIVERY_REQUESTED"
	AuditActionRecordsSwept        AuditAction = "RECORDS_SWEPT"
	AuditActionStaleClaimRecovered AuditAction = "STALE_CLAIM_RECOVERED"
	AuditActionOutboundEnqueued    AuditAction = "OUTBOUND_ENQUEUED"
)

// AuditLog records a single audited action in the engine.
type AuditLog struct {
	ID            uuid.UUID   `json:"id"`
	RecordID      *uuid.UUID  `json:"record_id,omitempty"`
	Action        AuditAction `json:"action"`
	EventID       string      `json:"event_id,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Details       string      `json:"details,omitempty"` // JSON string
	CreatedAt     time.Time   `json:"created_at"`
}
