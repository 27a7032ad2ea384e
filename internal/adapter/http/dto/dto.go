package dto

import (
	"encoding/json"
	"time"

	"payment-webhook-engine/internal/core/domain"
	"payment-webhook-engine/internal/core/ports"
)

// OutboundEventRequest is the request body for enqueueing an outbound event.
type OutboundEventRequest struct {
	EventType string          `json:"eventType" binding:"required,event_type"`
	EventID   string          `json:"eventId,omitempty" binding:"omitempty,max=128,safe_id"`
	Payload   json.RawMessage `json:"payload" binding:"required"`
}

// OutboundEnqueueResponse lists the records created for an outbound event.
type OutboundEnqueueResponse struct {
	EventID string           `json:"event_id"`
	Records []RecordResponse `json:"records"`
}

// RecordResponse is the ops view of a delivery record.
type RecordResponse struct {
	ID             string          `json:"id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	Direction      string          `json:"direction"`
	Endpoint       string          `json:"endpoint,omitempty"`
	TargetURL      string          `json:"target_url,omitempty"`
	State          string          `json:"state"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	NextAttemptAt  *string         `json:"next_attempt_at,omitempty"`
	DeliveredAt    *string         `json:"delivered_at,omitempty"`
	LastStatusCode *int            `json:"last_status_code,omitempty"`
	LastErrorCode  *string         `json:"last_error_code,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	RedeliveryOf   *string         `json:"redelivery_of,omitempty"`
	CorrelationID  string          `json:"correlation_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// AuditEntryResponse is one entry of a record's audit trail.
type AuditEntryResponse struct {
	Action        string          `json:"action"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

// RecordDetailResponse is a record with its audit trail.
type RecordDetailResponse struct {
	Record RecordResponse       `json:"record"`
	Audit  []AuditEntryResponse `json:"audit"`
}

// DeadLetterListResponse wraps a page of FAILED records.
type DeadLetterListResponse struct {
	Items  []RecordResponse `json:"items"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// StatsResponse summarises records by state.
type StatsResponse struct {
	ByState     map[string]int64 `json:"by_state"`
	Total       int64            `json:"total"`
	RetryLadder []string         `json:"retry_ladder"`
}

// ToRecordResponse converts a domain record. Payloads are only included
// when withPayload is set.
func ToRecordResponse(rec *domain.DeliveryRecord, withPayload bool) RecordResponse {
	resp := RecordResponse{
		ID:             rec.ID.String(),
		EventID:        rec.EventID,
		EventType:      rec.EventType.String(),
		Direction:      string(rec.Direction),
		Endpoint:       rec.EndpointName(),
		State:          string(rec.State),
		Attempts:       rec.Attempts,
		MaxAttempts:    rec.MaxAttempts,
		NextAttemptAt:  formatTime(rec.NextAttemptAt),
		DeliveredAt:    formatTime(rec.DeliveredAt),
		LastStatusCode: rec.LastStatusCode,
		LastErrorCode:  rec.LastErrorCode,
		LastError:      rec.LastError,
		CorrelationID:  rec.CorrelationID,
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.Target != nil {
		resp.TargetURL = rec.Target.URL
	}
	if rec.RedeliveryOf != nil {
		s := rec.RedeliveryOf.String()
		resp.RedeliveryOf = &s
	}
	if withPayload {
		resp.Payload = rec.Payload
	}
	return resp
}

// ToRecordDetailResponse converts a record with its audit trail.
func ToRecordDetailResponse(detail *ports.RecordDetail) RecordDetailResponse {
	audit := make([]AuditEntryResponse, 0, len(detail.Audit))
	for _, entry := range detail.Audit {
		item := AuditEntryResponse{
			Action:        string(entry.Action),
			CorrelationID: entry.CorrelationID,
			CreatedAt:     entry.CreatedAt.Format(time.RFC3339),
		}
		if entry.Details != "" && json.Valid([]byte(entry.Details)) {
			item.Details = json.RawMessage(entry.Details)
		}
		audit = append(audit, item)
	}
	return RecordDetailResponse{
		Record: ToRecordResponse(detail.Record, true),
		Audit:  audit,
	}
}

// ToStatsResponse converts delivery stats.
func ToStatsResponse(stats *ports.DeliveryStats) StatsResponse {
	resp := StatsResponse{
		ByState:     make(map[string]int64, len(stats.ByState)),
		Total:       stats.Total,
		RetryLadder: make([]string, 0, len(stats.RetryLadder)),
	}
	for state, n := range stats.ByState {
		resp.ByState[string(state)] = n
	}
	for _, d := range stats.RetryLadder {
		resp.RetryLadder = append(resp.RetryLadder, d.String())
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
