package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"payment-webhook-engine/internal/core/domain"
	"payment-webhook-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditService implements ports.AuditService.
type AuditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger
	wg   sync.WaitGroup
}

// NewAuditService creates a new audit service.
// If repo is nil, audit logs are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditService {
	return &AuditService{repo: repo, log: log}
}

// Log records an audit entry asynchronously (fire-and-forget).
func (s *AuditService) Log(ctx context.Context, entry *domain.AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ev := s.log.Info().
			Str("action", string(entry.Action)).
			Str("event_id", entry.EventID).
			Str("correlation_id", entry.CorrelationID)
		if entry.RecordID != nil {
			ev = ev.Str("record_id", entry.RecordID.String())
		}
		ev.Msg("audit")

		if s.repo != nil {
			if err := s.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
				s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
			}
		}
	}()
}

// Wait blocks until every pending entry has been written.
func (s *AuditService) Wait() {
	s.wg.Wait()
}

// newAuditEntry builds an entry for rec with details marshalled to JSON.
func newAuditEntry(action domain.AuditAction, rec *domain.DeliveryRecord, details map[string]any) *domain.AuditLog {
	entry := &domain.AuditLog{
		ID:        uuid.New(),
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
	if rec != nil {
		id := rec.ID
		entry.RecordID = &id
		entry.EventID = rec.EventID
		entry.CorrelationID = rec.CorrelationID
	}
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = string(b)
		}
	}
	return entry
}
