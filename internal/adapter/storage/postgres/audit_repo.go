package postgres

import (
	"context"
	"fmt"

	"payment-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
)

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	pool Pool
}

// NewAuditRepo creates a PostgreSQL-backed audit repository.
func NewAuditRepo(pool Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO webhook_audit_logs (id, record_id, action, event_id, correlation_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		log.ID, log.RecordID, string(log.Action), log.EventID, log.CorrelationID,
		nullIfEmpty(log.Details), log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListByRecord returns the audit trail of a record, oldest first.
func (r *AuditRepo) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]domain.AuditLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, record_id, action, event_id, correlation_id, details, created_at
		 FROM webhook_audit_logs
		 WHERE record_id = $1
		 ORDER BY created_at`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		var action string
		var details *string
		if err := rows.Scan(&l.ID, &l.RecordID, &action, &l.EventID, &l.CorrelationID, &details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		l.Action = domain.AuditAction(action)
		if details != nil {
			l.Details = *details
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
