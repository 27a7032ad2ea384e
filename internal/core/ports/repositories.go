package ports

import (
	"context"
	"time"

	"payment-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
)

// DeliveryRecordRepository persists delivery records. Lookups return nil, nil
// when nothing matches.
type DeliveryRecordRepository interface {
	// Create inserts a new record. A second record with the same
	// (direction, event_id) returns domain.ErrDuplicateEvent.
	Create(ctx context.Context, rec *domain.DeliveryRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryRecord, error)
	GetByEvent(ctx context.Context, direction domain.Direction, eventID string) (*domain.DeliveryRecord, error)

	// ClaimDue atomically moves up to limit due PENDING/RETRYING records,
	// oldest first, to PROCESSING and returns them with fresh claim tokens.
	// Concurrent callers never receive the same record.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.DeliveryRecord, error)
	// Claim claims one specific record regardless of its next attempt time.
	// Returns domain.ErrClaimConflict when it is not claimable.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (*domain.DeliveryRecord, error)
	// SaveAttempt persists the resolved attempt iff the record is still
	// PROCESSING under claimToken, otherwise domain.ErrClaimLost.
	SaveAttempt(ctx context.Context, rec *domain.DeliveryRecord, claimToken uuid.UUID) error
	// ListStaleClaims returns PROCESSING records claimed before cutoff.
	ListStaleClaims(ctx context.Context, cutoff time.Time, limit int) ([]*domain.DeliveryRecord, error)

	ListByState(ctx context.Context, state domain.DeliveryState, limit, offset int) ([]*domain.DeliveryRecord, int64, error)
	// ListExpired returns terminal records in state last updated before cutoff.
	ListExpired(ctx context.Context, state domain.DeliveryState, cutoff time.Time, limit int) ([]*domain.DeliveryRecord, error)
	// DeleteByIDs removes terminal records only and returns the number deleted.
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	CountByState(ctx context.Context) (map[domain.DeliveryState]int64, error)
}

// AuditRepository defines persistence for audit logs.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]domain.AuditLog, error)
}

// DuplicateWindow is the time-boxed store of recently seen event identities.
type DuplicateWindow interface {
	// Reserve inserts entry if its key is absent, atomically. When the key is
	// already present it returns the existing entry and reserved=false.
	Reserve(ctx context.Context, entry domain.DuplicateWindowEntry, ttl time.Duration) (existing *domain.DuplicateWindowEntry, reserved bool, err error)
	Release(ctx context.Context, key string) error
}

// DeadLetterPublisher surfaces FAILED records to operators.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, rec *domain.DeliveryRecord) error
}

// Archiver copies a batch of records to long-term storage before deletion.
type Archiver interface {
	Archive(ctx context.Context, state domain.DeliveryState, records []*domain.DeliveryRecord) error
}
