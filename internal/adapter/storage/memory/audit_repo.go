package memory

import (
	"context"
	"slices"
	"sync"

	"payment-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
)

// AuditRepo implements ports.AuditRepository in memory.
type AuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func (r *AuditRepo) Create(_ context.Context, log *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := *log
	if log.RecordID != nil {
		id := *log.RecordID
		entry.RecordID = &id
	}
	r.entries = append(r.entries, entry)
	return nil
}

// ListByRecord returns the trail of recordID, oldest first.
func (r *AuditRepo) ListByRecord(_ context.Context, recordID uuid.UUID) ([]domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditLog
	for _, e := range r.entries {
		if e.RecordID != nil && *e.RecordID == recordID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.AuditLog) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}
