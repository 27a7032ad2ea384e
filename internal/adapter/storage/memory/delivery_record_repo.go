// Package memory provides process-local implementations of the storage
// ports for development and tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"payment-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
)

// DeliveryRecordRepo implements ports.DeliveryRecordRepository in memory.
// A single mutex makes every claim and save atomic.
type DeliveryRecordRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.DeliveryRecord
}

// NewDeliveryRecordRepo creates an empty repository.
func NewDeliveryRecordRepo() *DeliveryRecordRepo {
	return &DeliveryRecordRepo{records: make(map[uuid.UUID]*domain.DeliveryRecord)}
}

func (r *DeliveryRecordRepo) Create(_ context.Context, rec *domain.DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; ok {
		return domain.ErrDuplicateEvent
	}
	if rec.RedeliveryOf == nil {
		for _, existing := range r.records {
			if existing.RedeliveryOf == nil &&
				existing.Direction == rec.Direction &&
				existing.EventID == rec.EventID &&
				existing.EndpointName() == rec.EndpointName() {
				return domain.ErrDuplicateEvent
			}
		}
	}
	r.records[rec.ID] = rec.Clone()
	return nil
}

func (r *DeliveryRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id].Clone(), nil
}

// GetByEvent returns the earliest original record for the event.
func (r *DeliveryRecordRepo) GetByEvent(_ context.Context, direction domain.Direction, eventID string) (*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *domain.DeliveryRecord
	for _, rec := range r.records {
		if rec.RedeliveryOf != nil || rec.Direction != direction || rec.EventID != eventID {
			continue
		}
		if found == nil || rec.CreatedAt.Before(found.CreatedAt) {
			found = rec
		}
	}
	return found.Clone(), nil
}

func (r *DeliveryRecordRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := r.filter(func(rec *domain.DeliveryRecord) bool { return rec.IsDue(now) })
	slices.SortFunc(due, func(a, b *domain.DeliveryRecord) int {
		if c := a.NextAttemptAt.Compare(*b.NextAttemptAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*domain.DeliveryRecord, 0, len(due))
	for _, rec := range due {
		if err := rec.Claim(now, uuid.New()); err != nil {
			return nil, err
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (r *DeliveryRecordRepo) Claim(_ context.Context, id uuid.UUID, now time.Time) (*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !rec.State.IsClaimable() {
		return nil, domain.ErrClaimConflict
	}
	if err := rec.Claim(now, uuid.New()); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (r *DeliveryRecordRepo) SaveAttempt(_ context.Context, rec *domain.DeliveryRecord, claimToken uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[rec.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.State != domain.DeliveryStateProcessing || stored.ClaimToken == nil || *stored.ClaimToken != claimToken {
		return domain.ErrClaimLost
	}
	r.records[rec.ID] = rec.Clone()
	return nil
}

func (r *DeliveryRecordRepo) ListStaleClaims(_ context.Context, cutoff time.Time, limit int) ([]*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale := r.filter(func(rec *domain.DeliveryRecord) bool {
		return rec.State == domain.DeliveryStateProcessing && rec.ClaimedAt != nil && rec.ClaimedAt.Before(cutoff)
	})
	slices.SortFunc(stale, func(a, b *domain.DeliveryRecord) int { return a.ClaimedAt.Compare(*b.ClaimedAt) })
	return cloneAll(truncate(stale, limit)), nil
}

// ListByState returns records in state, most recently updated first.
func (r *DeliveryRecordRepo) ListByState(_ context.Context, state domain.DeliveryState, limit, offset int) ([]*domain.DeliveryRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := r.filter(func(rec *domain.DeliveryRecord) bool { return rec.State == state })
	slices.SortFunc(matched, func(a, b *domain.DeliveryRecord) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	total := int64(len(matched))
	if offset >= len(matched) {
		return []*domain.DeliveryRecord{}, total, nil
	}
	return cloneAll(truncate(matched[offset:], limit)), total, nil
}

func (r *DeliveryRecordRepo) ListExpired(_ context.Context, state domain.DeliveryState, cutoff time.Time, limit int) ([]*domain.DeliveryRecord, error) {
	if !state.IsTerminal() {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := r.filter(func(rec *domain.DeliveryRecord) bool {
		return rec.State == state && rec.UpdatedAt.Before(cutoff)
	})
	slices.SortFunc(expired, func(a, b *domain.DeliveryRecord) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return cloneAll(truncate(expired, limit)), nil
}

func (r *DeliveryRecordRepo) DeleteByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, id := range ids {
		if rec, ok := r.records[id]; ok && rec.State.IsTerminal() {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

func (r *DeliveryRecordRepo) CountByState(_ context.Context) (map[domain.DeliveryState]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[domain.DeliveryState]int64)
	for _, rec := range r.records {
		counts[rec.State]++
	}
	return counts, nil
}

// filter must be called with mu held. It returns the stored pointers.
func (r *DeliveryRecordRepo) filter(keep func(*domain.DeliveryRecord) bool) []*domain.DeliveryRecord {
	var out []*domain.DeliveryRecord
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func truncate(recs []*domain.DeliveryRecord, limit int) []*domain.DeliveryRecord {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}

func cloneAll(recs []*domain.DeliveryRecord) []*domain.DeliveryRecord {
	out := make([]*domain.DeliveryRecord, len(recs))
	for i, rec := range recs {
		out[i] = rec.Clone()
	}
	return out
}
