package memory

import (
	"context"
	"sync"
	"time"

	"payment-webhook-engine/internal/core/domain"
)

type windowEntry struct {
	entry     domain.DuplicateWindowEntry
	expiresAt time.Time
}

// DuplicateWindow implements ports.DuplicateWindow with a mutex-guarded map.
// Expired keys are evicted lazily on access and by a periodic full sweep.
type DuplicateWindow struct {
	mu        sync.Mutex
	entries   map[string]windowEntry
	lastSweep time.Time
	now       func() time.Time
}

// NewDuplicateWindow creates an empty window.
func NewDuplicateWindow() *DuplicateWindow {
	return &DuplicateWindow{
		entries: make(map[string]windowEntry),
		now:     time.Now,
	}
}

func (w *DuplicateWindow) Reserve(_ context.Context, entry domain.DuplicateWindowEntry, ttl time.Duration) (*domain.DuplicateWindowEntry, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if now.Sub(w.lastSweep) >= ttl {
		for k, e := range w.entries {
			if !now.Before(e.expiresAt) {
				delete(w.entries, k)
			}
		}
		w.lastSweep = now
	}

	if existing, ok := w.entries[entry.Key]; ok && now.Before(existing.expiresAt) {
		e := existing.entry
		return &e, false, nil
	}
	w.entries[entry.Key] = windowEntry{entry: entry, expiresAt: now.Add(ttl)}
	return nil, true, nil
}

func (w *DuplicateWindow) Release(_ context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, key)
	return nil
}

// Len returns the number of live and not yet evicted keys.
func (w *DuplicateWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
