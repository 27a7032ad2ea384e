package service

import (
	"context"
	"fmt"
	"time"

	"payment-webhook-engine/internal/core/domain"
	"payment-webhook-engine/internal/core/ports"

	"github.com/google/uuid"
)

// DuplicateConfig is the duplicate detection policy.
type DuplicateConfig struct {
	Enabled bool
	Window  time.Duration
}

// duplicateDetector implements ports.DuplicateDetector on top of a DuplicateWindow.
type duplicateDetector struct {
	window ports.DuplicateWindow
	cfg    DuplicateConfig
	now    func() time.Time
}

// NewDuplicateDetector creates a duplicate detector. A disabled detector
// reports every event as new.
func NewDuplicateDetector(window ports.DuplicateWindow, cfg DuplicateConfig) ports.DuplicateDetector {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &duplicateDetector{window: window, cfg: cfg, now: time.Now}
}

func (d *duplicateDetector) Check(ctx context.Context, direction domain.Direction, eventID string, payload []byte, recordID uuid.UUID) (ports.DuplicateCheck, error) {
	key := domain.BuildDuplicateKey(direction, domain.BuildIdentityKey(eventID, payload))
	result := ports.DuplicateCheck{Key: key}
	if !d.cfg.Enabled || d.window == nil {
		return result, nil
	}

	existing, reserved, err := d.window.Reserve(ctx, domain.DuplicateWindowEntry{
		Key:         key,
		RecordID:    recordID,
		FirstSeenAt: d.now().UTC(),
	}, d.cfg.Window)
	if err != nil {
		return result, fmt.Errorf("reserve duplicate window key: %w", err)
	}
	if reserved || existing == nil {
		result.Reserved = reserved
		return result, nil
	}

	result.Duplicate = true
	result.OriginalRecordID = existing.RecordID
	result.FirstSeenAt = existing.FirstSeenAt
	return result, nil
}

func (d *duplicateDetector) Release(ctx context.Context, key string) error {
	if !d.cfg.Enabled || d.window == nil {
		return nil
	}
	if err := d.window.Release(ctx, key); err != nil {
		return fmt.Errorf("release duplicate window key: %w", err)
	}
	return nil
}
