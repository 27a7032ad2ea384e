package service

import (
	"context"
	"fmt"
	"time"

	"payment-webhook-engine/internal/core/domain"
	"payment-webhook-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SweeperConfig controls terminal record retention. A retention <= 0 keeps
// records of that state forever.
type SweeperConfig struct {
	Enabled            bool
	DeliveredRetention time.Duration
	FailedRetention    time.Duration
	Interval           time.Duration
	BatchSize          int
}

// SweepResult counts the records removed by one sweep.
type SweepResult struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

// Total is the number of records removed.
func (r SweepResult) Total() int64 { return r.Delivered + r.Failed }

// Sweeper deletes DELIVERED and FAILED records past their retention.
type Sweeper struct {
	repo     ports.DeliveryRecordRepository
	archiver ports.Archiver     // optional
	audit    ports.AuditService // optional
	cfg      SweeperConfig
	log      zerolog.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper. archiver and audit may be nil.
func NewSweeper(repo ports.DeliveryRecordRepository, archiver ports.Archiver, audit ports.AuditService, cfg SweeperConfig, log zerolog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Sweeper{
		repo:     repo,
		archiver: archiver,
		audit:    audit,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps on every interval until ctx is cancelled. A disabled sweeper
// just waits for cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info().Msg("cleanup sweeper disabled")
		<-ctx.Done()
		return nil
	}
	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("delivered_retention", s.cfg.DeliveredRetention).
		Dur("failed_retention", s.cfg.FailedRetention).
		Msg("cleanup sweeper started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("cleanup sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("cleanup sweep failed")
			}
		}
	}
}

// SweepOnce removes every expired terminal record. Non-terminal records are
// never touched.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now().UTC()

	n, err := s.sweepState(ctx, domain.DeliveryStateDelivered, now, s.cfg.DeliveredRetention)
	res.Delivered = n
	if err != nil {
		return res, err
	}
	n, err = s.sweepState(ctx, domain.DeliveryStateFailed, now, s.cfg.FailedRetention)
	res.Failed = n
	if err != nil {
		return res, err
	}

	if res.Total() > 0 {
		s.log.Info().
			Int64("delivered", res.Delivered).
			Int64("failed", res.Failed).
			Msg("cleanup sweep removed records")
		if s.audit != nil {
			s.audit.Log(ctx, newAuditEntry(domain.AuditActionRecordsSwept, nil, map[string]any{
				"delivered": res.Delivered,
				"failed":    res.Failed,
			}))
		}
	}
	return res, nil
}

func (s *Sweeper) sweepState(ctx context.Context, state domain.DeliveryState, now time.Time, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-retention)

	var total int64
	for {
		recs, err := s.repo.ListExpired(ctx, state, cutoff, s.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list expired %s records: %w", state, err)
		}
		if len(recs) == 0 {
			return total, nil
		}

		// keep the batch if it could not be archived
		if s.archiver != nil {
			if err := s.archiver.Archive(ctx, state, recs); err != nil {
				return total, fmt.Errorf("archive %d %s records: %w", len(recs), state, err)
			}
		}

		ids := make([]uuid.UUID, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID
		}
		deleted, err := s.repo.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("delete %s records: %w", state, err)
		}
		total += deleted

		if len(recs) < s.cfg.BatchSize || deleted == 0 {
			return total, nil
		}
	}
}
