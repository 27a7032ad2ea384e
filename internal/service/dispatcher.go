package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"payment-webhook-engine/internal/core/domain"
	"payment-webhook-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var errClaimTimedOut = errors.New("claim timed out before the attempt resolved")

// DispatcherConfig sizes and paces the delivery worker pool.
type DispatcherConfig struct {
	Workers           int
	PollInterval      time.Duration
	BatchSize         int
	ClaimTimeout      time.Duration
	DispatchTimeout   time.Duration // outbound HTTP attempt
	ProcessingTimeout time.Duration // inbound handler attempt
	RetryClientErrors bool
}

// claimTimeoutMargin covers persisting the outcome after an attempt times out.
const claimTimeoutMargin = 30 * time.Second

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 30 * time.Second
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = 30 * time.Second
	}
	// a claim must outlive the attempt holding it
	if floor := max(c.DispatchTimeout, c.ProcessingTimeout) + claimTimeoutMargin; c.ClaimTimeout < floor {
		c.ClaimTimeout = floor
	}
	return c
}

// Dispatcher claims due delivery records and runs one attempt per claim.
// It implements ports.RecordDispatcher.
type Dispatcher struct {
	repo        ports.DeliveryRecordRepository
	sender      ports.OutboundSender
	handler     ports.InboundHandler
	scheduler   ports.RetryScheduler
	deadLetters ports.DeadLetterPublisher // optional
	audit       ports.AuditService        // optional
	cfg         DispatcherConfig
	log         zerolog.Logger
	now         func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup
}

// DispatcherDeps holds the collaborators of a Dispatcher.
type DispatcherDeps struct {
	Repo        ports.DeliveryRecordRepository
	Sender      ports.OutboundSender
	Handler     ports.InboundHandler
	Scheduler   ports.RetryScheduler
	DeadLetters ports.DeadLetterPublisher
	Audit       ports.AuditService
	Logger      zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig) *Dispatcher {
	requested := cfg.ClaimTimeout
	cfg = cfg.withDefaults()
	if requested > 0 && requested != cfg.ClaimTimeout {
		deps.Logger.Warn().
			Dur("requested", requested).
			Dur("claim_timeout", cfg.ClaimTimeout).
			Msg("claim timeout raised above the longest attempt timeout")
	}
	return &Dispatcher{
		repo:        deps.Repo,
		sender:      deps.Sender,
		handler:     deps.Handler,
		scheduler:   deps.Scheduler,
		deadLetters: deps.DeadLetters,
		audit:       deps.Audit,
		cfg:         cfg,
		log:         deps.Logger,
		now:         time.Now,
		sem:         make(chan struct{}, cfg.Workers),
	}
}

// Run polls for due records until ctx is cancelled, then waits for in-flight
// attempts to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().
		Int("workers", d.cfg.Workers).
		Dur("poll_interval", d.cfg.PollInterval).
		Int("batch_size", d.cfg.BatchSize).
		Dur("claim_timeout", d.cfg.ClaimTimeout).
		Msg("dispatcher started")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopping, waiting for in-flight attempts")
			d.wg.Wait()
			d.log.Info().Msg("dispatcher stopped")
			return nil
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick recovers stale claims and dispatches due records until the backlog
// is drained or every worker is busy.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.RecoverStaleClaims(ctx)
	for ctx.Err() == nil {
		limit := min(d.cfg.BatchSize, cap(d.sem)-len(d.sem))
		if limit <= 0 {
			return
		}
		recs, err := d.repo.ClaimDue(ctx, d.now().UTC(), limit)
		if err != nil {
			if ctx.Err() == nil {
				d.log.Error().Err(err).Msg("claim due records failed")
			}
			return
		}
		for _, rec := range recs {
			d.sem <- struct{}{}
			d.wg.Add(1)
			go func(rec *domain.DeliveryRecord) {
				defer func() {
					<-d.sem
					d.wg.Done()
				}()
				d.process(ctx, rec)
			}(rec)
		}
		if len(recs) < limit {
			return
		}
	}
}

// DispatchNow claims record id and runs its attempt on the calling goroutine.
func (d *Dispatcher) DispatchNow(ctx context.Context, id uuid.UUID) (*domain.DeliveryRecord, error) {
	d.wg.Add(1)
	defer d.wg.Done()

	rec, err := d.repo.Claim(ctx, id, d.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("claim record %s: %w", id, err)
	}
	d.process(ctx, rec)
	return rec, nil
}

// Wait blocks until all in-flight attempts have resolved.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// RecoverStaleClaims resolves PROCESSING records whose claim outlived the
// claim timeout as failed attempts.
func (d *Dispatcher) RecoverStaleClaims(ctx context.Context) int {
	now := d.now().UTC()
	stale, err := d.repo.ListStaleClaims(ctx, now.Add(-d.cfg.ClaimTimeout), d.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Error().Err(err).Msg("list stale claims failed")
		}
		return 0
	}

	recovered := 0
	for _, rec := range stale {
		if rec.ClaimToken == nil {
			continue
		}
		token := *rec.ClaimToken
		d.logFor(d.log.Warn(), rec).
			Time("claimed_at", derefTime(rec.ClaimedAt)).
			Msg("recovering stale claim")
		if d.resolve(ctx, rec, token, domain.AttemptOutcome{}, domain.TransientDispatchError(0, errClaimTimedOut)) {
			recovered++
			if d.audit != nil {
				d.audit.Log(ctx, newAuditEntry(domain.AuditActionStaleClaimRecovered, rec, map[string]any{
					"state":    rec.State,
					"attempts": rec.Attempts,
				}))
			}
		}
	}
	return recovered
}

// process runs the attempt on a context detached from shutdown, bounded by
// the attempt timeout.
func (d *Dispatcher) process(parent context.Context, rec *domain.DeliveryRecord) {
	if rec.ClaimToken == nil {
		d.logFor(d.log.Error(), rec).Msg("claimed record without claim token")
		return
	}
	token := *rec.ClaimToken

	timeout := d.cfg.DispatchTimeout
	if rec.Direction == domain.DirectionInbound {
		timeout = d.cfg.ProcessingTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
	defer cancel()

	d.logFor(d.log.Debug(), rec).Msg("dispatching")
	outcome, err := d.attempt(ctx, rec)

	// persist even if the attempt consumed the whole timeout
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
	defer saveCancel()
	d.resolve(saveCtx, rec, token, outcome, err)
}

func (d *Dispatcher) attempt(ctx context.Context, rec *domain.DeliveryRecord) (domain.AttemptOutcome, error) {
	switch rec.Direction {
	case domain.DirectionOutbound:
		if d.sender == nil {
			return domain.AttemptOutcome{}, domain.PermanentDispatchError(0, errors.New("no outbound sender configured"))
		}
		return d.sender.Send(ctx, rec)
	case domain.DirectionInbound:
		if d.handler == nil {
			return domain.AttemptOutcome{}, nil
		}
		if err := d.handler.Handle(ctx, rec.Clone()); err != nil {
			var de *domain.DispatchError
			if errors.As(err, &de) {
				return domain.AttemptOutcome{}, de
			}
			return domain.AttemptOutcome{}, domain.TransientDispatchError(0, err)
		}
		return domain.AttemptOutcome{}, nil
	default:
		return domain.AttemptOutcome{}, domain.PermanentDispatchError(0, fmt.Errorf("unknown direction %q", rec.Direction))
	}
}

// resolve applies the attempt result to rec and persists it under token.
// It reports whether the transition was saved.
func (d *Dispatcher) resolve(ctx context.Context, rec *domain.DeliveryRecord, token uuid.UUID, outcome domain.AttemptOutcome, attemptErr error) bool {
	now := d.now().UTC()
	deadLettered := false

	var err error
	if attemptErr == nil {
		err = rec.MarkDelivered(now, outcome)
	} else {
		var de *domain.DispatchError
		if !errors.As(attemptErr, &de) {
			de = domain.TransientDispatchError(0, attemptErr)
		}
		outcome.Err = attemptErr.Error()
		outcome.ErrCode = de.Code
		if outcome.StatusCode == nil && de.StatusCode != 0 {
			code := de.StatusCode
			outcome.StatusCode = &code
		}

		retryable := de.Retryable || (d.cfg.RetryClientErrors && de.StatusCode >= 400 && de.StatusCode < 500)
		switch {
		case retryable && !rec.ExhaustsRetries():
			err = rec.MarkRetrying(now, outcome, d.scheduler.NextAttemptAt(now, rec.Attempts+1))
		default:
			if retryable {
				outcome.ErrCode = domain.CodeExhaustedRetries
			}
			err = rec.MarkFailed(now, outcome)
			deadLettered = true
		}
	}
	if err != nil {
		d.logFor(d.log.Error(), rec).Err(err).Msg("illegal delivery transition")
		return false
	}

	if err := d.repo.SaveAttempt(ctx, rec, token); err != nil {
		if errors.Is(err, domain.ErrClaimLost) {
			d.logFor(d.log.Warn(), rec).Msg("claim lost before attempt was saved, discarding result")
		} else {
			d.logFor(d.log.Error(), rec).Err(err).Msg("failed to persist attempt")
		}
		return false
	}

	switch rec.State {
	case domain.DeliveryStateDelivered:
		d.logFor(d.log.Info(), rec).Msg("delivery succeeded")
	case domain.DeliveryStateRetrying:
		d.logFor(d.log.Warn(), rec).
			Str("error_code", outcome.ErrCode).
			Str("error", outcome.Err).
			Time("next_attempt_at", derefTime(rec.NextAttemptAt)).
			Msg("delivery attempt failed, retry scheduled")
	}
	if deadLettered {
		d.surfaceDeadLetter(ctx, rec)
	}
	return true
}

func (d *Dispatcher) surfaceDeadLetter(ctx context.Context, rec *domain.DeliveryRecord) {
	d.logFor(d.log.Error(), rec).
		Str("error_code", derefString(rec.LastErrorCode)).
		Str("error", derefString(rec.LastError)).
		Msg("delivery dead-lettered")

	if d.deadLetters != nil {
		if err := d.deadLetters.Publish(ctx, rec); err != nil {
			d.logFor(d.log.Warn(), rec).Err(err).Msg("failed to publish dead letter")
		}
	}
	if d.audit != nil {
		d.audit.Log(ctx, newAuditEntry(domain.AuditActionDeadLettered, rec, map[string]any{
			"attempts":   rec.Attempts,
			"error_code": derefString(rec.LastErrorCode),
		}))
	}
}

func (d *Dispatcher) logFor(ev *zerolog.Event, rec *domain.DeliveryRecord) *zerolog.Event {
	return ev.
		Str("record_id", rec.ID.String()).
		Str("event_id", rec.EventID).
		Str("event_type", rec.EventType.String()).
		Str("direction", string(rec.Direction)).
		Str("correlation_id", rec.CorrelationID).
		Int("attempt", attemptNumber(rec))
}

// attemptNumber is the 1-based number of the current or just-resolved attempt.
func attemptNumber(rec *domain.DeliveryRecord) int {
	if rec.State == domain.DeliveryStateProcessing || rec.State == domain.DeliveryStatePending {
		return rec.Attempts + 1
	}
	return rec.Attempts
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
