package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payment-webhook-engine/internal/core/domain"
	"payment-webhook-engine/internal/core/ports"
	"payment-webhook-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OutboundFanout turns one outbound event into a delivery record per
// subscribed endpoint.
type OutboundFanout struct {
	repo        ports.DeliveryRecordRepository
	registry    *EndpointRegistry
	maxAttempts int
	now         func() time.Time
	log         zerolog.Logger
}

// NewOutboundFanout creates a fan-out over registry's endpoints.
func NewOutboundFanout(repo ports.DeliveryRecordRepository, registry *EndpointRegistry, maxAttempts int, log zerolog.Logger) *OutboundFanout {
	return &OutboundFanout{
		repo:        repo,
		registry:    registry,
		maxAttempts: maxAttempts,
		now:         time.Now,
		log:         log,
	}
}

// Enqueue creates PENDING records for ev. Records that already exist for the
// same event and endpoint are skipped, so re-enqueueing is idempotent.
func (f *OutboundFanout) Enqueue(ctx context.Context, ev ports.OutboundEvent) ([]*domain.DeliveryRecord, error) {
	if !ev.EventType.Valid() {
		return nil, apperror.ErrValidation("unknown event type")
	}
	if !json.Valid(ev.Payload) {
		return nil, apperror.ErrValidation("payload must be valid JSON")
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = uuid.NewString()
	}

	endpoints := f.registry.Subscribed(ev.EventType)
	if len(endpoints) == 0 {
		f.log.Debug().
			Str("event_id", ev.EventID).
			Str("event_type", ev.EventType.String()).
			Str("correlation_id", ev.CorrelationID).
			Msg("no endpoint subscribed, nothing to deliver")
		return nil, nil
	}

	now := f.now()
	created := make([]*domain.DeliveryRecord, 0, len(endpoints))
	for _, ep := range endpoints {
		rec := domain.NewDeliveryRecord(domain.DirectionOutbound, ev.EventID, ev.EventType, ev.Payload, ev.CorrelationID, f.maxAttempts, now)
		rec.Target = &domain.DeliveryTarget{URL: ep.URL, Method: ep.Method, Endpoint: ep.Name}

		if err := f.repo.Create(ctx, rec); err != nil {
			if errors.Is(err, domain.ErrDuplicateEvent) {
				f.log.Debug().
					Str("event_id", ev.EventID).
					Str("endpoint", ep.Name).
					Msg("outbound record already exists, skipping")
				continue
			}
			return created, fmt.Errorf("create outbound record for %s: %w", ep.Name, err)
		}

		f.log.Info().
			Str("record_id", rec.ID.String()).
			Str("event_id", rec.EventID).
			Str("event_type", rec.EventType.String()).
			Str("correlation_id", rec.CorrelationID).
			Str("endpoint", ep.Name).
			Msg("outbound delivery enqueued")
		created = append(created, rec)
	}
	return created, nil
}

// EventForwarder is the default ports.InboundHandler: it relays accepted
// processor events to every merchant endpoint subscribed to their category.
type EventForwarder struct {
	fanout *OutboundFanout
	log    zerolog.Logger
}

// NewEventForwarder creates an inbound handler that forwards through fanout.
func NewEventForwarder(fanout *OutboundFanout, log zerolog.Logger) *EventForwarder {
	return &EventForwarder{fanout: fanout, log: log}
}

// Handle enqueues outbound records for rec. Reusing the inbound event id
// makes a retried Handle a no-op for endpoints already enqueued.
func (f *EventForwarder) Handle(ctx context.Context, rec *domain.DeliveryRecord) error {
	created, err := f.fanout.Enqueue(ctx, ports.OutboundEvent{
		EventType:     rec.EventType,
		EventID:       rec.EventID,
		Payload:       rec.Payload,
		CorrelationID: rec.CorrelationID,
	})
	if err != nil {
		return err
	}
	f.log.Debug().
		Str("record_id", rec.ID.String()).
		Str("event_id", rec.EventID).
		Int("forwarded", len(created)).
		Msg("inbound event forwarded")
	return nil
}
