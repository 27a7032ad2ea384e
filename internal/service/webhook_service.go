package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payment-webhook-engine/internal/core/domain"
	"payment-webhook-engine/internal/core/ports"
	"payment-webhook-engine/pkg/apperror"
	"payment-webhook-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultDeadLetterPage = 50
	maxDeadLetterPage     = 500
)

// notificationEnvelope is the subset of a processor notification body the
// intake needs. Everything else is stored verbatim. Fields stay raw so ids
// sent as numbers are read rather than silently dropped.
type notificationEnvelope struct {
	NotificationID json.RawMessage `json:"notificationId"`
	EventID        json.RawMessage `json:"eventId"`
	EventType      json.RawMessage `json:"eventType"`
}

// WebhookServiceDeps holds the collaborators of the webhook service.
type WebhookServiceDeps struct {
	Repo        ports.DeliveryRecordRepository
	AuditRepo   ports.AuditRepository // optional, serves audit trails
	Signer      ports.SignatureService
	Duplicates  ports.DuplicateDetector // optional
	Dispatcher  ports.RecordDispatcher  // optional, processes accepted events inline
	Fanout      *OutboundFanout
	Scheduler   ports.RetryScheduler
	Audit       ports.AuditService // optional
	MaxAttempts int
	Logger      zerolog.Logger
}

// webhookService implements ports.WebhookService.
type webhookService struct {
	repo        ports.DeliveryRecordRepository
	auditRepo   ports.AuditRepository
	signer      ports.SignatureService
	duplicates  ports.DuplicateDetector
	dispatcher  ports.RecordDispatcher
	fanout      *OutboundFanout
	scheduler   ports.RetryScheduler
	audit       ports.AuditService
	maxAttempts int
	log         zerolog.Logger
	now         func() time.Time
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(deps WebhookServiceDeps) ports.WebhookService {
	return &webhookService{
		repo:        deps.Repo,
		auditRepo:   deps.AuditRepo,
		signer:      deps.Signer,
		duplicates:  deps.Duplicates,
		dispatcher:  deps.Dispatcher,
		fanout:      deps.Fanout,
		scheduler:   deps.Scheduler,
		audit:       deps.Audit,
		maxAttempts: deps.MaxAttempts,
		log:         deps.Logger,
		now:         time.Now,
	}
}

// HandleInbound verifies, deduplicates and persists a processor notification,
// then dispatches it inline. A non-nil error is always an *apperror.AppError
// matching the result's outcome.
func (s *webhookService) HandleInbound(ctx context.Context, n ports.InboundNotification) (ports.IntakeResult, error) {
	corr := n.CorrelationID
	if corr == "" {
		corr = uuid.NewString()
	}
	log := logger.WithCorrelation(s.log, corr)
	result := ports.IntakeResult{EventID: n.EventID, CorrelationID: corr}

	// 1. Signature over the raw body.
	if !s.signer.Verify(n.Body, n.Signature) {
		log.Warn().
			Str("event_id", n.EventID).
			Bool("signature_present", n.Signature != "").
			Msg("inbound webhook signature rejected")
		if s.audit != nil {
			s.audit.Log(ctx, &domain.AuditLog{
				Action:        domain.AuditActionSignatureRejected,
				EventID:       n.EventID,
				CorrelationID: corr,
			})
		}
		appErr := apperror.ErrSignatureInvalid()
		return s.failed(result, ports.IntakeSignatureInvalid, appErr), appErr
	}

	// 2. Event identity and type.
	eventType, eventID, appErr := parseNotification(n)
	if appErr != nil {
		log.Warn().Str("event_id", n.EventID).Str("reason", appErr.Message).Msg("inbound webhook rejected")
		return s.failed(result, ports.IntakeProcessingError, appErr), appErr
	}
	result.EventID = eventID

	rec := domain.NewDeliveryRecord(domain.DirectionInbound, eventID, eventType, n.Body, corr, s.maxAttempts, s.now())
	log = log.With().Str("event_id", eventID).Str("event_type", eventType.String()).Logger()

	// 3. Duplicate window.
	var (
		dupKey   string
		reserved bool
	)
	if s.duplicates != nil {
		check, err := s.duplicates.Check(ctx, domain.DirectionInbound, eventID, n.Body, rec.ID)
		if err != nil {
			// the unique constraint still rejects a real duplicate below
			log.Warn().Err(err).Msg("duplicate window unavailable, relying on store constraint")
		} else {
			dupKey = check.Key
			reserved = check.Reserved
		}
		if check.Duplicate {
			original, err := s.originalRecord(ctx, check.OriginalRecordID, eventID)
			if err != nil {
				log.Error().Err(err).Msg("failed to load original of duplicate event")
			}
			log.Info().
				Str("original_record_id", check.OriginalRecordID.String()).
				Time("first_seen_at", check.FirstSeenAt).
				Msg("duplicate inbound event")
			return s.duplicate(result, original), nil
		}
	}

	// 4. Persist. A store conflict on a key the window just reserved means
	// the original fell out of the window, so the event is taken as new.
	err := s.repo.Create(ctx, rec)
	if reserved && errors.Is(err, domain.ErrDuplicateEvent) {
		err = s.persistResubmission(ctx, log, rec)
	}
	if err != nil {
		s.release(ctx, log, dupKey)
		if errors.Is(err, domain.ErrDuplicateEvent) {
			original, gerr := s.repo.GetByEvent(ctx, domain.DirectionInbound, eventID)
			if gerr != nil {
				log.Error().Err(gerr).Msg("failed to load original of duplicate event")
			}
			log.Info().Msg("duplicate inbound event rejected by store")
			return s.duplicate(result, original), nil
		}
		log.Error().Err(err).Msg("failed to persist inbound webhook")
		appErr := apperror.InternalError(fmt.Errorf("persist inbound record: %w", err))
		return s.failed(result, ports.IntakeProcessingError, appErr), appErr
	}

	log.Info().Str("record_id", rec.ID.String()).Msg("inbound webhook accepted")
	if s.audit != nil {
		s.audit.Log(ctx, newAuditEntry(domain.AuditActionInboundAccepted, rec, nil))
	}

	// 5. Inline dispatch. Failures are retried by the dispatcher loop.
	if s.dispatcher != nil {
		processed, err := s.dispatcher.DispatchNow(ctx, rec.ID)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("record_id", rec.ID.String()).Msg("inline dispatch skipped")
		case processed != nil:
			rec = processed
		}
	}

	result.Outcome = ports.IntakeAccepted
	result.Record = rec
	result.Message = "Event accepted"
	return result, nil
}

func (s *webhookService) EnqueueOutbound(ctx context.Context, ev ports.OutboundEvent) ([]*domain.DeliveryRecord, error) {
	return s.fanout.Enqueue(ctx, ev)
}

// Redeliver replays a FAILED record as a new PENDING record.
func (s *webhookService) Redeliver(ctx context.Context, recordID uuid.UUID, correlationID string) (*domain.DeliveryRecord, error) {
	rec, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get record: %w", err))
	}
	if rec == nil {
		return nil, apperror.ErrNotFound("Delivery record")
	}

	next, err := rec.NewRedelivery(s.now(), correlationID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil, apperror.ErrConflict(fmt.Sprintf("Record is %s; only FAILED records can be redelivered", rec.State))
		}
		return nil, apperror.InternalError(err)
	}
	if err := s.repo.Create(ctx, next); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create redelivery: %w", err))
	}

	s.log.Info().
		Str("record_id", rec.ID.String()).
		Str("redelivery_id", next.ID.String()).
		Str("event_id", rec.EventID).
		Str("correlation_id", next.CorrelationID).
		Msg("redelivery requested")
	if s.audit != nil {
		s.audit.Log(ctx, newAuditEntry(domain.AuditActionRedeliveryRequested, rec, map[string]any{
			"redelivery_id": next.ID.String(),
		}))
	}
	return next, nil
}

func (s *webhookService) GetRecord(ctx context.Context, id uuid.UUID) (*ports.RecordDetail, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get record: %w", err))
	}
	if rec == nil {
		return nil, apperror.ErrNotFound("Delivery record")
	}

	detail := &ports.RecordDetail{Record: rec, Audit: []domain.AuditLog{}}
	if s.auditRepo != nil {
		trail, err := s.auditRepo.ListByRecord(ctx, id)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("list audit trail: %w", err))
		}
		if trail != nil {
			detail.Audit = trail
		}
	}
	return detail, nil
}

func (s *webhookService) ListDeadLetters(ctx context.Context, limit, offset int) ([]*domain.DeliveryRecord, int64, error) {
	if limit <= 0 {
		limit = defaultDeadLetterPage
	}
	limit = min(limit, maxDeadLetterPage)
	offset = max(offset, 0)

	recs, total, err := s.repo.ListByState(ctx, domain.DeliveryStateFailed, limit, offset)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list dead letters: %w", err))
	}
	return recs, total, nil
}

func (s *webhookService) Stats(ctx context.Context) (*ports.DeliveryStats, error) {
	counts, err := s.repo.CountByState(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("count records: %w", err))
	}

	stats := &ports.DeliveryStats{ByState: make(map[domain.DeliveryState]int64, 5)}
	for _, st := range []domain.DeliveryState{
		domain.DeliveryStatePending, domain.DeliveryStateProcessing, domain.DeliveryStateRetrying,
		domain.DeliveryStateDelivered, domain.DeliveryStateFailed,
	} {
		stats.ByState[st] = counts[st]
		stats.Total += counts[st]
	}
	if s.scheduler != nil {
		stats.RetryLadder = s.scheduler.Ladder()
	}
	return stats, nil
}

// parseNotification resolves the event type and id from headers, falling
// back to the body. Notifications without an id are keyed by content hash.
func parseNotification(n ports.InboundNotification) (domain.EventType, string, *apperror.AppError) {
	if !json.Valid(n.Body) {
		return domain.EventTypeUnknown, "", apperror.ErrValidation("Body is not valid JSON")
	}
	var env notificationEnvelope
	if body := bytes.TrimSpace(n.Body); len(body) > 0 && body[0] == '{' {
		if err := json.Unmarshal(body, &env); err != nil {
			return domain.EventTypeUnknown, "", apperror.ErrValidation("Malformed notification envelope: " + err.Error())
		}
	}

	typeName := n.EventType
	if typeName == "" {
		name, isText, ok := envelopeScalar(env.EventType)
		if !ok || (name != "" && !isText) {
			return domain.EventTypeUnknown, "", apperror.ErrValidation("eventType must be a string")
		}
		typeName = name
	}
	if typeName == "" {
		return domain.EventTypeUnknown, "", apperror.ErrValidation("Missing event type")
	}
	eventType, err := domain.ParseEventType(typeName)
	if err != nil {
		return domain.EventTypeUnknown, "", apperror.ErrValidation(fmt.Sprintf("Unknown event type %q", typeName))
	}

	eventID := n.EventID
	for _, field := range []struct {
		name string
		raw  json.RawMessage
	}{{"notificationId", env.NotificationID}, {"eventId", env.EventID}} {
		if eventID != "" {
			break
		}
		id, _, ok := envelopeScalar(field.raw)
		if !ok {
			return domain.EventTypeUnknown, "", apperror.ErrValidation(field.name + " must be a string or number")
		}
		eventID = id
	}
	return eventType, domain.BuildIdentityKey(eventID, n.Body), nil
}

// envelopeScalar reads a string or number field. Absent and null read as
// empty. isText reports a JSON string; ok is false for objects, arrays and
// booleans.
func envelopeScalar(raw json.RawMessage) (value string, isText, ok bool) {
	if len(raw) == 0 {
		return "", false, true
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false, false
	}
	switch v := v.(type) {
	case nil:
		return "", false, true
	case string:
		return v, true, true
	case json.Number:
		return v.String(), false, true
	default:
		return "", false, false
	}
}

// persistResubmission stores rec linked to the original record of its event.
func (s *webhookService) persistResubmission(ctx context.Context, log zerolog.Logger, rec *domain.DeliveryRecord) error {
	original, err := s.repo.GetByEvent(ctx, rec.Direction, rec.EventID)
	if err != nil {
		return fmt.Errorf("load original of resubmitted event: %w", err)
	}
	if original == nil {
		// swept since the conflict
		return s.repo.Create(ctx, rec)
	}
	originID := original.ID
	rec.RedeliveryOf = &originID
	if err := s.repo.Create(ctx, rec); err != nil {
		return err
	}
	log.Info().
		Str("original_record_id", originID.String()).
		Str("original_state", string(original.State)).
		Msg("event resubmitted after duplicate window, accepted as new")
	return nil
}

func (s *webhookService) originalRecord(ctx context.Context, id uuid.UUID, eventID string) (*domain.DeliveryRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil || rec != nil {
		return rec, err
	}
	// window entry outlived a failed persist or was reserved by a concurrent request
	return s.repo.GetByEvent(ctx, domain.DirectionInbound, eventID)
}

func (s *webhookService) release(ctx context.Context, log zerolog.Logger, key string) {
	if key == "" || s.duplicates == nil {
		return
	}
	if err := s.duplicates.Release(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to release duplicate window key")
	}
}

func (s *webhookService) duplicate(result ports.IntakeResult, original *domain.DeliveryRecord) ports.IntakeResult {
	result.Outcome = ports.IntakeDuplicate
	result.Record = original
	result.ErrorCode = domain.CodeDuplicateEvent
	result.Message = "Event already received"
	return result
}

func (s *webhookService) failed(result ports.IntakeResult, outcome ports.IntakeOutcome, appErr *apperror.AppError) ports.IntakeResult {
	result.Outcome = outcome
	result.ErrorCode = appErr.Code
	result.Message = appErr.Message
	return result
}
