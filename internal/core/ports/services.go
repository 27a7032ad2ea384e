package ports

import (
	"context"
	"encoding/json"
	"time"

	"payment-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
)

// SignatureService verifies inbound and signs outbound webhook payloads.
type SignatureService interface {
	// Verify checks signature over payload with the configured secret and
	// algorithm. Always true when verification is disabled.
	Verify(payload []byte, signature string) bool
	// Sign returns "<alg>=<hex>" for payload under secret.
	Sign(payload []byte, secret string) string
	Enabled() bool
}

// DuplicateCheck is the result of a duplicate detector lookup.
type DuplicateCheck struct {
	Key              string
	Reserved         bool // the key was claimed in the window by this check
	Duplicate        bool
	OriginalRecordID uuid.UUID
	FirstSeenAt      time.Time
}

// DuplicateDetector recognises events already seen within the window.
type DuplicateDetector interface {
	// Check reserves the identity of (direction, eventID, payload) for
	// recordID unless it was seen within the window.
	Check(ctx context.Context, direction domain.Direction, eventID string, payload []byte, recordID uuid.UUID) (DuplicateCheck, error)
	Release(ctx context.Context, key string) error
}

// InboundHandler is the business collaborator an accepted inbound event is
// handed to. An error makes the record retry.
type InboundHandler interface {
	Handle(ctx context.Context, rec *domain.DeliveryRecord) error
}

// OutboundSender performs one HTTP delivery attempt. Failures are returned
// as *domain.DispatchError.
type OutboundSender interface {
	Send(ctx context.Context, rec *domain.DeliveryRecord) (domain.AttemptOutcome, error)
}

// RecordDispatcher processes a single claimed-on-demand record inline.
type RecordDispatcher interface {
	DispatchNow(ctx context.Context, id uuid.UUID) (*domain.DeliveryRecord, error)
}

// RetryScheduler computes when a failed attempt is retried.
type RetryScheduler interface {
	// NextAttemptAt returns the retry time after the failure of attempt
	// number failedAttempts (1-based).
	NextAttemptAt(now time.Time, failedAttempts int) time.Time
	Ladder() []time.Duration
}

// IntakeOutcome classifies an inbound notification.
type IntakeOutcome string

const (
	IntakeAccepted         IntakeOutcome = "accepted"
	IntakeDuplicate        IntakeOutcome = "duplicate"
	IntakeSignatureInvalid IntakeOutcome = "signature-invalid"
	IntakeProcessingError  IntakeOutcome = "processing-error"
)

// InboundNotification is a raw notification received from the processor.
type InboundNotification struct {
	Body          []byte
	Signature     string
	EventType     string
	EventID       string
	CorrelationID string
}

// IntakeResult is returned for every inbound notification.
type IntakeResult struct {
	Outcome       IntakeOutcome
	EventID       string
	CorrelationID string
	Record        *domain.DeliveryRecord // nil for signature-invalid
	ErrorCode     string
	Message       string
}

// OutboundEvent is an internally generated event to fan out to merchant endpoints.
type OutboundEvent struct {
	EventType     domain.EventType
	EventID       string // generated when empty
	Payload       json.RawMessage
	CorrelationID string
}

// DeliveryStats summarises records by state.
type DeliveryStats struct {
	ByState     map[domain.DeliveryState]int64
	Total       int64
	RetryLadder []time.Duration
}

// RecordDetail is a record with its audit trail.
type RecordDetail struct {
	Record *domain.DeliveryRecord
	Audit  []domain.AuditLog
}

// WebhookService is the intake, enqueue and ops surface of the engine.
type WebhookService interface {
	HandleInbound(ctx context.Context, n InboundNotification) (IntakeResult, error)
	EnqueueOutbound(ctx context.Context, ev OutboundEvent) ([]*domain.DeliveryRecord, error)
	Redeliver(ctx context.Context, recordID uuid.UUID, correlationID string) (*domain.DeliveryRecord, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*RecordDetail, error)
	ListDeadLetters(ctx context.Context, limit, offset int) ([]*domain.DeliveryRecord, int64, error)
	Stats(ctx context.Context) (*DeliveryStats, error)
}

// TokenService handles JWT token operations for the ops API.
type TokenService interface {
	Generate(operator string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Operator string
}

// AuditService records audit entries.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
