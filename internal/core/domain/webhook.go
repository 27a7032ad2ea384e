package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction tells whether a record was received or is to be sent.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// DeliveryState represents the lifecycle state of a delivery record.
type DeliveryState string

const (
	DeliveryStatePending    DeliveryState = "PENDING"
	DeliveryStateProcessing DeliveryState = "PROCESSING"
	DeliveryStateDelivered  DeliveryState = "DELIVERED"
	DeliveryStateFailed     DeliveryState = "FAILED"
	DeliveryStateRetrying   DeliveryState = "RETRYING"
)

// IsTerminal returns true for states that never change again.
func (s DeliveryState) IsTerminal() bool {
	return s == DeliveryStateDelivered || s == DeliveryStateFailed
}

// IsClaimable returns true for states a dispatcher may claim.
func (s DeliveryState) IsClaimable() bool {
	return s == DeliveryStatePending || s == DeliveryStateRetrying
}

// DefaultMaxAttempts is used when a record is created without an explicit limit.
const DefaultMaxAttempts = 5

// maxResponseSnippet caps the stored response headers/body of an attempt.
const maxResponseSnippet = 1024

// DeliveryTarget is the destination of an OUTBOUND record.
type DeliveryTarget struct {
	URL      string `json:"url"`
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"` // configured endpoint name, selects the signing secret
}

// DeliveryRecord tracks one event's processing/delivery lifecycle.
type DeliveryRecord struct {
	ID            uuid.UUID       `json:"id"`
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	Direction     Direction       `json:"direction"`
	Target        *DeliveryTarget `json:"target,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	State         DeliveryState   `json:"state"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	ClaimToken    *uuid.UUID      `json:"-"`
	ClaimedAt     *time.Time      `json:"claimed_at,omitempty"`

	LastStatusCode *int    `json:"last_status_code,omitempty"`
	LastResponse   *string `json:"last_response,omitempty"`
	LastError      *string `json:"last_error,omitempty"`
	LastErrorCode  *string `json:"last_error_code,omitempty"`

	// RedeliveryOf links a manual redelivery to the FAILED record it replays.
	RedeliveryOf *uuid.UUID `json:"redelivery_of,omitempty"`

	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewDeliveryRecord builds a PENDING record due at now.
func NewDeliveryRecord(direction Direction, eventID string, eventType EventType, payload []byte, correlationID string, maxAttempts int, now time.Time) *DeliveryRecord {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now = now.UTC()
	due := now
	return &DeliveryRecord{
		ID:            uuid.New(),
		EventID:       eventID,
		EventType:     eventType,
		Direction:     direction,
		Payload:       append(json.RawMessage(nil), payload...),
		State:         DeliveryStatePending,
		MaxAttempts:   maxAttempts,
		ScheduledAt:   now,
		NextAttemptAt: &due,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AttemptOutcome captures what happened during one attempt.
type AttemptOutcome struct {
	StatusCode *int
	Response   string
	Err        string
	ErrCode    string
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *DeliveryRecord) Clone() *DeliveryRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload = append(json.RawMessage(nil), r.Payload...)
	if r.Target != nil {
		t := *r.Target
		c.Target = &t
	}
	c.NextAttemptAt = cloneTime(r.NextAttemptAt)
	c.DeliveredAt = cloneTime(r.DeliveredAt)
	c.ClaimedAt = cloneTime(r.ClaimedAt)
	if r.ClaimToken != nil {
		tok := *r.ClaimToken
		c.ClaimToken = &tok
	}
	if r.LastStatusCode != nil {
		code := *r.LastStatusCode
		c.LastStatusCode = &code
	}
	c.LastResponse = cloneString(r.LastResponse)
	c.LastError = cloneString(r.LastError)
	c.LastErrorCode = cloneString(r.LastErrorCode)
	if r.RedeliveryOf != nil {
		id := *r.RedeliveryOf
		c.RedeliveryOf = &id
	}
	return &c
}

// EndpointName is the configured endpoint of an OUTBOUND record, "" otherwise.
func (r *DeliveryRecord) EndpointName() string {
	if r.Target == nil {
		return ""
	}
	return r.Target.Endpoint
}

// NewRedelivery builds a fresh PENDING record replaying a FAILED one. The
// FAILED record itself is left untouched.
func (r *DeliveryRecord) NewRedelivery(now time.Time, correlationID string) (*DeliveryRecord, error) {
	if r.State != DeliveryStateFailed {
		return nil, fmt.Errorf("%w: only FAILED records can be redelivered (record %s is %s)", ErrInvalidTransition, r.ID, r.State)
	}
	if correlationID == "" {
		correlationID = r.CorrelationID
	}
	next := NewDeliveryRecord(r.Direction, r.EventID, r.EventType, r.Payload, correlationID, r.MaxAttempts, now)
	if r.Target != nil {
		t := *r.Target
		next.Target = &t
	}
	origin := r.ID
	next.RedeliveryOf = &origin
	return next, nil
}

// IsDue reports whether the record is claimable at now.
func (r *DeliveryRecord) IsDue(now time.Time) bool {
	return r.State.IsClaimable() && r.NextAttemptAt != nil && !r.NextAttemptAt.After(now)
}

// Claim moves a PENDING/RETRYING record to PROCESSING. Attempts are not
// incremented until the attempt resolves.
func (r *DeliveryRecord) Claim(now time.Time, token uuid.UUID) error {
	if !r.State.IsClaimable() {
		return r.transitionError(DeliveryStateProcessing)
	}
	now = now.UTC()
	r.State = DeliveryStateProcessing
	r.NextAttemptAt = nil
	r.ClaimToken = &token
	r.ClaimedAt = &now
	r.UpdatedAt = now
	return nil
}

// MarkDelivered resolves the current attempt as a success.
func (r *DeliveryRecord) MarkDelivered(now time.Time, outcome AttemptOutcome) error {
	if r.State != DeliveryStateProcessing {
		return r.transitionError(DeliveryStateDelivered)
	}
	now = now.UTC()
	r.Attempts++
	r.State = DeliveryStateDelivered
	r.DeliveredAt = &now
	r.applyOutcome(now, outcome)
	return nil
}

// MarkRetrying resolves the current attempt as a retryable failure. It is
// only legal while attempts+1 < maxAttempts.
func (r *DeliveryRecord) MarkRetrying(now time.Time, outcome AttemptOutcome, next time.Time) error {
	if r.State != DeliveryStateProcessing || r.Attempts+1 >= r.MaxAttempts {
		return r.transitionError(DeliveryStateRetrying)
	}
	now = now.UTC()
	next = next.UTC()
	r.Attempts++
	r.State = DeliveryStateRetrying
	r.NextAttemptAt = &next
	r.applyOutcome(now, outcome)
	return nil
}

// MarkFailed resolves the current attempt as terminal (dead-letter).
func (r *DeliveryRecord) MarkFailed(now time.Time, outcome AttemptOutcome) error {
	if r.State != DeliveryStateProcessing {
		return r.transitionError(DeliveryStateFailed)
	}
	now = now.UTC()
	if r.Attempts < r.MaxAttempts {
		r.Attempts++
	}
	r.State = DeliveryStateFailed
	r.applyOutcome(now, outcome)
	return nil
}

// ExhaustsRetries reports whether failing the current attempt uses up the budget.
func (r *DeliveryRecord) ExhaustsRetries() bool {
	return r.Attempts+1 >= r.MaxAttempts
}

// CheckInvariants validates the structural invariants of a record.
func (r *DeliveryRecord) CheckInvariants() error {
	if r.Attempts < 0 || r.Attempts > r.MaxAttempts {
		return fmt.Errorf("attempts %d out of range [0,%d]", r.Attempts, r.MaxAttempts)
	}
	if (r.DeliveredAt != nil) != (r.State == DeliveryStateDelivered) {
		return fmt.Errorf("delivered_at set=%t with state %s", r.DeliveredAt != nil, r.State)
	}
	if (r.NextAttemptAt != nil) != r.State.IsClaimable() {
		return fmt.Errorf("next_attempt_at set=%t with state %s", r.NextAttemptAt != nil, r.State)
	}
	if (r.ClaimToken != nil) != (r.State == DeliveryStateProcessing) {
		return fmt.Errorf("claim_token set=%t with state %s", r.ClaimToken != nil, r.State)
	}
	return nil
}

func (r *DeliveryRecord) applyOutcome(now time.Time, outcome AttemptOutcome) {
	if r.State != DeliveryStateRetrying {
		r.NextAttemptAt = nil
	}
	r.ClaimToken = nil
	r.ClaimedAt = nil
	r.UpdatedAt = now
	r.LastStatusCode = outcome.StatusCode
	r.LastResponse = nil
	if outcome.Response != "" {
		snippet := outcome.Response
		if len(snippet) > maxResponseSnippet {
			snippet = snippet[:maxResponseSnippet]
		}
		r.LastResponse = &snippet
	}
	r.LastError = nil
	if outcome.Err != "" {
		e := outcome.Err
		r.LastError = &e
	}
	r.LastErrorCode = nil
	if outcome.ErrCode != "" {
		c := outcome.ErrCode
		r.LastErrorCode = &c
	}
}

func (r *DeliveryRecord) transitionError(to DeliveryState) error {
	return fmt.Errorf("%w: %s -> %s (record %s)", ErrInvalidTransition, r.State, to, r.ID)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
