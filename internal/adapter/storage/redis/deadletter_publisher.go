package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-webhook-engine/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultDeadLetterChannel is the pub/sub channel operators subscribe to.
const DefaultDeadLetterChannel = "webhook:deadletters"

// DeadLetterMessage is published for every record that reaches FAILED.
type DeadLetterMessage struct {
	RecordID       string    `json:"record_id"`
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	Direction      string    `json:"direction"`
	Endpoint       string    `json:"endpoint,omitempty"`
	Attempts       int       `json:"attempts"`
	LastStatusCode *int      `json:"last_status_code,omitempty"`
	LastErrorCode  string    `json:"last_error_code,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	CorrelationID  string    `json:"correlation_id"`
	FailedAt       time.Time `json:"failed_at"`
}

// DeadLetterPublisher implements ports.DeadLetterPublisher with Redis PUBLISH.
type DeadLetterPublisher struct {
	client  goredis.UniversalClient
	channel string
}

// NewDeadLetterPublisher creates a publisher on channel.
func NewDeadLetterPublisher(client goredis.UniversalClient, channel string) *DeadLetterPublisher {
	if channel == "" {
		channel = DefaultDeadLetterChannel
	}
	return &DeadLetterPublisher{client: client, channel: channel}
}

func (p *DeadLetterPublisher) Publish(ctx context.Context, rec *domain.DeliveryRecord) error {
	msg := DeadLetterMessage{
		RecordID:       rec.ID.String(),
		EventID:        rec.EventID,
		EventType:      rec.EventType.String(),
		Direction:      string(rec.Direction),
		Endpoint:       rec.EndpointName(),
		Attempts:       rec.Attempts,
		LastStatusCode: rec.LastStatusCode,
		CorrelationID:  rec.CorrelationID,
		FailedAt:       rec.UpdatedAt,
	}
	if rec.LastErrorCode != nil {
		msg.LastErrorCode = *rec.LastErrorCode
	}
	if rec.LastError != nil {
		msg.LastError = *rec.LastError
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish dead letter: %w", err)
	}
	return nil
}
