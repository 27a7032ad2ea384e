package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payment-webhook-engine/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// DuplicateWindow implements ports.DuplicateWindow using Redis SET NX PX.
// Expiry is left to Redis.
type DuplicateWindow struct {
	client goredis.UniversalClient
	prefix string
}

// NewDuplicateWindow creates a new Redis-backed duplicate window.
func NewDuplicateWindow(client goredis.UniversalClient) *DuplicateWindow {
	return &DuplicateWindow{
		client: client,
		prefix: "webhook:dedup:",
	}
}

// Reserve atomically stores entry unless its key is present. When it is,
// the stored entry is returned with reserved=false.
func (w *DuplicateWindow) Reserve(ctx context.Context, entry domain.DuplicateWindowEntry, ttl time.Duration) (*domain.DuplicateWindowEntry, bool, error) {
	value, err := json.Marshal(entry)
	if err != nil {
		return nil, false, fmt.Errorf("encode window entry: %w", err)
	}
	key := w.prefix + entry.Key

	// the holder may expire between SET and GET; one retry covers that race
	for range 2 {
		ok, err := w.setNX(ctx, key, value, ttl)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return nil, true, nil
		}

		raw, err := w.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("redis dedup get: %w", err)
		}
		var existing domain.DuplicateWindowEntry
		if err := json.Unmarshal(raw, &existing); err != nil {
			return nil, false, fmt.Errorf("decode window entry %s: %w", entry.Key, err)
		}
		return &existing, false, nil
	}
	return nil, false, fmt.Errorf("redis dedup: key %s churned during reserve", entry.Key)
}

// Release forgets key so the identity can be reserved again.
func (w *DuplicateWindow) Release(ctx context.Context, key string) error {
	if err := w.client.Del(ctx, w.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis dedup release: %w", err)
	}
	return nil
}

func (w *DuplicateWindow) setNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	result, err := w.client.SetArgs(ctx, key, value, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Key already exists
			return false, nil
		}
		return false, fmt.Errorf("redis dedup set: %w", err)
	}
	return result == "OK", nil
}
