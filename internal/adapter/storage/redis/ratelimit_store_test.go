package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitStore_Allow(t *testing.T) {
	mr, client := newTestClient(t)

	store := NewRateLimitStore(client)
	now := time.Date(2026, 4, 1, 10, 0, 30, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("allows requests within limit", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			result, err := store.Allow(ctx, "203.0.113.7:intake", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed, "request %d should be allowed", i)
			assert.Equal(t, int64(3), result.Limit)
			assert.Equal(t, 3-i, result.Remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		// 4th request should be blocked (limit is 3 from above)
		result, err := store.Allow(ctx, "203.0.113.7:intake", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, int64(0), result.Remaining)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		result, err := store.Allow(ctx, "198.51.100.2:intake", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(4), result.Remaining)
	})

	t.Run("counter expires with its window", func(t *testing.T) {
		key := "198.51.100.9:ops"
		_, err := store.Allow(ctx, key, 1, time.Minute)
		require.NoError(t, err)

		result, err := store.Allow(ctx, key, 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)

		ttl := mr.TTL("webhook:ratelimit:" + key + ":29583960")
		assert.Equal(t, 61*time.Second, ttl)

		mr.FastForward(62 * time.Second)

		result, err = store.Allow(ctx, key, 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("next window starts a new counter", func(t *testing.T) {
		key := "192.0.2.1:intake"
		_, err := store.Allow(ctx, key, 1, time.Minute)
		require.NoError(t, err)

		now = now.Add(time.Minute)
		result, err := store.Allow(ctx, key, 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("sets ResetAt to the window end", func(t *testing.T) {
		now = time.Date(2026, 4, 1, 10, 5, 10, 0, time.UTC)
		result, err := store.Allow(ctx, "192.0.2.50:ops", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 4, 1, 10, 6, 0, 0, time.UTC).Unix(), result.ResetAt)
	})
}

func TestRateLimitStore_RedisDown(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewRateLimitStore(client)
	mr.Close()

	_, err := store.Allow(context.Background(), "k", 1, time.Minute)
	assert.ErrorContains(t, err, "redis rate limit incr")
}
