package redis

import (
	"context"
	"fmt"

	"payment-webhook-engine/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Components that can be backed by Redis.
const (
	UseDuplicateWindow = "duplicate_window"
	UseDeadLetter      = "dead_letter_channel"
	UseRateLimit       = "rate_limit"
)

// NewClient connects the Redis shared by the components named in uses.
// The client is closed again if the server does not answer.
func NewClient(ctx context.Context, cfg config.RedisConfig, uses []string, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr(), err)
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Int("db", cfg.DB).
		Strs("serves", uses).
		Msg("redis connected")

	return client, nil
}
