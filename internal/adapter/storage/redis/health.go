package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// HealthCheck reports the shared Redis on /health. uses names the engine
// components backed by it so a failure says what is degraded.
type HealthCheck struct {
	client goredis.UniversalClient
	uses   []string
}

func NewHealthCheck(client goredis.UniversalClient, uses ...string) *HealthCheck {
	return &HealthCheck{client: client, uses: uses}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	if err := h.client.Ping(ctx).Err(); err != nil {
		if len(h.uses) == 0 {
			return err
		}
		return fmt.Errorf("redis backing %s: %w", strings.Join(h.uses, ", "), err)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "redis"
}
