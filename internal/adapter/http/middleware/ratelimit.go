package middleware

import (
	"fmt"
	"strconv"
	"time"

	redisStore "payment-webhook-engine/internal/adapter/storage/redis"
	"payment-webhook-engine/pkg/apperror"
	"payment-webhook-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the per-group limits. intakePerMinute caps
// processor notifications per client address.
func DefaultRateLimitRules(intakePerMinute int64) map[string]RateLimitRule {
	if intakePerMinute <= 0 {
		intakePerMinute = 600
	}
	return map[string]RateLimitRule{
		"intake":   {Limit: intakePerMinute, Window: time.Minute},
		"outbound": {Limit: 300, Window: time.Minute},
		"ops":      {Limit: 60, Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// Store errors let the request through.
func RateLimiter(store *redisStore.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := extractIdentifier(c)
		key := fmt.Sprintf("%s:%s", identifier, group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := max(result.ResetAt-time.Now().Unix(), 1)
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier keys ops traffic by operator and everything else by
// client address.
func extractIdentifier(c *gin.Context) string {
	if op := c.GetString(CtxOperator); op != "" {
		return "op:" + op
	}
	return c.ClientIP()
}
