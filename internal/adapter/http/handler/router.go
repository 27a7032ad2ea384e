package handler

import (
	"payment-webhook-engine/internal/adapter/http/middleware"
	redisStore "payment-webhook-engine/internal/adapter/storage/redis"
	"payment-webhook-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WebhookSvc         ports.WebhookService
	TokenSvc           ports.TokenService
	RateLimitStore     *redisStore.RateLimitStore // nil = rate limiting disabled
	RateLimitPerMinute int64
	MaxBodyBytes       int64
	HealthCheckers     []ports.HealthChecker
	AuditSvc           ports.AuditService // nil = request audit disabled
	Logger             zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	// Global middleware
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBody))

	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules(deps.RateLimitPerMinute)
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Processor intake (authenticated by payload signature) ---
	webhookHandler := NewWebhookHandler(deps.WebhookSvc)
	v1.POST("/webhooks/inbound", rl("intake"), webhookHandler.Inbound)

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	v1.POST("/webhooks/outbound", jwtAuth, rl("outbound"), webhookHandler.Outbound)

	opsHandler := NewOpsHandler(deps.WebhookSvc)
	ops := v1.Group("/ops", jwtAuth, rl("ops"))
	{
		ops.GET("/records/:id", opsHandler.GetRecord)
		ops.GET("/dead-letters", opsHandler.ListDeadLetters)
		ops.POST("/dead-letters/:id/redeliver", opsHandler.Redeliver)
		ops.GET("/stats", opsHandler.Stats)
	}

	return r
}
