// Package app assembles the webhook engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"payment-webhook-engine/config"
	httpHandler "payment-webhook-engine/internal/adapter/http/handler"
	"payment-webhook-engine/internal/adapter/storage/archive"
	"payment-webhook-engine/internal/adapter/storage/memory"
	pgStorage "payment-webhook-engine/internal/adapter/storage/postgres"
	redisStorage "payment-webhook-engine/internal/adapter/storage/redis"
	"payment-webhook-engine/internal/core/ports"
	"payment-webhook-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// App is a fully wired engine.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	Repo       ports.DeliveryRecordRepository
	AuditRepo  ports.AuditRepository
	Audit      *service.AuditService
	Signer     *service.HMACSignatureService
	Tokens     *service.JWTTokenService
	Dispatcher *service.Dispatcher
	Sweeper    *service.Sweeper
	Webhooks   ports.WebhookService
	Router     *gin.Engine

	pool   *pgxpool.Pool
	redis  *goredis.Client
	health []ports.HealthChecker
}

// New connects the configured stores and builds every service. Close must
// be called to release connections.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Webhook.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	a := &App{cfg: cfg, log: log}

	if err := a.initStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initServices(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case DriverMemory:
		a.log.Warn().Msg("using in-memory storage; delivery records are lost on restart")
		a.Repo = memory.NewDeliveryRecordRepo()
		a.AuditRepo = memory.NewAuditRepo()
		return nil
	case DriverPostgres, "":
		pool, err := pgStorage.NewPool(ctx, a.cfg.Database, a.log)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.pool = pool
		if a.cfg.Database.AutoMigrate {
			if err := pgStorage.Migrate(ctx, pool, pgStorage.MigrateUp, a.log); err != nil {
				return err
			}
		}
		a.Repo = pgStorage.NewDeliveryRecordRepo(pool)
		a.AuditRepo = pgStorage.NewAuditRepo(pool)
		a.health = append(a.health, pgStorage.NewHealthCheck(pool))
		return nil
	default:
		return fmt.Errorf("unsupported database driver %q", a.cfg.Database.Driver)
	}
}

// redisUses lists the configured components backed by Redis.
func redisUses(cfg *config.Config) []string {
	w := cfg.Webhook
	var uses []string
	if w.DuplicateDetection.Enabled && w.DuplicateDetection.Store == StoreRedis {
		uses = append(uses, redisStorage.UseDuplicateWindow)
	}
	if w.DeadLetter.Channel != "" {
		uses = append(uses, redisStorage.UseDeadLetter)
	}
	if cfg.Server.RateLimitPerMinute > 0 {
		uses = append(uses, redisStorage.UseRateLimit)
	}
	return uses
}

func (a *App) initRedis(ctx context.Context) error {
	uses := redisUses(a.cfg)
	if len(uses) == 0 {
		return nil
	}
	client, err := redisStorage.NewClient(ctx, a.cfg.Redis, uses, a.log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a.redis = client
	a.health = append(a.health, redisStorage.NewHealthCheck(client, uses...))
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	w := a.cfg.Webhook

	a.Audit = service.NewAuditService(a.AuditRepo, a.log)
	a.Signer = service.NewHMACSignatureService(SignatureSettings(w), a.log)
	a.Tokens = service.NewJWTTokenService(a.cfg.JWT.Secret, a.cfg.JWT.Expiry, a.cfg.JWT.Issuer)
	scheduler := service.NewRetryScheduler(RetrySettings(w))
	registry := service.NewEndpointRegistry(EndpointSettings(w), w.Signature.Secret)

	var window ports.DuplicateWindow = memory.NewDuplicateWindow()
	if w.DuplicateDetection.Store == StoreRedis && a.redis != nil {
		window = redisStorage.NewDuplicateWindow(a.redis)
	}
	duplicates := service.NewDuplicateDetector(window, DuplicateSettings(w))

	var deadLetters ports.DeadLetterPublisher
	if a.redis != nil && w.DeadLetter.Channel != "" {
		deadLetters = redisStorage.NewDeadLetterPublisher(a.redis, w.DeadLetter.Channel)
	}

	var archiver ports.Archiver
	if w.Cleanup.Archive.Enabled {
		s3Archiver, err := archive.NewS3ArchiverFromConfig(ctx, w.Cleanup.Archive, a.log)
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		archiver = s3Archiver
	}

	fanout := service.NewOutboundFanout(a.Repo, registry, w.Retry.MaxAttempts, a.log)
	sender := service.NewHTTPOutboundSender(&http.Client{}, a.Signer, registry, w.Retry.Timeout(), a.log)

	a.Dispatcher = service.NewDispatcher(service.DispatcherDeps{
		Repo:        a.Repo,
		Sender:      sender,
		Handler:     service.NewEventForwarder(fanout, a.log),
		Scheduler:   scheduler,
		DeadLetters: deadLetters,
		Audit:       a.Audit,
		Logger:      a.log,
	}, DispatcherSettings(w))

	a.Sweeper = service.NewSweeper(a.Repo, archiver, a.Audit, SweeperSettings(w), a.log)

	a.Webhooks = service.NewWebhookService(service.WebhookServiceDeps{
		Repo:        a.Repo,
		AuditRepo:   a.AuditRepo,
		Signer:      a.Signer,
		Duplicates:  duplicates,
		Dispatcher:  a.Dispatcher,
		Fanout:      fanout,
		Scheduler:   scheduler,
		Audit:       a.Audit,
		MaxAttempts: w.Retry.MaxAttempts,
		Logger:      a.log,
	})

	var rateLimits *redisStorage.RateLimitStore
	if a.redis != nil && a.cfg.Server.RateLimitPerMinute > 0 {
		rateLimits = redisStorage.NewRateLimitStore(a.redis)
	}

	a.Router = httpHandler.SetupRouter(httpHandler.RouterDeps{
		WebhookSvc:         a.Webhooks,
		TokenSvc:           a.Tokens,
		RateLimitStore:     rateLimits,
		RateLimitPerMinute: int64(a.cfg.Server.RateLimitPerMinute),
		MaxBodyBytes:       a.cfg.Server.MaxBodyBytes,
		HealthCheckers:     a.health,
		AuditSvc:           a.Audit,
		Logger:             a.log,
	})
	return nil
}

// Run serves HTTP and runs the dispatcher and sweeper loops until ctx is
// cancelled. In-flight attempts finish before Run returns.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return a.Dispatcher.Run(gctx) })
	g.Go(func() error { return a.Sweeper.Run(gctx) })

	err := g.Wait()
	a.Audit.Wait()
	return err
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

// Close flushes pending audit entries and releases connections.
func (a *App) Close() {
	if a.Audit != nil {
		a.Audit.Wait()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
