package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Mode               string        `mapstructure:"mode"` // debug, release, test
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"` // per client IP on intake, 0 disables
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig configures bearer tokens for the ops API.
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// WebhookConfig is the tuning surface of the webhook engine.
type WebhookConfig struct {
	Signature          SignatureConfig          `mapstructure:"signature"`
	DuplicateDetection DuplicateDetectionConfig `mapstructure:"duplicate_detection"`
	Processing         ProcessingConfig         `mapstructure:"processing"`
	Retry              RetryConfig              `mapstructure:"retry"`
	Cleanup            CleanupConfig            `mapstructure:"cleanup"`
	Dispatcher         DispatcherConfig         `mapstructure:"dispatcher"`
	DeadLetter         DeadLetterConfig         `mapstructure:"dead_letter"`
	Endpoints          []EndpointConfig         `mapstructure:"endpoints"`
}

type SignatureConfig struct {
	Secret    string `mapstructure:"secret"`
	Algorithm string `mapstructure:"algorithm"` // sha256, sha512
	Enabled   bool   `mapstructure:"enabled"`
}

type DuplicateDetectionConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	WindowMinutes int    `mapstructure:"window_minutes"`
	Store         string `mapstructure:"store"` // redis, memory
}

// Window returns the dedup window as a duration.
func (d DuplicateDetectionConfig) Window() time.Duration {
	return time.Duration(d.WindowMinutes) * time.Minute
}

type ProcessingConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Timeout returns the inbound processing timeout.
func (p ProcessingConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type RetryConfig struct {
	MaxAttempts         int     `mapstructure:"max_attempts"`
	InitialDelayMinutes int     `mapstructure:"initial_delay_minutes"`
	MaxDelayMinutes     int     `mapstructure:"max_delay_minutes"`
	Multiplier          float64 `mapstructure:"multiplier"`
	JitterEnabled       bool    `mapstructure:"jitter_enabled"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	RetryClientErrors   bool    `mapstructure:"retry_client_errors"`
}

// InitialDelay returns the first retry delay.
func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMinutes) * time.Minute
}

// MaxDelay returns the backoff cap.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMinutes) * time.Minute
}

// Timeout returns the outbound HTTP timeout.
func (r RetryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

type CleanupConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	DeliveredRetentionDays int           `mapstructure:"delivered_retention_days"`
	FailedRetentionDays    int           `mapstructure:"failed_retention_days"`
	Interval               time.Duration `mapstructure:"interval"`
	BatchSize              int           `mapstructure:"batch_size"`
	Archive                ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig enables copying swept records to S3 before deletion.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"` // S3-compatible endpoint override (MinIO, localstack)
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

type DispatcherConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"` // 0 derives max(retry, processing timeout) + ClaimTimeoutMargin
}

// ClaimTimeoutMargin is the minimum slack between the longest attempt
// timeout and the stale-claim cutoff.
const ClaimTimeoutMargin = 30 * time.Second

// DeadLetterConfig selects where FAILED records are announced.
type DeadLetterConfig struct {
	Channel string `mapstructure:"channel"` // Redis pub/sub channel, empty disables
}

// EndpointConfig is a merchant endpoint that receives outbound deliveries.
type EndpointConfig struct {
	Name   string   `mapstructure:"name"`
	URL    string   `mapstructure:"url"`
	Method string   `mapstructure:"method"`
	Secret string   `mapstructure:"secret"`
	Events []string `mapstructure:"events"` // event categories, "*" for all
}

// Validate checks the invariants the engine relies on.
func (w WebhookConfig) Validate() error {
	var errs []error
	if w.Signature.Enabled && w.Signature.Secret == "" {
		errs = append(errs, errors.New("webhook.signature.secret is required when verification is enabled"))
	}
	switch strings.ToLower(w.Signature.Algorithm) {
	case "sha256", "sha512":
	default:
		errs = append(errs, fmt.Errorf("webhook.signature.algorithm %q is not supported", w.Signature.Algorithm))
	}
	if w.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("webhook.retry.max_attempts must be positive"))
	}
	if w.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("webhook.retry.multiplier must be >= 1"))
	}
	if w.Retry.MaxDelayMinutes < w.Retry.InitialDelayMinutes {
		errs = append(errs, errors.New("webhook.retry.max_delay_minutes must be >= initial_delay_minutes"))
	}
	if w.DuplicateDetection.Enabled && w.DuplicateDetection.WindowMinutes <= 0 {
		errs = append(errs, errors.New("webhook.duplicate_detection.window_minutes must be positive"))
	}
	switch w.DuplicateDetection.Store {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("webhook.duplicate_detection.store %q is not supported", w.DuplicateDetection.Store))
	}
	if w.Dispatcher.ClaimTimeout < 0 {
		errs = append(errs, errors.New("webhook.dispatcher.claim_timeout must not be negative"))
	} else if w.Dispatcher.ClaimTimeout > 0 {
		// a claim must outlive its attempt or the record is dispatched twice
		floor := max(w.Retry.Timeout(), w.Processing.Timeout()) + ClaimTimeoutMargin
		if w.Dispatcher.ClaimTimeout < floor {
			errs = append(errs, fmt.Errorf("webhook.dispatcher.claim_timeout %s must be at least %s (longest attempt timeout + %s)",
				w.Dispatcher.ClaimTimeout, floor, ClaimTimeoutMargin))
		}
	}
	if w.Dispatcher.Workers <= 0 {
		errs = append(errs, errors.New("webhook.dispatcher.workers must be positive"))
	}
	for i, ep := range w.Endpoints {
		if ep.Name == "" || ep.URL == "" {
			errs = append(errs, fmt.Errorf("webhook.endpoints[%d]: name and url are required", i))
		}
	}
	return errors.Join(errs...)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PWE_ (Payment Webhook Engine).
// Nested keys use underscore: PWE_DATABASE_HOST, PWE_WEBHOOK_SIGNATURE_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.rate_limit_per_minute", 600)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "webhook_engine")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "12h")
	v.SetDefault("jwt.issuer", "payment-webhook-engine")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("webhook.signature.secret", "")
	v.SetDefault("webhook.signature.algorithm", "sha256")
	v.SetDefault("webhook.signature.enabled", true)
	v.SetDefault("webhook.duplicate_detection.enabled", true)
	v.SetDefault("webhook.duplicate_detection.window_minutes", 60)
	v.SetDefault("webhook.duplicate_detection.store", "redis")
	v.SetDefault("webhook.processing.timeout_seconds", 30)
	v.SetDefault("webhook.retry.max_attempts", 5)
	v.SetDefault("webhook.retry.initial_delay_minutes", 1)
	v.SetDefault("webhook.retry.max_delay_minutes", 1440)
	v.SetDefault("webhook.retry.multiplier", 2.0)
	v.SetDefault("webhook.retry.jitter_enabled", true)
	v.SetDefault("webhook.retry.timeout_seconds", 30)
	v.SetDefault("webhook.retry.retry_client_errors", false)
	v.SetDefault("webhook.cleanup.enabled", true)
	v.SetDefault("webhook.cleanup.delivered_retention_days", 7)
	v.SetDefault("webhook.cleanup.failed_retention_days", 30)
	v.SetDefault("webhook.cleanup.interval", "1h")
	v.SetDefault("webhook.cleanup.batch_size", 500)
	v.SetDefault("webhook.cleanup.archive.enabled", false)
	v.SetDefault("webhook.cleanup.archive.prefix", "webhook-archive")
	v.SetDefault("webhook.cleanup.archive.region", "us-east-1")
	v.SetDefault("webhook.dispatcher.workers", 8)
	v.SetDefault("webhook.dispatcher.poll_interval", "5s")
	v.SetDefault("webhook.dispatcher.batch_size", 32)
	v.SetDefault("webhook.dispatcher.claim_timeout", "0s")
	v.SetDefault("webhook.dead_letter.channel", "webhook:deadletters")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: PWE_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PWE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
