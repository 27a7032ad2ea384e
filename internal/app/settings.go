package app

import (
	"strings"
	"time"

	"payment-webhook-engine/config"
	"payment-webhook-engine/internal/service"
)

// SignatureSettings builds the signature policy from config.
func SignatureSettings(w config.WebhookConfig) service.SignatureConfig {
	return service.SignatureConfig{
		Secret:    w.Signature.Secret,
		Algorithm: service.SignatureAlgorithm(strings.ToLower(w.Signature.Algorithm)),
		Enabled:   w.Signature.Enabled,
	}
}

// RetrySettings builds the retry policy from config.
func RetrySettings(w config.WebhookConfig) service.RetryPolicy {
	return service.RetryPolicy{
		MaxAttempts:  w.Retry.MaxAttempts,
		InitialDelay: w.Retry.InitialDelay(),
		MaxDelay:     w.Retry.MaxDelay(),
		Multiplier:   w.Retry.Multiplier,
		Jitter:       w.Retry.JitterEnabled,
	}
}

// DuplicateSettings builds the duplicate window policy from config.
func DuplicateSettings(w config.WebhookConfig) service.DuplicateConfig {
	return service.DuplicateConfig{
		Enabled: w.DuplicateDetection.Enabled,
		Window:  w.DuplicateDetection.Window(),
	}
}

// DispatcherSettings builds the dispatcher tuning from config.
func DispatcherSettings(w config.WebhookConfig) service.DispatcherConfig {
	return service.DispatcherConfig{
		Workers:           w.Dispatcher.Workers,
		PollInterval:      w.Dispatcher.PollInterval,
		BatchSize:         w.Dispatcher.BatchSize,
		ClaimTimeout:      w.Dispatcher.ClaimTimeout,
		DispatchTimeout:   w.Retry.Timeout(),
		ProcessingTimeout: w.Processing.Timeout(),
		RetryClientErrors: w.Retry.RetryClientErrors,
	}
}

// SweeperSettings builds the retention policy from config.
func SweeperSettings(w config.WebhookConfig) service.SweeperConfig {
	return service.SweeperConfig{
		Enabled:            w.Cleanup.Enabled,
		DeliveredRetention: days(w.Cleanup.DeliveredRetentionDays),
		FailedRetention:    days(w.Cleanup.FailedRetentionDays),
		Interval:           w.Cleanup.Interval,
		BatchSize:          w.Cleanup.BatchSize,
	}
}

// EndpointSettings converts the configured merchant endpoints.
func EndpointSettings(w config.WebhookConfig) []service.Endpoint {
	out := make([]service.Endpoint, 0, len(w.Endpoints))
	for _, ep := range w.Endpoints {
		out = append(out, service.Endpoint{
			Name:   ep.Name,
			URL:    ep.URL,
			Method: ep.Method,
			Secret: ep.Secret,
			Events: ep.Events,
		})
	}
	return out
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
