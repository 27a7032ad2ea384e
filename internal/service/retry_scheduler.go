package service

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy is the retry/backoff configuration for delivery attempts.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy returns 5 attempts backing off 1m, 2m, 4m, 8m capped at 24h.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Minute,
		MaxDelay:     24 * time.Hour,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ExponentialRetryScheduler implements ports.RetryScheduler.
// Safe for concurrent use.
type ExponentialRetryScheduler struct {
	policy RetryPolicy
	rand   func() float64
}

// NewRetryScheduler creates a scheduler for policy.
func NewRetryScheduler(policy RetryPolicy) *ExponentialRetryScheduler {
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	return &ExponentialRetryScheduler{policy: policy, rand: rand.Float64}
}

// Policy returns the configured policy.
func (s *ExponentialRetryScheduler) Policy() RetryPolicy {
	return s.policy
}

// Delay is the non-jittered wait after the failedAttempts-th failure:
// min(initial * multiplier^(failedAttempts-1), max).
func (s *ExponentialRetryScheduler) Delay(failedAttempts int) time.Duration {
	n := failedAttempts - 1
	if n < 0 {
		n = 0
	}
	d := float64(s.policy.InitialDelay) * math.Pow(s.policy.Multiplier, float64(n))
	if d > float64(s.policy.MaxDelay) || math.IsInf(d, 1) || math.IsNaN(d) {
		return s.policy.MaxDelay
	}
	return time.Duration(d)
}

// Jittered draws uniformly from [0.5d, 1.5d] when jitter is enabled.
func (s *ExponentialRetryScheduler) Jittered(d time.Duration) time.Duration {
	if !s.policy.Jitter || d <= 0 {
		return d
	}
	return time.Duration(float64(d) * (0.5 + s.rand()))
}

// NextAttemptAt returns when the record is next due after its
// failedAttempts-th failure.
func (s *ExponentialRetryScheduler) NextAttemptAt(now time.Time, failedAttempts int) time.Time {
	return now.Add(s.Jittered(s.Delay(failedAttempts)))
}

// Ladder lists the deterministic delay before each retry.
func (s *ExponentialRetryScheduler) Ladder() []time.Duration {
	if s.policy.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, s.policy.MaxAttempts-1)
	for i := 1; i < s.policy.MaxAttempts; i++ {
		out = append(out, s.Delay(i))
	}
	return out
}
