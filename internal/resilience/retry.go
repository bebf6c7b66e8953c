package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// Attempts is the total number of attempts including the first try.
	// A value of 1 means no retries. Default: 3.
	Attempts int

	// BaseDelay is the delay before the first retry. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 30s.
	MaxDelay time.Duration

	// Factor scales the delay after each attempt. Default: 2.0.
	Factor float64

	// Jitter adds random jitter as a fraction of the computed delay
	// (0.25 means up to ±25%). Default: 0.25.
	Jitter float64

	// ShouldRetry overrides the default IsTransient check when set.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with the attempt number
	// about to run and the error that triggered it.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry settings used for bridge calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
		Factor:    2.0,
		Jitter:    0.25,
	}
}

// Do runs fn, retrying transient failures per cfg. Non-transient errors
// and context cancellation return immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt >= cfg.Attempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}

		timer := time.NewTimer(backoff(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 2.0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return cfg
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Factor, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		spread := delay * cfg.Jitter
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// LogRetries returns an OnRetry callback that logs each retry.
func LogRetries(operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
