package resilience

import (
	"time"
)

// FromRetrySettings builds a RetryConfig from flat configuration values,
// falling back to defaults for zero fields.
func FromRetrySettings(attempts, baseDelayMs, maxDelayMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if attempts > 0 {
		cfg.Attempts = attempts
	}
	if baseDelayMs > 0 {
		cfg.BaseDelay = time.Duration(baseDelayMs) * time.Millisecond
	}
	if maxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	}
	return cfg
}

// FromBreakerSettings builds a BreakerConfig from flat configuration
// values, falling back to defaults for zero fields.
func FromBreakerSettings(failureThreshold, resetTimeoutSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
