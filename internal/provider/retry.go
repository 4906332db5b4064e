package provider

import (
	"context"
	"errors"
	"math"
	"time"

	appconfig "marketflow/config"
)

// IsRetryable reports whether another attempt could help. Empty replies and
// cancelled contexts are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSourceEmpty) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Backoff returns the delay before attempt n+1 given n failed attempts so far.
func Backoff(cfg appconfig.RetryConfig, n int) time.Duration {
	if n < 1 {
		return 0
	}
	mult := cfg.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(mult, float64(n-1)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// Retry calls fn up to cfg.MaxAttempts times, sleeping Backoff between
// attempts, and stops early on success or a non-retryable error.
func Retry(ctx context.Context, cfg appconfig.RetryConfig, fn func(ctx context.Context, attempt int) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for n := 1; n <= attempts; n++ {
		if err = fn(ctx, n); err == nil || !IsRetryable(err) {
			return err
		}
		if n == attempts {
			break
		}

		timer := time.NewTimer(Backoff(cfg, n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
