package chat

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds retry configuration for platform calls.
type RetryConfig struct {
	MaxAttempts int // failed calls before giving up; rate limits do not count
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultRetryConfig returns the retry policy used for dispatch calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Retry runs fn until it succeeds, fails with a non-retryable error or runs
// out of attempts. Rate limits wait the platform's full retry-after and do
// not use up an attempt; only ctx bounds them. Other transient failures back
// off exponentially.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	failures := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if !rateLimited(err) {
			failures++
			if failures >= cfg.MaxAttempts {
				return err
			}
		}

		delay := backoff(cfg, max(failures-1, 0), err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// rateLimited reports whether err carries a usable retry-after.
func rateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl) && rl.RetryAfter > 0
}

func backoff(cfg RetryConfig, attempt int, err error) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}

	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}
