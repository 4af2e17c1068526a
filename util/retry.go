package util

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// ShouldRetryFunc decides whether an error is transient. A nil func retries nothing.
	ShouldRetryFunc func(error) bool

	// OnRetry is called before each backoff sleep with the upcoming attempt number.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig provides sensible defaults for retry operations
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   1 * time.Second,
	}
}

// RetryAll treats every error as transient.
func RetryAll(error) bool { return true }

// RetryTransient retries everything except context errors and errors that report
// themselves as permanent through a Temporary() bool method.
func RetryTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

// Backoff returns the delay before the given attempt (1-based), without jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Retry runs operation until it succeeds, returns a non-retriable error, runs out of
// attempts or ctx is done. Delays grow exponentially with up to 10% jitter.
func Retry(ctx context.Context, config RetryConfig, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := config.Backoff(attempt)
			delay += time.Duration(rand.Float64() * float64(delay) * 0.1)

			if config.OnRetry != nil {
				config.OnRetry(attempt, lastErr)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if config.ShouldRetryFunc == nil || !config.ShouldRetryFunc(err) {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", config.MaxRetries, lastErr)
}
