package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/jdziat/jobflow/pkg/core"
)

// RetryConfig holds configuration for retry with backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay.
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to the delay after each attempt.
	BackoffMultiplier float64

	// JitterFraction is the fraction of the delay to randomize (0.0 to 1.0).
	JitterFraction float64
}

// DefaultRetryConfig returns the retry configuration used for storage calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// DefaultJobBackoff returns the delay policy between failed job attempts:
// 1s doubling up to a minute.
func DefaultJobBackoff() RetryConfig {
	return RetryConfig{
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Backoff returns the delay after the given 1-based failed attempt.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := c.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(c.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.JitterFraction > 0 {
		d += d * c.JitterFraction * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		return c.InitialBackoff
	}
	return time.Duration(d)
}

// retryWithBackoff runs operation until it succeeds, the attempts are spent,
// or ctx is done. Context errors from operation are returned immediately.
func retryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	for attempt := 1; attempt <= max(config.MaxAttempts, 1); attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) || attempt >= config.MaxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.Backoff(attempt)):
		}
	}
	return lastErr
}

// IsRetryableError reports whether a storage error is worth retrying.
// Context errors and lost ownership are not; everything else is assumed
// transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, core.ErrJobNotOwned)
}
