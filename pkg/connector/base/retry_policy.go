package base

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/binarymachines/mercury/pkg/config"
	"github.com/binarymachines/mercury/pkg/errors"
)

// RetryPolicy defines retry behavior for connector-level failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// NewRetryPolicy creates a new retry policy with exponential backoff
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        5 * time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// FromConfig creates a retry policy from pipeline configuration.
func FromConfig(cfg config.Retry) *RetryPolicy {
	rp := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		rp.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		rp.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		rp.MaxDelay = cfg.MaxDelay
	}
	if cfg.Multiplier >= 1 {
		rp.Multiplier = cfg.Multiplier
	}
	return rp
}

// Retryable reports whether a connector failure is worth another attempt.
// Configuration errors and per-record errors are never retried.
func Retryable(err error) bool {
	if err == nil || errors.IsConfig(err) || errors.IsRecordLevel(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Execute runs fn until it succeeds, fails with a non-retryable error or
// MaxAttempts is reached. fn receives the 1-based attempt number.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func(attempt int) error) error {
	return rp.ExecuteWithCondition(ctx, fn, Retryable)
}

// ExecuteWithCondition runs a function with retry only if condition is met
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func(attempt int) error, shouldRetry func(error) bool) error {
	var lastErr error
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(attempt + 1)
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Don't retry on the last attempt
		if attempt == attempts-1 {
			break
		}

		if rp.OnRetry != nil {
			rp.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(rp.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", lastErr)
		case <-timer.C:
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

// calculateDelay calculates the delay for a given attempt
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	// jitter
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta
		delay = minDelay + (rand.Float64() * (maxDelay - minDelay)) //nolint:gosec
	}

	return time.Duration(delay)
}

// GetDelay returns the delay for a specific attempt (for testing/preview)
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	return rp.calculateDelay(attempt)
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	c := *rp
	return &c
}

// WithRandomization returns a new policy with updated randomization
func (rp *RetryPolicy) WithRandomization(factor float64) *RetryPolicy {
	policy := rp.Clone()
	policy.RandomizeFactor = factor
	return policy
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}
