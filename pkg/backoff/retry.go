package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FlowtimeProject/flowtime/pkg/timesource"
)

// ExhaustedError reports that every attempt failed. It wraps the last
// failure so callers can inspect the underlying cause with errors.Is/As.
type ExhaustedError struct {
	// Attempts is the total number of invocations made.
	Attempts int

	// Last is the error from the final attempt.
	Last error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Config configures the retry executor.
type Config struct {
	// Policy computes inter-attempt delays.
	Policy Policy

	// MaxRetries is the number of retries after the initial attempt,
	// so a value of 2 allows up to 3 invocations. Negative means none.
	MaxRetries int

	// Retryable decides whether an error is worth retrying.
	// If nil, all non-nil errors are retryable.
	Retryable func(error) bool

	// Source realizes the inter-attempt waits. If nil, the wall clock is used.
	Source timesource.Source

	// OnWait, if set, is called with each delay immediately before waiting.
	// Used for retry accounting and tests.
	OnWait func(attempt int, delay time.Duration)
}

// Retry invokes fn until it succeeds, the retry budget is exhausted, or the
// context is cancelled. On exhaustion it returns an *ExhaustedError wrapping
// the last failure. On cancellation it returns the context error joined with
// the last failure, if any.
func Retry(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	src := cfg.Source
	if src == nil {
		src = timesource.System()
	}
	policy := cfg.Policy.Normalize()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return errors.Join(ctx.Err(), lastErr)
			}
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := policy.Jittered(policy.DelayFor(attempt))
		if cfg.OnWait != nil {
			cfg.OnWait(attempt, delay)
		}

		timer := src.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C():
		}
	}

	return &ExhaustedError{Attempts: cfg.MaxRetries + 1, Last: lastErr}
}
