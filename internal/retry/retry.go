// Package retry implements bounded retries with backoff for transient tool
// and provider failures. The tool loop allows exactly one retry per tool
// call; LLM calls use a slightly wider budget.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff is the wait after a failed attempt.
	Backoff time.Duration
	// Jitter randomizes the backoff by +/-50%.
	Jitter bool
}

// Once returns the tool-loop policy: two attempts total with a short pause.
func Once(backoff time.Duration) Config {
	return Config{MaxAttempts: 2, Backoff: backoff, Jitter: true}
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error to stop further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the no-retry marker.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Do runs op until it succeeds, exhausts attempts, hits a permanent error,
// or the context is done. It returns the last error.
func Do(ctx context.Context, cfg Config, op func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		sleep := cfg.Backoff
		if cfg.Jitter && sleep > 0 {
			sleep = time.Duration(float64(sleep) * (0.5 + rand.Float64())) // #nosec G404 -- jitter only
		}
		if sleep > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
		}
	}
	return lastErr
}

// DoWithValue runs an op returning a value under the same policy.
func DoWithValue[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	var value T
	err := Do(ctx, cfg, func() error {
		var opErr error
		value, opErr = op()
		return opErr
	})
	return value, err
}
