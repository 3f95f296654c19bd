// Package retry provides a bounded exponential-backoff primitive for
// transient failures (network errors, timeouts, flaky login steps).
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptsExhausted is returned when every attempt failed. The last
// attempt's error is wrapped alongside it.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Config bounds a retry loop.
type Config struct {
	// MaxAttempts counts the initial attempt too. Values below 1 mean 1.
	MaxAttempts int
	// InitialDelay is the delay before the first retry; it doubles
	// (times Multiplier) on each subsequent retry, capped at MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Retryable decides whether an error is worth another attempt.
	// nil retries everything.
	Retryable func(error) bool
}

// DefaultConfig is suitable for single page fetches.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
	}
}

type exhaustedError struct{ last error }

func (e *exhaustedError) Error() string {
	return "retry attempts exhausted: " + e.last.Error()
}

func (e *exhaustedError) Unwrap() []error { return []error{ErrAttemptsExhausted, e.last} }

// Do runs fn until it succeeds, the attempt budget runs out, a
// non-retryable error occurs, or ctx is cancelled. The attempt itself
// receives ctx so in-flight work is cancelled too.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return &exhaustedError{last: lastErr}
}
