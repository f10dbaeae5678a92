// Package poll is a bounded polling helper for callers that wait on
// external render or ingest jobs. Governance admission covers the
// first call of a polling cycle, not each tick, so the loop itself
// carries its own attempt ceiling and total timeout instead of relying
// on the caller to remember to stop.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is returned when MaxAttempts ticks completed
// without the condition becoming true.
var ErrAttemptsExhausted = errors.New("poll: attempts exhausted")

// Config bounds one polling cycle.
type Config struct {
	// Interval between ticks.
	Interval time.Duration
	// MaxAttempts caps the number of ticks. Zero means unlimited
	// (bounded only by Timeout).
	MaxAttempts int
	// Timeout caps the whole cycle. Zero means unlimited (bounded only
	// by MaxAttempts and ctx).
	Timeout time.Duration
}

// Until calls fn every Interval until it reports done, an attempt or
// time bound is hit, or ctx is cancelled. fn errors abort the cycle
// immediately.
func Until(ctx context.Context, cfg Config, fn func(ctx context.Context) (done bool, err error)) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("poll: interval must be positive, got %s", cfg.Interval)
	}
	if cfg.MaxAttempts == 0 && cfg.Timeout == 0 {
		return fmt.Errorf("poll: either max attempts or timeout must bound the cycle")
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return ErrAttemptsExhausted
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
