// Package retry implements the fixed-schedule retry policy used for page
// fetches and for whole-job redelivery.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultSchedule is the delay sequence applied between attempts.
var DefaultSchedule = []time.Duration{10 * time.Second, 20 * time.Second, 60 * time.Second}

// DefaultMaxAttempts counts the initial attempt plus three retries.
const DefaultMaxAttempts = 4

// ErrExhausted is wrapped by Do when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy is a bounded retry policy with an ordered delay schedule. Past the
// end of the schedule the last delay is reused.
type Policy struct {
	MaxAttempts int
	Schedule    []time.Duration
	// OnRetry, when set, is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep func(context.Context, time.Duration) error
}

// Default returns the standard policy: four attempts, waiting 10s, 20s, 60s.
func Default() Policy {
	return New(DefaultMaxAttempts, DefaultSchedule)
}

// New builds a Policy, copying the schedule.
func New(maxAttempts int, schedule []time.Duration) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return Policy{
		MaxAttempts: maxAttempts,
		Schedule:    append([]time.Duration(nil), schedule...),
	}
}

// Backoff returns the delay that follows the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if len(p.Schedule) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Schedule) {
		idx = len(p.Schedule) - 1
	}
	return p.Schedule[idx]
}

// ShouldRetry reports whether another attempt is allowed after attempt failed.
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Do runs fn until it succeeds, the attempts are spent or ctx ends. The
// attempt number passed to fn is 1-based.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("attempt %d canceled: %w", attempt, ctx.Err())
		}
		if !p.ShouldRetry(attempt) {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, lastErr)
		}
		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry wait: %w", err)
		}
	}
}

// WithSleeper returns a copy of p that waits using sleep. Tests use it to
// skip real delays.
func (p Policy) WithSleeper(sleep func(context.Context, time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
