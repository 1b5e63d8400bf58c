// Package retry runs a step a bounded number of times with a fixed pause.
package retry

import (
	"context"
	"errors"
	"time"

	"einkpipe-go/errcode"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy bounds how long a stage waits for a ring region.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Sleep       SleepFunc // nil uses a timer
}

// DefaultPolicy is 200 attempts 5 ms apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 200, Backoff: 5 * time.Millisecond}
}

// ErrExhausted wraps the last failure once the attempts run out.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Retryable decides which failures are worth another attempt. Only
// BufferExhausted is, by default.
func Retryable(err error) bool { return errors.Is(err, errcode.BufferExhausted) }

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts run out or ctx is cancelled. It returns the number of calls made.
func (p Policy) Do(ctx context.Context, fn func() error) (int, error) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !Retryable(err) {
			return attempt, err
		}
		if attempt >= limit {
			return attempt, errors.Join(ErrExhausted, err)
		}
		if serr := sleep(ctx, p.Backoff); serr != nil {
			return attempt, serr
		}
	}
}

// Sleep waits on a timer, returning early with ctx.Err().
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep skips the pause; tests use it to run the full attempt budget.
func NoSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }
