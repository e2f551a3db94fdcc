// Package retry runs an operation a bounded number of times with a fixed spacing.
//
// Waits between attempts honour context cancellation, so a retry sequence can be
// started off the daemon loop (see Policy.Start) and abandoned on shutdown.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// ClockWait returns a WaitFunc backed by clk.
func ClockWait(clk clock.Clock) WaitFunc {
	return func(ctx context.Context, d time.Duration) error {
		t := clk.Timer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}

// DefaultWait waits on the wall clock.
var DefaultWait = ClockWait(clock.New())

// Policy is an attempt-count and interval contract.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int
	// Interval is the delay between two consecutive attempts.
	Interval time.Duration
	// Wait is used between attempts. nil means the wall clock.
	Wait WaitFunc
}

// Do calls fn until it returns nil or p.Attempts calls have failed.
// attempt starts at 1.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	wait := p.Wait
	if wait == nil {
		wait = DefaultWait
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if werr := wait(ctx, p.Interval); werr != nil {
			return werr
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
}

// Start runs Do in its own goroutine. The result is delivered on the returned channel,
// which is buffered so an abandoned result does not leak the goroutine.
func (p Policy) Start(ctx context.Context, fn func(attempt int) error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- p.Do(ctx, fn)
	}()
	return ch
}
