// Package timeout provides a generic deadline wrapper for blocking external
// calls. The caller regains control at or before the deadline even when the
// wrapped operation cannot be interrupted: cancellation is requested
// cooperatively through the operation's context, and an operation that keeps
// running is abandoned while it finishes detached.
package timeout

import (
	"context"
	"errors"
	"time"
)

// ErrTimedOut reports that an operation exceeded its deadline. It is a
// distinct outcome from an operation error so callers can render a specific
// suggestion instead of a generic failure. Match with errors.Is.
var ErrTimedOut = errors.New("operation timed out")

// For mocking in tests
var newTimer = time.NewTimer

// Do runs op with the given deadline. It returns op's result if it completes
// in time, ErrTimedOut if the deadline passes first, or ctx.Err() if the
// surrounding context is cancelled. An op that outlives the deadline runs to
// completion detached; use DoAbandon when its result owns a resource.
func Do[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	return DoAbandon(ctx, d, op, nil)
}

// DoAbandon is Do with a cleanup hook: when the operation is abandoned (the
// deadline passed or ctx was cancelled) but later completes successfully,
// abandoned is called with the late result so the resource it acquired can
// be released instead of leaking. abandoned may be nil.
func DoAbandon[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error), abandoned func(T)) (T, error) {
	type outcome struct {
		val T
		err error
	}

	opCtx, cancel := context.WithCancel(ctx)

	done := make(chan outcome, 1)
	go func() {
		val, err := op(opCtx)
		done <- outcome{val: val, err: err}
	}()

	// Drains the detached operation after abandonment and releases any
	// late-acquired resource. Runs at most once per call.
	drain := func() {
		cancel()
		go func() {
			out := <-done
			if out.err == nil && abandoned != nil {
				abandoned(out.val)
			}
		}()
	}

	timer := newTimer(d)
	defer timer.Stop()

	select {
	case out := <-done:
		cancel()
		return out.val, out.err

	case <-timer.C:
		drain()
		var zero T
		return zero, ErrTimedOut

	case <-ctx.Done():
		drain()
		var zero T
		return zero, ctx.Err()
	}
}
