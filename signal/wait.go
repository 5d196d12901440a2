package signal

import (
	"context"
	"sync/atomic"
	"time"
)

// Wait blocks until the signal next fires and returns the fired payload,
// or until ctx is done. The one-shot connection it creates is disconnected
// on whichever outcome happens first.
func (s *Signal[T]) Wait(ctx context.Context) (T, error) {
	return s.wait(ctx, 0)
}

// WaitTimeout is Wait with a deadline. When the deadline elapses before a
// fire, it returns the zero payload and ErrWaitTimeout; the timeout is a
// defined outcome, not a failure. A zero or negative d is an already-expired
// deadline and times out immediately without registering a listener; use
// Wait for an unbounded wait.
func (s *Signal[T]) WaitTimeout(ctx context.Context, d time.Duration) (T, error) {
	if d <= 0 {
		var zero T
		return zero, ErrWaitTimeout
	}
	return s.wait(ctx, d)
}

// wait races a fire against a timeout and ctx. The fire path and the
// timeout path both try to resolve the same oneshot; the first CAS wins
// and the loser becomes a no-op, so the suspended caller can never be
// resumed twice.
func (s *Signal[T]) wait(ctx context.Context, d time.Duration) (T, error) {
	var resolved atomic.Bool
	ch := make(chan T, 1)

	c := s.connect(nil, func(c *Connection[T], v T) {
		if !resolved.CompareAndSwap(false, true) {
			return
		}
		c.Disconnect()
		ch <- v
	})
	defer c.Disconnect()

	var timeout <-chan time.Time
	if d > 0 {
		t := s.clk.Timer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case v := <-ch:
		return v, nil
	case <-timeout:
		if resolved.CompareAndSwap(false, true) {
			var zero T
			return zero, ErrWaitTimeout
		}
		// The fire path won the race; its payload is already in flight.
		return <-ch, nil
	case <-ctx.Done():
		if resolved.CompareAndSwap(false, true) {
			var zero T
			return zero, ctx.Err()
		}
		return <-ch, nil
	}
}
