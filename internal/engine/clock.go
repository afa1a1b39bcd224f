package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Clock is the time source for every suspension point in the engine.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// clockTimer adapts a Clock to backoff.Timer so retry delays go through the
// same injectable time source.
type clockTimer struct {
	clock Clock
	c     <-chan time.Time
}

var _ backoff.Timer = (*clockTimer)(nil)

func (t *clockTimer) Start(d time.Duration) { t.c = t.clock.After(d) }
func (t *clockTimer) Stop()                  {}
func (t *clockTimer) C() <-chan time.Time    { return t.c }

// sleep waits for d on clock or until ctx is done.
func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}

// Condition is evaluated by Waiter.Until.
type Condition func(ctx context.Context) (bool, error)

// Waiter suspends until a condition holds, waking on page change
// notifications and on a fallback poll.
type Waiter struct {
	clock   Clock
	poll    time.Duration
	changes <-chan struct{}
}

// NewWaiter returns a waiter. changes may be nil.
func NewWaiter(clock Clock, poll time.Duration, changes <-chan struct{}) *Waiter {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &Waiter{clock: clock, poll: poll, changes: changes}
}

// Until evaluates cond until it returns true, the timeout elapses or ctx is
// done. A timeout is not an error: it returns false, nil. Condition errors are
// treated as "not yet" unless ctx itself is done.
func (w *Waiter) Until(ctx context.Context, timeout time.Duration, cond Condition) (bool, error) {
	deadline := w.clock.Now().Add(timeout)
	for {
		ok, err := cond(ctx)
		if ok && err == nil {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if !w.clock.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-w.changes:
		case <-w.clock.After(w.poll):
		}
	}
}
