package advisory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultCallsPerMinute = 30

// callBudget caps provider round trips in a rolling one-minute window. Every
// attempt spends a slot, retries included. After the provider answers 429 all
// callers hold off until the cooldown has passed.
type callBudget struct {
	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu          sync.Mutex
	started     []time.Time // oldest first, all inside the window
	pausedUntil time.Time
	limit       int
	window      time.Duration
}

func newCallBudget(callsPerMinute int) *callBudget {
	if callsPerMinute <= 0 {
		callsPerMinute = defaultCallsPerMinute
	}
	return &callBudget{
		now:    time.Now,
		after:  time.After,
		limit:  callsPerMinute,
		window: time.Minute,
	}
}

// acquire blocks until a slot is claimed or ctx ends.
func (b *callBudget) acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("advisory call budget: %w", err)
		}
		delay := b.reserve()
		if delay <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("advisory call budget: %w", ctx.Err())
		case <-b.after(delay):
		}
	}
}

// reserve claims a slot and returns zero, or returns how long until one may free up.
func (b *callBudget) reserve() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.expire(now)
	if now.Before(b.pausedUntil) {
		return b.pausedUntil.Sub(now)
	}
	if len(b.started) < b.limit {
		b.started = append(b.started, now)
		return 0
	}
	return b.started[0].Add(b.window).Sub(now)
}

// throttle pauses every caller for d. An earlier pause is never shortened.
func (b *callBudget) throttle(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if until := b.now().Add(d); until.After(b.pausedUntil) {
		b.pausedUntil = until
	}
}

// remaining reports the slots still free in the current window.
func (b *callBudget) remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expire(b.now())
	return b.limit - len(b.started)
}

func (b *callBudget) expire(now time.Time) {
	cutoff := now.Add(-b.window)
	n := 0
	for n < len(b.started) && !b.started[n].After(cutoff) {
		n++
	}
	b.started = b.started[n:]
}
