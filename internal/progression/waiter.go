package progression

import (
	"context"
	"errors"
	"time"
)

// errDeadlineReached is returned by waiter.Wait when the deadline passed
// before the watched condition became true.
var errDeadlineReached = errors.New("deadline reached")

// waiter sleeps between polls of a slow external condition.
// The first sleep lasts the base interval, the second twice the base
// interval, all following sleeps three times the base interval.
// Wait never sleeps past the deadline.
type waiter struct {
	base     time.Duration
	deadline time.Time
	waits    uint
}

func newWaiter(base time.Duration, deadline time.Time) *waiter {
	return &waiter{
		base:     base,
		deadline: deadline,
	}
}

func (w *waiter) interval() time.Duration {
	switch w.waits {
	case 0:
		return w.base
	case 1:
		return 2 * w.base
	default:
		return 3 * w.base
	}
}

// Wait blocks for the current interval.
// It returns errDeadlineReached when the deadline passed and the error of
// ctx when it was cancelled while waiting.
func (w *waiter) Wait(ctx context.Context) error {
	remaining := time.Until(w.deadline)
	if remaining <= 0 {
		return errDeadlineReached
	}

	interval := w.interval()
	w.waits++

	deadlineEndsWait := false
	if interval >= remaining {
		interval = remaining
		deadlineEndsWait = true
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if deadlineEndsWait {
			return errDeadlineReached
		}

		return nil
	}
}
