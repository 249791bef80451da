package director

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Predicate reports whether the condition a Waiter polls for is satisfied
type Predicate func() bool

// PollSchedule returns the spacing between predicate checks and the number of
// checks for a timeout budget. Long budgets poll once a second, medium budgets
// poll ten times, and budgets of 100ms or less are checked once.
func PollSchedule(timeout time.Duration) (interval time.Duration, checks int) {
	switch {
	case timeout > 10*time.Second:
		return time.Second, int(timeout / time.Second)
	case timeout > time.Second/10:
		return timeout / 10, 10
	default:
		return timeout, 1
	}
}

// Waiter polls a predicate on the loop until it holds or the timeout budget is spent.
// Exactly one of the trigger or timeout handlers runs per Arm.
type Waiter struct {
	loop      *Loop
	predicate Predicate
	onTrigger func()
	onTimeout func()

	timer    clockwork.Timer
	interval time.Duration
	ticks    int
	maxTicks int
	armed    bool
	// generation discards timer callbacks that were already posted when the waiter was re-armed or stopped
	generation uint64
}

// NewWaiter creates a waiter that calls onTrigger when predicate holds and
// onTimeout when the budget is exhausted. Both run on the loop.
func NewWaiter(loop *Loop, predicate Predicate, onTrigger, onTimeout func()) *Waiter {
	return &Waiter{
		loop:      loop,
		predicate: predicate,
		onTrigger: onTrigger,
		onTimeout: onTimeout,
	}
}

// Arm starts polling with the given budget, replacing any earlier arming.
// Must be called on the loop.
func (w *Waiter) Arm(timeout time.Duration) {
	w.Stop()
	w.interval, w.maxTicks = PollSchedule(timeout)
	w.ticks = 0
	w.armed = true
	w.schedule()
}

// Stop cancels polling without running either handler. Must be called on the loop.
func (w *Waiter) Stop() {
	w.generation++
	w.armed = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Armed reports whether the waiter is still polling
func (w *Waiter) Armed() bool {
	return w.armed
}

// Ticks returns the number of unsatisfied checks since the last Arm
func (w *Waiter) Ticks() int {
	return w.ticks
}

func (w *Waiter) schedule() {
	gen := w.generation
	w.timer = w.loop.AfterFunc(w.interval, func() { w.tick(gen) })
}

func (w *Waiter) tick(gen uint64) {
	if gen != w.generation || !w.armed {
		return
	}

	if w.predicate() {
		w.Stop()
		if w.onTrigger != nil {
			w.onTrigger()
		}
		return
	}

	w.ticks++
	if w.ticks >= w.maxTicks {
		w.Stop()
		if w.onTimeout != nil {
			w.onTimeout()
		}
		return
	}

	w.schedule()
}
