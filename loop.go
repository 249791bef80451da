package director

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"vawter.tech/stopper"
)

// Loop runs posted callbacks one at a time, in order, on a single goroutine.
// Every orchestrator, job and waiter callback executes on the loop, so the
// state they touch needs no locking.
type Loop struct {
	clock clockwork.Clock

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

// NewLoop creates a loop whose timers use clock. A nil clock selects the real clock.
func NewLoop(clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

// Clock returns the clock used for loop timers
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Post queues fn to run on the loop. It never blocks and may be called from any goroutine,
// including from a callback already running on the loop.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc posts fn to the loop once d has elapsed
func (l *Loop) AfterFunc(d time.Duration, fn func()) clockwork.Timer {
	return l.clock.AfterFunc(d, func() { l.Post(fn) })
}

// Start runs the loop on a goroutine owned by ctx until ctx begins stopping
func (l *Loop) Start(ctx *stopper.Context) {
	ctx.Go(func(ctx *stopper.Context) error {
		for {
			select {
			case <-ctx.Stopping():
				return nil
			case <-l.wake:
				l.drain()
			}
		}
	})
}

// Invoke runs fn on the loop and waits for it to return.
// It must not be called from a loop callback.
func (l *Loop) Invoke(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
	}
}
