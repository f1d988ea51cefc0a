package loop

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Call when the loop no longer accepts work.
var ErrStopped = errors.New("event loop stopped")

// Loop executes posted closures sequentially on a single goroutine.
type Loop struct {
	queue  *queue[func()]
	logger *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
	panics   atomic.Int64
}

// New creates a Loop. Run must be called for posted work to execute.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		queue:  newQueue[func()](64),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Post enqueues fn. It never blocks. Returns false once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	return l.queue.push(fn)
}

// Call posts fn and waits until it has run. It must not be used from inside
// the loop, which would deadlock.
func (l *Loop) Call(fn func()) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-ran:
		return nil
	case <-l.done:
		// The closure may still have run during the final drain.
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run processes closures until ctx is cancelled or Stop is called.
// Closures already queued when the loop stops are still executed.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-stopWatch:
		}
	}()

	l.logger.Debug("event loop started")

	for {
		fn, ok := l.queue.pop()
		if !ok {
			l.logger.Debug("event loop stopped")
			return ctx.Err()
		}
		l.run(fn)
	}
}

// Stop closes the queue. Run returns after draining what was already posted.
func (l *Loop) Stop() {
	l.stopOnce.Do(l.queue.close)
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Pending returns the number of closures waiting to run.
func (l *Loop) Pending() int {
	return l.queue.len()
}

// Panics returns how many closures have panicked and been recovered.
func (l *Loop) Panics() int64 {
	return l.panics.Load()
}

// run executes a single closure, recovering panics so one faulty handler
// cannot stop synchronization.
func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Error("event loop task panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// Timer is a one-shot timer whose callback runs on the loop.
type Timer struct {
	t       *time.Timer
	stopped atomic.Bool
}

// AfterFunc runs fn on the loop after d elapses.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.stopped.Load() {
				return
			}
			fn()
		})
	})
	return tm
}

// Stop prevents the callback from running. When called on the loop it is
// guaranteed that the callback has either already run or never will.
// Returns true if the timer had not yet fired.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	t.stopped.Store(true)
	return t.t.Stop()
}
