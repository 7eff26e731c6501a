package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLoopStopped is returned when work is submitted to a Loop that has exited.
var ErrLoopStopped = errors.New("tracker: loop stopped")

// Loop is a serial executor. Everything a Tracker does (visibility batches,
// scroll notifications, timer firings, API calls) is funnelled through one
// Loop so that no two of them ever run concurrently.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewLoop creates a Loop with the given queue depth. Call Run to start it.
func NewLoop(queue int, logger *slog.Logger) *Loop {
	if queue <= 0 {
		queue = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		tasks:  make(chan func(), queue),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run executes submitted work until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.tasks:
			l.run(f)
		}
	}
}

func (l *Loop) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("tracker: loop task panicked", "panic", r)
		}
	}()
	f()
}

// Do queues f for execution. It reports false if the loop has stopped.
func (l *Loop) Do(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- f:
		return true
	case <-l.done:
		return false
	}
}

// Exec runs f on the loop and waits for it to return.
func (l *Loop) Exec(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	if !l.Do(func() { defer close(finished); f() }) {
		return ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Clock returns a wall Clock whose tasks run on the loop.
func (l *Loop) Clock() Clock { return loopClock{l} }

type loopClock struct{ l *Loop }

func (loopClock) Now() time.Time { return time.Now() }

func (c loopClock) AfterFunc(d time.Duration, f func()) Task {
	t := &loopTask{}
	t.timer = time.AfterFunc(d, func() {
		c.l.Do(func() {
			// Cancel may have happened after the timer fired but before
			// the loop got to this task.
			if t.cancelled.Load() {
				return
			}
			f()
		})
	})
	return t
}

type loopTask struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

func (t *loopTask) Cancel() {
	t.cancelled.Store(true)
	t.timer.Stop()
}
