package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the time source and scheduler of a Tracker.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f once after d unless the returned Task is cancelled first.
	AfterFunc(d time.Duration, f func()) Task
}

// Task is a scheduled one-shot action. Cancel is idempotent: cancelling a
// task that already ran or was already cancelled does nothing.
type Task interface {
	Cancel()
}

// SystemClock schedules with time.AfterFunc. Tasks run on their own
// goroutine, so it is only suitable when nothing else touches the tracker
// concurrently. Hosts that deliver events from other goroutines use Loop.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Task {
	return timerTask{time.AfterFunc(d, f)}
}

type timerTask struct{ t *time.Timer }

func (t timerTask) Cancel() { t.t.Stop() }

// ---------- manual clock ----------

// ManualClock is a deterministic Clock for tests and replays. Time only moves
// through Advance, which runs due tasks in deadline order on the caller's
// goroutine.
type ManualClock struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks []*manualTask
}

type manualTask struct {
	at        time.Time
	seq       uint64
	f         func()
	cancelled atomic.Bool
}

func (t *manualTask) Cancel() { t.cancelled.Store(true) }

// NewManualClock returns a ManualClock positioned at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTask{at: c.now.Add(d), seq: c.seq, f: f}
	c.tasks = append(c.tasks, t)
	return t
}

// Advance moves the clock forward by d, running every task whose deadline
// falls inside the window. Tasks scheduled by running tasks are honoured if
// they are due before the end of the window.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.popDue(target)
		if t == nil {
			break
		}
		t.f()
	}

	c.mu.Lock()
	if target.After(c.now) {
		c.now = target
	}
	c.mu.Unlock()
}

// Pending reports the number of scheduled, uncancelled tasks.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tasks {
		if !t.cancelled.Load() {
			n++
		}
	}
	return n
}

func (c *ManualClock) popDue(target time.Time) *manualTask {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.tasks[:0]
	for _, t := range c.tasks {
		if !t.cancelled.Load() {
			live = append(live, t)
		}
	}
	c.tasks = live
	if len(c.tasks) == 0 {
		return nil
	}

	sort.Slice(c.tasks, func(i, j int) bool {
		if c.tasks[i].at.Equal(c.tasks[j].at) {
			return c.tasks[i].seq < c.tasks[j].seq
		}
		return c.tasks[i].at.Before(c.tasks[j].at)
	})
	next := c.tasks[0]
	if next.at.After(target) {
		return nil
	}
	c.tasks = c.tasks[1:]
	if next.at.After(c.now) {
		c.now = next.at
	}
	return next
}
