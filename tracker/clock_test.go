package tracker

import (
	"fmt"
	"testing"
	"time"
)

func TestManualClock_RunsDueTasksInOrder(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewManualClock(start)

	var got []string
	c.AfterFunc(300*time.Millisecond, func() { got = append(got, "c") })
	c.AfterFunc(100*time.Millisecond, func() { got = append(got, "a") })
	c.AfterFunc(100*time.Millisecond, func() { got = append(got, "b") })
	c.AfterFunc(time.Second, func() { got = append(got, "late") })

	c.Advance(500 * time.Millisecond)
	if fmt.Sprint(got) != "[a b c]" {
		t.Fatalf("order: got %v", got)
	}
	if d := c.Now().Sub(start); d != 500*time.Millisecond {
		t.Fatalf("now: got %v, want 500ms", d)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending: got %d, want 1", c.Pending())
	}
}

func TestManualClock_TaskSeesItsDeadline(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewManualClock(start)

	var at time.Duration
	c.AfterFunc(250*time.Millisecond, func() { at = c.Now().Sub(start) })
	c.Advance(time.Second)
	if at != 250*time.Millisecond {
		t.Fatalf("now inside task: got %v, want 250ms", at)
	}
}

func TestManualClock_NestedScheduling(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))

	var runs int
	c.AfterFunc(100*time.Millisecond, func() {
		runs++
		c.AfterFunc(100*time.Millisecond, func() { runs++ })
		c.AfterFunc(time.Second, func() { runs++ })
	})
	c.Advance(300 * time.Millisecond)
	if runs != 2 {
		t.Fatalf("runs: got %d, want 2", runs)
	}
}

func TestManualClock_Cancel(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	var ran bool
	task := c.AfterFunc(time.Millisecond, func() { ran = true })
	task.Cancel()
	task.Cancel()
	c.Advance(time.Second)
	if ran {
		t.Fatal("cancelled task ran")
	}
	if c.Pending() != 0 {
		t.Fatalf("pending: got %d", c.Pending())
	}
}
