package sink

import (
	"context"

	"github.com/hazyhaar/viewtrack/viewwatch/report"
)

// ReportFunc is called for each report, in-process.
type ReportFunc func(ctx context.Context, r report.Report) error

// Callback delivers reports as Go function calls. Reports may be filtered
// by event name.
type Callback struct {
	fn     ReportFunc
	events map[string]bool
}

// NewCallback creates a Callback sink. With no events every report is
// delivered. A nil fn makes the sink a no-op.
func NewCallback(fn ReportFunc, events ...string) *Callback {
	c := &Callback{fn: fn}
	if len(events) > 0 {
		c.events = make(map[string]bool, len(events))
		for _, e := range events {
			c.events[e] = true
		}
	}
	return c
}

func (c *Callback) Send(ctx context.Context, r report.Report) error {
	if c.fn == nil {
		return nil
	}
	if c.events != nil && !c.events[r.Event] {
		return nil
	}
	return c.fn(ctx, r)
}

func (c *Callback) Close() error { return nil }
