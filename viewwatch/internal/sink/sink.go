// Package sink defines output backends for viewwatch reports.
package sink

import (
	"context"

	"github.com/hazyhaar/viewtrack/viewwatch/report"
)

// Sink delivers reports to a backend.
type Sink interface {
	Send(ctx context.Context, r report.Report) error
	Close() error
}
