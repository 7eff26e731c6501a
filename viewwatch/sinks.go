package viewwatch

import (
	"io"

	"github.com/hazyhaar/viewtrack/viewwatch/internal/sink"
)

// Sink is the output interface for viewwatch reports.
type Sink = sink.Sink

// ReportFunc is called for each report delivered to a callback sink.
type ReportFunc = sink.ReportFunc

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewCallbackSink creates an in-process sink. With events, only reports of
// those event names are delivered.
func NewCallbackSink(fn ReportFunc, events ...string) Sink {
	return sink.NewCallback(fn, events...)
}
