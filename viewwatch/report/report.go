// Package report defines the records emitted by viewwatch. Consumers import
// this package to decode what the sinks deliver.
package report

import (
	"encoding/json"
	"fmt"
)

// Event names carried in Report.Event. They match tracker.Event.String.
const (
	EventInit     = "init"
	EventBegin    = "begin"
	EventStop     = "stop"
	EventStay     = "stay"
	EventStopStay = "stop-stay"
)

// ElementRef identifies one tracked element in a report.
type ElementRef struct {
	ID    int    `json:"id"`              // probe-local id, stable for the life of the node
	XPath string `json:"xpath"`
	Tag   string `json:"tag,omitempty"`
	Key   string `json:"key,omitempty"` // value of the configured key attribute
}

// Report is one tracker event as delivered to sinks.
type Report struct {
	ID        string       `json:"id"` // UUIDv7
	PageID    string       `json:"page_id"`
	PageURL   string       `json:"page_url"`
	Event     string       `json:"event"`
	Seq       uint64       `json:"seq"` // monotonically increasing per page
	Elements  []ElementRef `json:"elements"`
	Timestamp int64        `json:"timestamp"` // epoch milliseconds
}

// Keys returns the non-empty Key of each element, falling back to the XPath.
func (r *Report) Keys() []string {
	out := make([]string, 0, len(r.Elements))
	for _, e := range r.Elements {
		if e.Key != "" {
			out = append(out, e.Key)
			continue
		}
		out = append(out, e.XPath)
	}
	return out
}

// Marshal serialises a Report to JSON.
func Marshal(r *Report) ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal deserialises a Report from JSON and checks its event name.
func Unmarshal(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	switch r.Event {
	case EventInit, EventBegin, EventStop, EventStay, EventStopStay:
	default:
		return nil, fmt.Errorf("report: unknown event %q", r.Event)
	}
	if r.Elements == nil {
		r.Elements = []ElementRef{}
	}
	return &r, nil
}
