package tracker

import "regexp"

// Event is one of the signals a Tracker dispatches.
type Event int

const (
	// EventInit fires once after the first visibility batch and on every Reload.
	EventInit Event = iota
	// EventBegin fires on the first scroll notification after idle.
	EventBegin
	// EventStop carries the exposure flush (initial load and scroll settle).
	EventStop
	// EventStay carries the elements whose dwell exceeded DwellThreshold.
	EventStay
	// EventStopStay is the companion signal fired at settle and after the grace period.
	EventStopStay

	numEvents
)

// NumEvents is the number of distinct events.
const NumEvents = int(numEvents)

var eventNames = [numEvents]string{
	EventInit:     "init",
	EventBegin:    "begin",
	EventStop:     "stop",
	EventStay:     "stay",
	EventStopStay: "stop-stay",
}

// Events lists every event in declaration order.
func Events() []Event {
	return []Event{EventInit, EventBegin, EventStop, EventStay, EventStopStay}
}

func (e Event) String() string {
	if e < 0 || e >= numEvents {
		return "unknown"
	}
	return eventNames[e]
}

var validName = regexp.MustCompile(`^[\w-]+$`)

// ParseEvent maps an event name ("stop", "stop-stay", ...) to its Event.
// Malformed or unknown names report false.
func ParseEvent(name string) (Event, bool) {
	if !validName.MatchString(name) {
		return 0, false
	}
	for i, n := range eventNames {
		if n == name {
			return Event(i), true
		}
	}
	return 0, false
}

// Handler receives an event. t is the dispatching tracker and elems a copy of
// the payload; it is nil for EventInit and EventBegin.
type Handler[E comparable] func(t *Tracker[E], elems []E)

// bus keeps an ordered subscriber list per event.
type bus[E comparable] struct {
	handlers [numEvents][]Handler[E]
}

func (b *bus[E]) add(ev Event, h Handler[E]) bool {
	if h == nil || ev < 0 || ev >= numEvents {
		return false
	}
	b.handlers[ev] = append(b.handlers[ev], h)
	return true
}

func (b *bus[E]) dispatch(t *Tracker[E], ev Event, elems []E) {
	if ev < 0 || ev >= numEvents {
		return
	}
	// Handlers registered while dispatching run from the next dispatch on.
	hs := b.handlers[ev]
	for _, h := range hs {
		h(t, elems)
	}
}

func (b *bus[E]) count(ev Event) int {
	if ev < 0 || ev >= numEvents {
		return 0
	}
	return len(b.handlers[ev])
}
