package tracker

import "time"

// elementState is the dwell bookkeeping of one element. A zero time means
// "not recorded".
type elementState struct {
	entry time.Time
	exit  time.Time
}

// stateStore is the identity-keyed side table holding per-element
// bookkeeping. Elements themselves are never touched, so two trackers
// observing the same elements do not interfere.
type stateStore[E comparable] struct {
	m map[E]*elementState
}

func newStateStore[E comparable]() *stateStore[E] {
	return &stateStore[E]{m: make(map[E]*elementState)}
}

func (s *stateStore[E]) get(e E) (*elementState, bool) {
	st, ok := s.m[e]
	return st, ok
}

// ensure returns the state of e, creating it on first use.
func (s *stateStore[E]) ensure(e E) *elementState {
	st, ok := s.m[e]
	if !ok {
		st = &elementState{}
		s.m[e] = st
	}
	return st
}

func (s *stateStore[E]) drop(e E) { delete(s.m, e) }

func (s *stateStore[E]) purge() { clear(s.m) }

func (s *stateStore[E]) len() int { return len(s.m) }
