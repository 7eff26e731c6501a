package tracker

import "time"

// DwellThreshold is the continuous visible span an element must exceed to
// count as a stay. It is also the grace period after a settle.
const DwellThreshold = 3000 * time.Millisecond

// stayTimer is the one-shot grace period armed on stop and cancelled by
// begin. Arming while a task is pending replaces it.
type stayTimer struct {
	clock   Clock
	delay   time.Duration
	pending Task
	armedAt time.Time
	fire    func()
}

func (s *stayTimer) arm() {
	s.cancel()
	s.armedAt = s.clock.Now()
	s.pending = s.clock.AfterFunc(s.delay, func() {
		s.pending = nil
		s.fire()
	})
}

func (s *stayTimer) cancel() {
	if s.pending != nil {
		s.pending.Cancel()
		s.pending = nil
	}
}

func (s *stayTimer) armed() bool { return s.pending != nil }

// recordEnter opens a visible span for e. The first enter of an element
// re-observed by Reload is dated from the reload.
func (t *Tracker[E]) recordEnter(e E) {
	st := t.states.ensure(e)
	st.entry = t.clock.Now()
	if t.reobserved.remove(e) {
		st.entry = t.reloadedAt
	}
	st.exit = time.Time{}
}

// recordExit closes the visible span of e and stages it as a stay
// candidate when the span exceeded DwellThreshold. Exits without a
// recorded entry, and repeated exits, are ignored.
func (t *Tracker[E]) recordExit(e E) {
	st, ok := t.states.get(e)
	if !ok || st.entry.IsZero() || !st.exit.IsZero() {
		return
	}
	st.exit = t.clock.Now()
	if st.exit.Sub(st.entry) > DwellThreshold {
		t.stayed.add(e)
	}
	t.states.drop(e)
}

// graceElapsed runs when the stay timer fires undisturbed: elements that
// stayed visible for the whole grace period join the candidates, then stay
// and the second stop-stay wave go out.
func (t *Tracker[E]) graceElapsed() {
	now := t.clock.Now()
	for _, e := range t.visible.snapshot() {
		if t.stayed.has(e) {
			continue
		}
		st, ok := t.states.get(e)
		if !ok || !st.exit.IsZero() || st.entry.After(t.grace.armedAt) {
			continue
		}
		t.stayed.add(e)
		// Mark the span as reported; a later exit must not count it twice.
		st.exit = now
	}

	t.logger.Debug("tracker: grace period elapsed",
		"stayed", t.stayed.len(), "visible", t.visible.len())
	t.FireEvent(EventStay, t.stayed.snapshot())

	second := make([]E, 0, t.visible.len())
	for _, e := range t.visible.snapshot() {
		if !t.firstWave.has(e) {
			second = append(second, e)
		}
	}
	t.firstWave.clear()
	t.FireEvent(EventStopStay, second)
}
