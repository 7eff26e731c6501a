package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type el struct{ name string }

type memHost struct {
	elems      []*el
	observed   map[*el]bool
	calls      []string
	resolveErr error
}

func newMemHost(names ...string) *memHost {
	h := &memHost{observed: make(map[*el]bool)}
	for _, n := range names {
		h.elems = append(h.elems, &el{name: n})
	}
	return h
}

func (h *memHost) get(name string) *el {
	for _, e := range h.elems {
		if e.name == name {
			return e
		}
	}
	panic("no element " + name)
}

func (h *memHost) Resolve(context.Context) ([]*el, error) {
	if h.resolveErr != nil {
		return nil, h.resolveErr
	}
	return append([]*el(nil), h.elems...), nil
}

func (h *memHost) Observe(_ context.Context, e *el) error {
	h.observed[e] = true
	h.calls = append(h.calls, "observe:"+e.name)
	return nil
}

func (h *memHost) Unobserve(_ context.Context, e *el) error {
	delete(h.observed, e)
	h.calls = append(h.calls, "unobserve:"+e.name)
	return nil
}

type fired struct {
	ev    Event
	at    time.Duration
	elems string
}

type recorder struct {
	start  time.Time
	clock  *ManualClock
	events []fired
}

func (r *recorder) handler(ev Event) Handler[*el] {
	return func(_ *Tracker[*el], elems []*el) {
		r.events = append(r.events, fired{ev: ev, at: r.clock.Now().Sub(r.start), elems: names(elems)})
	}
}

func (r *recorder) of(ev Event) []fired {
	var out []fired
	for _, f := range r.events {
		if f.ev == ev {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) sequence() string {
	parts := make([]string, len(r.events))
	for i, f := range r.events {
		parts[i] = fmt.Sprintf("%s%s", f.ev, f.elems)
	}
	return strings.Join(parts, " ")
}

func names(elems []*el) string {
	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = e.name
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func setup(t *testing.T, kind Kind, elems ...string) (*Tracker[*el], *memHost, *ManualClock, *recorder) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	host := newMemHost(elems...)
	rec := &recorder{start: start, clock: clock}

	listeners := make(map[string]Handler[*el])
	for _, ev := range Events() {
		listeners[ev.String()] = rec.handler(ev)
	}

	tr, err := New(context.Background(), Config[*el]{
		Host:      host,
		Clock:     clock,
		Kind:      kind,
		Listeners: listeners,
	})
	if err != nil {
		t.Fatal(err)
	}
	return tr, host, clock, rec
}

func batch(host *memHost, pairs ...any) []Transition[*el] {
	var out []Transition[*el]
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, Transition[*el]{Element: host.get(pairs[i].(string)), Ratio: pairs[i+1].(float64)})
	}
	return out
}

func TestNew_ObservesResolvedElements(t *testing.T) {
	_, host, _, rec := setup(t, 0, "A", "B", "C")
	if len(host.observed) != 3 {
		t.Fatalf("observed: got %d, want 3", len(host.observed))
	}
	if len(rec.events) != 0 {
		t.Fatalf("events before first batch: %s", rec.sequence())
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(context.Background(), Config[*el]{}); !errors.Is(err, ErrNoHost) {
		t.Fatalf("nil host: got %v, want ErrNoHost", err)
	}

	host := newMemHost("A")
	host.resolveErr = errors.New("boom")
	_, err := New(context.Background(), Config[*el]{Host: host, Clock: NewManualClock(time.Now())})
	if err == nil || !strings.Contains(err.Error(), "resolve") {
		t.Fatalf("resolve failure: got %v", err)
	}
}

func TestTracker_InitThenStayWithoutScroll(t *testing.T) {
	tr, host, clock, rec := setup(t, 0, "A", "B", "C")

	tr.HandleBatch(batch(host, "A", 0.9, "B", 0.8, "C", 0.1))
	if got := rec.sequence(); got != "init[] stop[A,B]" {
		t.Fatalf("after first batch: got %q", got)
	}
	if tr.exposed.len() != 0 {
		t.Fatalf("exposure not cleared after stop: %d", tr.exposed.len())
	}

	clock.Advance(2999 * time.Millisecond)
	if n := len(rec.of(EventStay)); n != 0 {
		t.Fatalf("stay fired early: %d", n)
	}

	clock.Advance(time.Millisecond)
	stays := rec.of(EventStay)
	if len(stays) != 1 || stays[0].elems != "[A,B]" || stays[0].at != 3*time.Second {
		t.Fatalf("stay: got %+v", stays)
	}
	stopStays := rec.of(EventStopStay)
	if len(stopStays) != 1 || stopStays[0].elems != "[A,B]" {
		t.Fatalf("stop-stay: got %+v", stopStays)
	}
	if tr.stayed.len() != 0 {
		t.Fatalf("stay candidates not cleared: %d", tr.stayed.len())
	}
}

func TestTracker_InitFiresOnce(t *testing.T) {
	tr, host, _, rec := setup(t, 0, "A")
	tr.HandleBatch(batch(host, "A", 0.9))
	tr.HandleBatch(batch(host, "A", 0.1))
	tr.HandleBatch(batch(host, "A", 0.9))
	if n := len(rec.of(EventInit)); n != 1 {
		t.Fatalf("init: got %d, want 1", n)
	}
}

func TestTracker_ShortSpanThenReload(t *testing.T) {
	tr, host, clock, rec := setup(t, 0, "A", "B", "C")

	tr.HandleBatch(batch(host, "C", 0.9))
	clock.Advance(time.Second)
	tr.HandleBatch(batch(host, "C", 0.2))
	if tr.stayed.has(host.get("C")) {
		t.Fatal("1s span staged as stay")
	}

	clock.Advance(500 * time.Millisecond)
	host.calls = nil
	if err := tr.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := "unobserve:A observe:A unobserve:B observe:B unobserve:C observe:C"
	if got := strings.Join(host.calls, " "); got != want {
		t.Fatalf("reload calls: got %q, want %q", got, want)
	}

	// Host reports the re-observed ratios: all below threshold.
	tr.HandleBatch(batch(host, "A", 0.1, "B", 0.1, "C", 0.2))

	stops := rec.of(EventStop)
	if len(stops) != 2 || stops[0].elems != "[C]" || stops[1].elems != "[]" {
		t.Fatalf("stops: got %+v", stops)
	}
	if n := len(rec.of(EventInit)); n != 2 {
		t.Fatalf("init: got %d, want 2 (first batch + reload)", n)
	}

	clock.Advance(3 * time.Second)
	stays := rec.of(EventStay)
	if len(stays) != 1 || stays[0].elems != "[]" {
		t.Fatalf("stay: got %+v", stays)
	}
	// The grace armed by the first stop was replaced by the reload's.
	if stays[0].at != 4500*time.Millisecond {
		t.Fatalf("stay at: got %v, want 4.5s", stays[0].at)
	}
}

func TestTracker_ReloadKeepsVisibleStays(t *testing.T) {
	tr, host, clock, rec := setup(t, 0, "A")

	tr.HandleBatch(batch(host, "A", 0.9))
	clock.Advance(DwellThreshold) // stay [A] at 3s
	clock.Advance(time.Second)

	if err := tr.Reload(context.Background()); err != nil { // grace armed at 4s
		t.Fatal(err)
	}
	// The host answers the re-observation a little later.
	clock.Advance(5 * time.Millisecond)
	tr.HandleBatch(batch(host, "A", 0.9))

	clock.Advance(DwellThreshold)
	stays := rec.of(EventStay)
	if len(stays) != 2 || stays[1].elems != "[A]" || stays[1].at != 7*time.Second {
		t.Fatalf("stay after reload: got %+v", stays)
	}
	waves := rec.of(EventStopStay)
	if got := waves[len(waves)-1].elems; got != "[A]" {
		t.Fatalf("still-visible wave: got %s, want [A]", got)
	}
}

func TestTracker_ReloadDatesOnlyFirstReport(t *testing.T) {
	tr, host, clock, rec := setup(t, 0, "A")

	tr.HandleBatch(batch(host, "A", 0.1))
	if err := tr.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr.HandleBatch(batch(host, "A", 0.1)) // re-observation: not visible
	clock.Advance(2 * time.Second)
	tr.HandleBatch(batch(host, "A", 0.9)) // entered during the grace period

	clock.Advance(time.Second)
	stays := rec.of(EventStay)
	if len(stays) != 1 || stays[0].elems != "[]" {
		t.Fatalf("stay: got %+v, want []", stays)
	}
}

func TestTracker_ScrollDebounce(t *testing.T) {
	tr, _, clock, rec := setup(t, 0, "A")

	tr.HandleScroll()
	for i := 0; i < 20; i++ {
		clock.Advance(100 * time.Millisecond)
		tr.HandleScroll()
	}

	clock.Advance(499 * time.Millisecond)
	if n := len(rec.of(EventStop)); n != 0 {
		t.Fatalf("stop before quiet period: %d", n)
	}
	clock.Advance(time.Millisecond)

	stops := rec.of(EventStop)
	if len(stops) != 1 {
		t.Fatalf("stops: got %d, want 1", len(stops))
	}
	if stops[0].at != 2500*time.Millisecond {
		t.Fatalf("stop at: got %v, want 2.5s", stops[0].at)
	}
	if n := len(rec.of(EventBegin)); n != 1 {
		t.Fatalf("begin: got %d, want 1", n)
	}

	// A new burst after settle starts a new cycle.
	tr.HandleScroll()
	clock.Advance(SettleWindow)
	if n := len(rec.of(EventBegin)); n != 2 {
		t.Fatalf("begin after settle: got %d, want 2", n)
	}
	if n := len(rec.of(EventStop)); n != 2 {
		t.Fatalf("stop after second burst: got %d, want 2", n)
	}
}

func TestTracker_BeginCancelsStay(t *testing.T) {
	tr, host, clock, rec := setup(t, 0, "A")

	tr.HandleBatch(batch(host, "A", 0.9)) // init + stop at t=0
	clock.Advance(2500 * time.Millisecond)
	tr.HandleScroll()

	clock.Advance(900 * time.Millisecond) // past the original 3s deadline; settle at 3s
	if n := len(rec.of(EventStay)); n != 0 {
		t.Fatalf("stay fired after begin: %d", n)
	}
	if n := len(rec.of(EventStop)); n != 2 {
		t.Fatalf("stop: got %d, want 2 (init + settle)", n)
	}

	clock.Advance(2600 * time.Millisecond) // settle + 3s = 6s
	stays := rec.of(EventStay)
	if len(stays) != 1 || stays[0].at != 6*time.Second || stays[0].elems != "[A]" {
		t.Fatalf("stay after settle: got %+v", stays)
	}
}

func TestTracker_LongSpanAcrossScroll(t *testing.T) {
	tr, host, clock, rec := setup(t, 0, "A")

	tr.HandleBatch(batch(host, "A", 0.9)) // t=0
	for ms := 100; ms <= 3600; ms += 100 {
		clock.Advance(100 * time.Millisecond)
		if ms == 3500 {
			tr.HandleBatch(batch(host, "A", 0.1)) // span 3.5s
		}
		tr.HandleScroll()
	}
	if !tr.stayed.has(host.get("A")) {
		t.Fatal("3.5s span not staged as stay candidate")
	}

	clock.Advance(SettleWindow) // settle at 4.1s
	waves := rec.of(EventStopStay)
	if len(waves) != 1 || waves[0].elems != "[A]" {
		t.Fatalf("first stop-stay wave: got %+v", waves)
	}
	if tr.stayed.len() != 0 {
		t.Fatalf("stay candidates not cleared by stop-stay: %d", tr.stayed.len())
	}

	clock.Advance(DwellThreshold)
	stays := rec.of(EventStay)
	if len(stays) != 1 || stays[0].elems != "[]" {
		t.Fatalf("stay: got %+v, want the span reported by the first wave only", stays)
	}
	waves = rec.of(EventStopStay)
	if len(waves) != 2 || waves[1].elems != "[]" {
		t.Fatalf("second stop-stay wave: got %+v", waves)
	}
}

func TestTracker_SettleWaveNotRepeated(t *testing.T) {
	tr, host, clock, rec := setup(t, 0, "A")

	tr.HandleBatch(batch(host, "A", 0.9)) // t=0
	for ms := 100; ms <= 3600; ms += 100 {
		clock.Advance(100 * time.Millisecond)
		if ms == 3500 {
			tr.HandleBatch(batch(host, "A", 0.1))
		}
		tr.HandleScroll()
	}
	clock.Advance(SettleWindow) // settle at 4.1s, first wave [A]
	clock.Advance(time.Second)
	tr.HandleScroll() // cancels the grace period
	clock.Advance(SettleWindow)
	clock.Advance(DwellThreshold)

	want := "init[] stop[A] begin[] stop[] stop-stay[A] begin[] stop[] stop-stay[] stay[] stop-stay[]"
	if got := rec.sequence(); got != want {
		t.Fatalf("sequence:\n got %s\nwant %s", got, want)
	}
}

func TestTracker_SecondWaveExcludesFirst(t *testing.T) {
	tr, host, clock, rec := setup(t, 0, "A", "B")

	tr.HandleBatch(batch(host, "A", 0.9)) // t=0
	clock.Advance(100 * time.Millisecond)
	tr.HandleScroll()                      // settles at 0.6s, grace until 3.6s
	clock.Advance(3400 * time.Millisecond) // t=3.5s
	tr.HandleScroll()
	tr.HandleBatch(batch(host, "A", 0.1, "B", 0.9))
	tr.HandleBatch(batch(host, "A", 0.9)) // A back in view

	clock.Advance(SettleWindow) // settle at 4s
	stops := rec.of(EventStop)
	if got := stops[len(stops)-1].elems; got != "[B,A]" {
		t.Fatalf("settle exposure: got %s, want [B,A]", got)
	}

	// Both stayed visible since 3.5s; A's earlier span went out with the
	// first wave at 4s.
	clock.Advance(DwellThreshold) // grace at 7s
	stays := rec.of(EventStay)
	if len(stays) != 1 || stays[0].elems != "[B,A]" {
		t.Fatalf("stay: got %+v", stays)
	}
	waves := rec.of(EventStopStay)
	if len(waves) != 3 || waves[1].elems != "[A]" || waves[2].elems != "[B]" {
		t.Fatalf("stop-stay waves: got %+v", waves)
	}
}

func TestTracker_ContinuousVisibilityReportedOnce(t *testing.T) {
	tr, host, clock, rec := setup(t, 0, "A")

	tr.HandleBatch(batch(host, "A", 0.9))
	clock.Advance(DwellThreshold) // stay([A])

	clock.Advance(100 * time.Millisecond)
	tr.HandleScroll()
	clock.Advance(SettleWindow)
	clock.Advance(DwellThreshold)

	stays := rec.of(EventStay)
	if len(stays) != 2 || stays[0].elems != "[A]" || stays[1].elems != "[]" {
		t.Fatalf("stays: got %+v", stays)
	}
	waves := rec.of(EventStopStay)
	if got := waves[len(waves)-1].elems; got != "[A]" {
		t.Fatalf("still-visible wave: got %s, want [A]", got)
	}

	// The exit closing the reported span is not counted again.
	tr.HandleBatch(batch(host, "A", 0.1))
	if tr.stayed.len() != 0 {
		t.Fatalf("reported span counted twice")
	}
}

func TestTracker_LateEntrantNotMergedByGrace(t *testing.T) {
	tr, host, clock, rec := setup(t, 0, "A", "B")

	tr.HandleBatch(batch(host, "A", 0.9)) // grace armed at 0
	clock.Advance(2 * time.Second)
	tr.HandleBatch(batch(host, "B", 0.9)) // visible for 1s only

	clock.Advance(time.Second)
	stays := rec.of(EventStay)
	if len(stays) != 1 || stays[0].elems != "[A]" {
		t.Fatalf("stay: got %+v", stays)
	}
}

func TestTracker_ExitBeforeEnterIsNoop(t *testing.T) {
	tr, host, clock, _ := setup(t, 0, "A")

	tr.HandleBatch(batch(host, "A", 0.1))
	clock.Advance(5 * time.Second)
	tr.HandleBatch(batch(host, "A", 0.1))

	if tr.states.len() != 0 {
		t.Fatalf("state created by exit: %d", tr.states.len())
	}
	if tr.stayed.len() != 0 {
		t.Fatalf("stay candidate from exit without entry")
	}
}

func TestTracker_EnterIdempotent(t *testing.T) {
	tr, host, clock, _ := setup(t, 0, "A", "B")

	tr.HandleBatch(batch(host, "B", 0.1)) // consume init
	tr.HandleBatch(batch(host, "A", 0.9))
	tr.HandleBatch(batch(host, "A", 0.95))
	clock.Advance(time.Millisecond)

	if tr.exposed.len() != 1 {
		t.Fatalf("exposure: got %d, want 1", tr.exposed.len())
	}
	if got := names(tr.VisibleDoms()); got != "[A]" {
		t.Fatalf("visible: got %s, want [A]", got)
	}
}

func TestTracker_ThresholdBoundary(t *testing.T) {
	tr, host, _, _ := setup(t, 0, "A", "B")
	tr.HandleBatch(batch(host, "A", VisibilityThreshold, "B", 0.67))
	if got := names(tr.VisibleDoms()); got != "[B]" {
		t.Fatalf("visible: got %s, want [B] (ratio at threshold is an exit)", got)
	}
}

func TestTracker_VisibleDomsIsACopy(t *testing.T) {
	tr, host, _, _ := setup(t, 0, "A")
	tr.HandleBatch(batch(host, "A", 0.9))
	v := tr.VisibleDoms()
	v[0] = nil
	if tr.VisibleDoms()[0] != host.get("A") {
		t.Fatal("caller mutated visible set")
	}
}

func TestTracker_ClearingSurvivesUserHandlers(t *testing.T) {
	tr, host, _, _ := setup(t, 0, "A", "B")

	var inside int
	tr.On(func(t *Tracker[*el], elems []*el) {
		inside = t.exposed.len()
		elems[0] = nil // payload is a copy
	}, EventStop)

	tr.HandleBatch(batch(host, "A", 0.9, "B", 0.9))
	if inside != 2 {
		t.Fatalf("exposure inside handler: got %d, want 2", inside)
	}
	if tr.exposed.len() != 0 {
		t.Fatalf("exposure after stop: got %d, want 0", tr.exposed.len())
	}
}

func TestTracker_HandlersRunInOrder(t *testing.T) {
	tr, _, _, _ := setup(t, 0, "A")
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		tr.OnNames([]string{"begin"}, func(*Tracker[*el], []*el) { order = append(order, i) })
	}
	tr.FireEvent(EventBegin, nil)
	if fmt.Sprint(order) != "[1 2 3]" {
		t.Fatalf("order: got %v", order)
	}
}

func TestTracker_OnNamesIgnoresInvalid(t *testing.T) {
	tr, _, _, _ := setup(t, 0, "A")
	h := func(*Tracker[*el], []*el) {}

	tr.OnNames([]string{"bad name", "", "unknown", "stop!"}, h)
	tr.OnNames([]string{"stop-stay", "begin"}, nil)
	for _, ev := range Events() {
		if n := tr.Handlers(ev); n != 1 {
			t.Fatalf("%s: got %d handlers, want 1 (setup only)", ev, n)
		}
	}

	tr.OnNames([]string{"stop-stay", "begin"}, h)
	if tr.Handlers(EventStopStay) != 2 || tr.Handlers(EventBegin) != 2 {
		t.Fatal("valid names not registered")
	}
}

func TestTracker_FireEventWithoutHandlers(t *testing.T) {
	clock := NewManualClock(time.Now())
	tr, err := New(context.Background(), Config[*el]{Host: newMemHost("A"), Clock: clock})
	if err != nil {
		t.Fatal(err)
	}
	tr.FireEvent(EventBegin, nil)
	tr.FireEvent(Event(42), nil)
	tr.FireEvent(EventStop, nil)
	if clock.Pending() != 1 {
		t.Fatalf("stop without handlers should still arm the grace period")
	}
}

func TestTracker_ExposureOnly(t *testing.T) {
	tr, host, clock, rec := setup(t, KindExposure, "A")
	tr.HandleBatch(batch(host, "A", 0.9))
	if clock.Pending() != 0 {
		t.Fatalf("grace armed with stay disabled")
	}
	clock.Advance(10 * time.Second)
	if n := len(rec.of(EventStay)); n != 0 {
		t.Fatalf("stay fired with stay disabled: %d", n)
	}
	if tr.states.len() != 0 {
		t.Fatal("dwell bookkeeping with stay disabled")
	}
}

func TestTracker_StayOnly(t *testing.T) {
	tr, host, clock, rec := setup(t, KindStay, "A")
	tr.HandleBatch(batch(host, "A", 0.9))
	if got := rec.of(EventStop)[0].elems; got != "[]" {
		t.Fatalf("exposure with exposure disabled: %s", got)
	}
	clock.Advance(DwellThreshold)
	if got := rec.of(EventStay)[0].elems; got != "[A]" {
		t.Fatalf("stay: got %s", got)
	}
}

func TestTracker_ReloadUnobservesStale(t *testing.T) {
	tr, host, _, _ := setup(t, 0, "A", "B")
	tr.HandleBatch(batch(host, "A", 0.9))

	b := host.get("B")
	host.elems = host.elems[:1]
	host.calls = nil
	if err := tr.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if host.observed[b] {
		t.Fatal("stale element still observed")
	}
	if len(tr.VisibleDoms()) != 0 {
		t.Fatal("visible set not cleared on reload")
	}
	if tr.states.len() != 0 {
		t.Fatal("dwell bookkeeping not purged on reload")
	}
	if got := len(tr.Elements()); got != 1 {
		t.Fatalf("elements: got %d, want 1", got)
	}
}

func TestTracker_Close(t *testing.T) {
	tr, host, clock, rec := setup(t, 0, "A")
	tr.HandleBatch(batch(host, "A", 0.9))
	tr.HandleScroll()

	if err := tr.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if n := len(rec.of(EventStay)); n != 0 {
		t.Fatalf("stay after close: %d", n)
	}
	if len(host.observed) != 0 {
		t.Fatal("elements still observed after close")
	}
	if err := tr.Reload(context.Background()); err == nil {
		t.Fatal("reload after close: want error")
	}
}

func TestParseKinds(t *testing.T) {
	k, err := ParseKinds(nil)
	if err != nil || k != KindAll {
		t.Fatalf("empty: got %v, %v", k, err)
	}
	k, err = ParseKinds([]string{"Stay"})
	if err != nil || k != KindStay {
		t.Fatalf("stay: got %v, %v", k, err)
	}
	if _, err := ParseKinds([]string{"click"}); err == nil {
		t.Fatal("unknown kind: want error")
	}
}
