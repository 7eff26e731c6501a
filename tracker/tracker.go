// Package tracker implements the exposure / stay state machine for elements
// of a scrollable viewport.
//
// A Tracker consumes visibility batches (intersection ratios reported by a
// Host) and scroll notifications, and emits:
//
//	init       once after the first batch, and on every Reload
//	begin      first scroll notification after idle
//	stop       exposure flush: elements seen visible since the last stop
//	stop-stay  companion of stop (closed long spans) and of stay (still visible)
//	stay       elements that stayed visible longer than DwellThreshold
//
// A Tracker is not safe for concurrent use. Hosts that deliver events from
// several goroutines run every call through a Loop and pass Loop.Clock:
//
//	loop := tracker.NewLoop(0, logger)
//	go loop.Run(ctx)
//	loop.Exec(ctx, func() { t, err = tracker.New(ctx, tracker.Config[E]{Host: h, Clock: loop.Clock()}) })
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Kind selects a classification pass.
type Kind uint8

const (
	KindExposure Kind = 1 << iota
	KindStay

	KindAll = KindExposure | KindStay
)

// ParseKinds maps names ("exposure", "stay") to a Kind mask. An empty list
// selects both.
func ParseKinds(names []string) (Kind, error) {
	var k Kind
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "exposure":
			k |= KindExposure
		case "stay":
			k |= KindStay
		default:
			return 0, fmt.Errorf("tracker: unknown kind %q", n)
		}
	}
	if k == 0 {
		k = KindAll
	}
	return k, nil
}

// Has reports whether all bits of o are set.
func (k Kind) Has(o Kind) bool { return k&o == o }

// ErrNoHost is returned by New when Config.Host is nil.
var ErrNoHost = errors.New("tracker: host is required")

// Config for creating a Tracker.
type Config[E comparable] struct {
	Host Host[E]
	// Clock defaults to SystemClock.
	Clock Clock
	// Kind selects the classification passes. Defaults to KindAll.
	Kind Kind
	// Listeners are registered before observation starts. Keys are event
	// names; invalid names and nil handlers are ignored.
	Listeners map[string]Handler[E]
	Logger    *slog.Logger
}

// Tracker owns the aggregates of one tracked selector.
type Tracker[E comparable] struct {
	host   Host[E]
	clock  Clock
	kind   Kind
	logger *slog.Logger

	bus bus[E]

	elements []E
	states   *stateStore[E]
	exposed  *orderedSet[E]
	stayed   *orderedSet[E]
	visible  *orderedSet[E]

	// firstWave holds what the settle stop-stay delivered, so the
	// post-grace wave of the same cycle does not repeat it.
	firstWave *orderedSet[E]

	// reobserved are the elements Reload re-observed that have not reported
	// yet; their first enter is dated reloadedAt.
	reobserved *orderedSet[E]
	reloadedAt time.Time

	adapter *adapter[E]
	settle  *settleDetector
	grace   *stayTimer
	closed  bool
}

// New resolves the tracked elements and starts observing them.
func New[E comparable](ctx context.Context, cfg Config[E]) (*Tracker[E], error) {
	if cfg.Host == nil {
		return nil, ErrNoHost
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Kind == 0 {
		cfg.Kind = KindAll
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Tracker[E]{
		host:      cfg.Host,
		clock:     cfg.Clock,
		kind:      cfg.Kind,
		logger:    cfg.Logger,
		states:    newStateStore[E](),
		exposed:   newOrderedSet[E](),
		stayed:    newOrderedSet[E](),
		visible:   newOrderedSet[E](),
		firstWave: newOrderedSet[E](),

		reobserved: newOrderedSet[E](),
	}
	t.adapter = &adapter[E]{
		enter: t.enter,
		exit:  t.exit,
		init:  func() { t.FireEvent(EventInit, nil) },
	}
	t.settle = &settleDetector{
		clock:    t.clock,
		window:   SettleWindow,
		onBegin:  t.scrollBegan,
		onSettle: t.scrollSettled,
	}
	t.grace = &stayTimer{
		clock: t.clock,
		delay: DwellThreshold,
		fire:  t.graceElapsed,
	}

	for name, h := range cfg.Listeners {
		t.OnNames([]string{name}, h)
	}

	elems, err := t.host.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracker: resolve: %w", err)
	}
	t.elements = elems
	for _, e := range elems {
		if err := t.host.Observe(ctx, e); err != nil {
			return nil, fmt.Errorf("tracker: observe: %w", err)
		}
	}
	t.logger.Debug("tracker: observing", "elements", len(elems), "kind", t.kind)
	return t, nil
}

// On registers h for each of events. A nil handler is ignored.
func (t *Tracker[E]) On(h Handler[E], events ...Event) {
	for _, ev := range events {
		t.bus.add(ev, h)
	}
}

// OnNames registers h for each named event. Malformed or unknown names and
// nil handlers are silently ignored.
func (t *Tracker[E]) OnNames(names []string, h Handler[E]) {
	for _, n := range names {
		if ev, ok := ParseEvent(n); ok {
			t.bus.add(ev, h)
		}
	}
}

// FireEvent dispatches ev synchronously to its handlers in registration
// order, then applies the built-in effects: init flushes exposure as stop,
// stop clears the exposure set and arms the stay timer, stay and
// stop-stay clear the stay candidates.
func (t *Tracker[E]) FireEvent(ev Event, elems []E) {
	if elems != nil {
		cp := make([]E, len(elems))
		copy(cp, elems)
		elems = cp
	}
	t.bus.dispatch(t, ev, elems)

	switch ev {
	case EventInit:
		t.FireEvent(EventStop, t.exposed.snapshot())
	case EventStop:
		t.exposed.clear()
		t.firstWave.clear()
		if t.kind.Has(KindStay) && !t.closed {
			t.grace.arm()
		}
	case EventStay, EventStopStay:
		t.stayed.clear()
	}
}

// HandleBatch processes one batch of visibility notifications.
func (t *Tracker[E]) HandleBatch(batch []Transition[E]) {
	if t.closed {
		return
	}
	t.adapter.handle(batch)
}

// HandleScroll processes one scroll notification from the container.
func (t *Tracker[E]) HandleScroll() {
	if t.closed {
		return
	}
	t.settle.notify()
}

// Reload re-resolves the elements and re-arms observation. The visible set
// and all dwell bookkeeping are reset; init fires once observation is
// re-established.
func (t *Tracker[E]) Reload(ctx context.Context) error {
	if t.closed {
		return errors.New("tracker: closed")
	}
	t.visible.clear()
	t.states.purge()
	t.reobserved.clear()

	elems, err := t.host.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("tracker: resolve: %w", err)
	}

	matched := make(map[E]struct{}, len(elems))
	for _, e := range elems {
		matched[e] = struct{}{}
	}
	for _, e := range t.elements {
		if _, ok := matched[e]; !ok {
			if err := t.host.Unobserve(ctx, e); err != nil {
				t.logger.Warn("tracker: unobserve stale element", "error", err)
			}
		}
	}

	// Unobserve + observe forces the host to report the current ratio.
	t.reloadedAt = t.clock.Now()
	for _, e := range elems {
		t.reobserved.add(e)
		if err := t.host.Unobserve(ctx, e); err != nil {
			return fmt.Errorf("tracker: unobserve: %w", err)
		}
		if err := t.host.Observe(ctx, e); err != nil {
			return fmt.Errorf("tracker: observe: %w", err)
		}
	}
	t.elements = elems
	t.logger.Debug("tracker: reloaded", "elements", len(elems))

	t.FireEvent(EventInit, nil)
	return nil
}

// VisibleDoms returns the elements currently above VisibilityThreshold, in
// the order they became visible.
func (t *Tracker[E]) VisibleDoms() []E { return t.visible.snapshot() }

// Elements returns the elements resolved by the last New or Reload.
func (t *Tracker[E]) Elements() []E {
	out := make([]E, len(t.elements))
	copy(out, t.elements)
	return out
}

// Handlers reports how many handlers are registered for ev.
func (t *Tracker[E]) Handlers(ev Event) int { return t.bus.count(ev) }

// Close cancels pending timers and stops observing. Calls after Close are
// ignored.
func (t *Tracker[E]) Close(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.settle.stop()
	t.grace.cancel()

	var firstErr error
	for _, e := range t.elements {
		if err := t.host.Unobserve(ctx, e); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tracker: unobserve: %w", err)
		}
	}
	return firstErr
}

func (t *Tracker[E]) enter(e E) {
	if t.kind.Has(KindExposure) {
		t.exposed.add(e)
	}
	if t.kind.Has(KindStay) {
		t.recordEnter(e)
	}
	t.reobserved.remove(e)
	t.visible.add(e)
}

func (t *Tracker[E]) exit(e E) {
	if t.kind.Has(KindStay) {
		t.recordExit(e)
	}
	t.reobserved.remove(e)
	t.visible.remove(e)
}

func (t *Tracker[E]) scrollBegan() {
	t.FireEvent(EventBegin, nil)
	t.grace.cancel()
}

func (t *Tracker[E]) scrollSettled() {
	t.FireEvent(EventStop, t.exposed.snapshot())

	// First stop-stay wave: spans closed during the scroll that exceeded
	// DwellThreshold. Dispatching it empties the candidates.
	wave := t.stayed.snapshot()
	for _, e := range wave {
		t.firstWave.add(e)
	}
	t.FireEvent(EventStopStay, wave)
}
