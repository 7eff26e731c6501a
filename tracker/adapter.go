package tracker

import "context"

// VisibilityThreshold is the intersection ratio above which an element is
// considered in view (2/3 of its area).
const VisibilityThreshold = 0.6666666

// Transition is one entry of a visibility batch: the containment ratio the
// host primitive reported for Element.
type Transition[E comparable] struct {
	Element E
	Ratio   float64
}

// Entered reports whether the ratio classifies as an enter transition.
func (t Transition[E]) Entered() bool { return t.Ratio > VisibilityThreshold }

// Host is the page side of a Tracker: selector resolution plus the
// ratio-based visibility primitive. Observe must eventually report the
// element's current ratio through Tracker.HandleBatch, as an
// IntersectionObserver does on observe().
type Host[E comparable] interface {
	Resolve(ctx context.Context) ([]E, error)
	Observe(ctx context.Context, e E) error
	Unobserve(ctx context.Context, e E) error
}

// adapter turns raw batches into enter/exit calls and raises init once,
// after the first batch it ever processed.
type adapter[E comparable] struct {
	initDone bool
	enter    func(E)
	exit     func(E)
	init     func()
}

func (a *adapter[E]) handle(batch []Transition[E]) {
	for _, tr := range batch {
		if tr.Entered() {
			a.enter(tr.Element)
		} else {
			a.exit(tr.Element)
		}
	}
	if !a.initDone {
		a.initDone = true
		a.init()
	}
}
