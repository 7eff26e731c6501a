package tracker

import "time"

// SettleWindow is the scroll quiet period after which scrolling is
// considered stopped.
const SettleWindow = 500 * time.Millisecond

// settleDetector turns a stream of scroll notifications into begin (first
// notification after idle) and settle (SettleWindow after the last one).
// It debounces: a burst of notifications yields exactly one settle.
type settleDetector struct {
	clock     Clock
	window    time.Duration
	scrolling bool
	quiet     Task

	onBegin  func()
	onSettle func()
}

func (d *settleDetector) notify() {
	if !d.scrolling {
		d.scrolling = true
		d.onBegin()
	}
	if d.quiet != nil {
		d.quiet.Cancel()
	}
	d.quiet = d.clock.AfterFunc(d.window, d.settle)
}

func (d *settleDetector) settle() {
	d.quiet = nil
	d.scrolling = false
	d.onSettle()
}

func (d *settleDetector) stop() {
	if d.quiet != nil {
		d.quiet.Cancel()
		d.quiet = nil
	}
	d.scrolling = false
}
