// Package probe is the in-page side of a tracker: it injects an
// IntersectionObserver into a Rod page and reports visibility batches and
// scroll notifications back to Go through a CDP binding.
package probe

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/viewtrack/tracker"
	"github.com/hazyhaar/viewtrack/viewwatch/report"
)

//go:embed probe.js
var probeJS string

const bindingName = "__viewtrack_binding"

// ErrNoIntersectionObserver is returned by Install when the page has no
// IntersectionObserver.
var ErrNoIntersectionObserver = errors.New("probe: IntersectionObserver unavailable")

// ErrNoContainer is returned by Install when the container selector matches
// nothing.
var ErrNoContainer = errors.New("probe: scroll container not found")

// Element is the Go handle of one matched node. The probe hands out one
// pointer per in-page id, so handles compare equal across Resolve calls.
type Element struct {
	ID    int    `json:"id"`
	XPath string `json:"xpath"`
	Tag   string `json:"tag"`
	Key   string `json:"key"`
}

// Ref converts e to its report form.
func (e *Element) Ref() report.ElementRef {
	return report.ElementRef{ID: e.ID, XPath: e.XPath, Tag: e.Tag, Key: e.Key}
}

// Config for a Probe.
type Config struct {
	Page      *rod.Page
	Selector  string
	Container string // scroll container selector; empty = viewport
	KeyAttr   string

	// OnBatch and OnScroll run on the binding goroutine. They must not
	// block; sessions post the work onto their tracker.Loop.
	OnBatch  func([]tracker.Transition[*Element])
	OnScroll func()

	Logger *slog.Logger
}

// Probe implements tracker.Host[*Element].
type Probe struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	elems map[int]*Element

	cancel context.CancelFunc
	done   chan struct{}
}

var _ tracker.Host[*Element] = (*Probe)(nil)

// New creates a Probe. Call Install before handing it to a tracker.
func New(cfg Config) *Probe {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Probe{
		cfg:    cfg,
		logger: cfg.Logger,
		elems:  make(map[int]*Element),
	}
}

// Install registers the binding, starts the listener and injects the page
// script.
func (p *Probe) Install(ctx context.Context) error {
	page := p.cfg.Page.Context(ctx)
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		p.logger.Warn("probe: addBinding failed (may already exist)", "error", err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	wait := p.cfg.Page.Context(lctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == bindingName {
			p.handle(e.Payload)
		}
	})
	go func() {
		defer close(p.done)
		wait()
	}()

	res, err := page.Eval(probeJS)
	if err != nil {
		p.Close()
		return fmt.Errorf("probe: inject: %w", err)
	}
	if res.Value.Str() == "no-intersection-observer" {
		p.Close()
		return ErrNoIntersectionObserver
	}

	res, err = page.Eval(`(sel, container, key, threshold) => window.__viewtrack.init(sel, container, key, threshold)`,
		p.cfg.Selector, p.cfg.Container, p.cfg.KeyAttr, tracker.VisibilityThreshold)
	if err != nil {
		p.Close()
		return fmt.Errorf("probe: init: %w", err)
	}
	if res.Value.Str() == "no-container" {
		p.Close()
		return fmt.Errorf("%w: %s", ErrNoContainer, p.cfg.Container)
	}
	p.logger.Debug("probe: installed", "selector", p.cfg.Selector, "container", p.cfg.Container)
	return nil
}

// Resolve queries the selector and returns the matched elements in document
// order.
func (p *Probe) Resolve(ctx context.Context) ([]*Element, error) {
	res, err := p.cfg.Page.Context(ctx).Eval(`() => window.__viewtrack.resolve()`)
	if err != nil {
		return nil, fmt.Errorf("probe: resolve: %w", err)
	}
	var found []Element
	if err := json.Unmarshal([]byte(res.Value.Str()), &found); err != nil {
		return nil, fmt.Errorf("probe: decode resolve: %w", err)
	}
	return p.intern(found), nil
}

// Observe starts intersection observation of e.
func (p *Probe) Observe(ctx context.Context, e *Element) error {
	return p.call(ctx, "observe", e)
}

// Unobserve stops intersection observation of e.
func (p *Probe) Unobserve(ctx context.Context, e *Element) error {
	return p.call(ctx, "unobserve", e)
}

// Close stops the binding listener. Safe to call more than once.
func (p *Probe) Close() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
		p.cancel = nil
	}
}

func (p *Probe) call(ctx context.Context, fn string, e *Element) error {
	res, err := p.cfg.Page.Context(ctx).Eval(`(fn, id) => window.__viewtrack[fn](id)`, fn, e.ID)
	if err != nil {
		return fmt.Errorf("probe: %s %d: %w", fn, e.ID, err)
	}
	if !res.Value.Bool() {
		p.logger.Debug("probe: element detached", "op", fn, "id", e.ID)
	}
	return nil
}

// intern maps decoded elements onto the canonical handles, refreshing their
// descriptive fields. Handles no longer matched are dropped.
func (p *Probe) intern(found []Element) []*Element {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[int]*Element, len(found))
	out := make([]*Element, 0, len(found))
	for _, f := range found {
		e, ok := p.elems[f.ID]
		if !ok {
			e = &Element{ID: f.ID}
		}
		e.XPath, e.Tag, e.Key = f.XPath, f.Tag, f.Key
		next[f.ID] = e
		out = append(out, e)
	}
	p.elems = next
	return out
}

func (p *Probe) lookup(id int) (*Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.elems[id]
	return e, ok
}

type message struct {
	Kind    string `json:"kind"`
	Entries []struct {
		ID    int     `json:"id"`
		Ratio float64 `json:"ratio"`
	} `json:"entries"`
}

func (p *Probe) handle(payload string) {
	var msg message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		p.logger.Warn("probe: parse binding payload", "error", err)
		return
	}
	switch msg.Kind {
	case "scroll":
		if p.cfg.OnScroll != nil {
			p.cfg.OnScroll()
		}
	case "batch":
		batch := make([]tracker.Transition[*Element], 0, len(msg.Entries))
		for _, en := range msg.Entries {
			if e, ok := p.lookup(en.ID); ok {
				batch = append(batch, tracker.Transition[*Element]{Element: e, Ratio: en.Ratio})
			}
		}
		if len(batch) > 0 && p.cfg.OnBatch != nil {
			p.cfg.OnBatch(batch)
		}
	default:
		p.logger.Debug("probe: unknown message", "kind", msg.Kind)
	}
}
