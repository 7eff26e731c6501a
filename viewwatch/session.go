package viewwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/viewtrack/idgen"
	"github.com/hazyhaar/viewtrack/tracker"
	"github.com/hazyhaar/viewtrack/viewwatch/internal/browser"
	"github.com/hazyhaar/viewtrack/viewwatch/internal/config"
	"github.com/hazyhaar/viewtrack/viewwatch/internal/probe"
	"github.com/hazyhaar/viewtrack/viewwatch/internal/sink"
	"github.com/hazyhaar/viewtrack/viewwatch/report"
)

// SessionInfo describes one tracked page.
type SessionInfo struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Selector  string            `json:"selector"`
	Elements  int               `json:"elements"`
	Visible   int               `json:"visible"`
	Seq       uint64            `json:"seq"`
	Events    map[string]uint64 `json:"events"`
	StartedAt time.Time         `json:"started_at"`
}

// session is what the Watcher and the admin API need from a tracked page.
type session interface {
	Config() config.PageConfig
	Info(ctx context.Context) (SessionInfo, error)
	Visible(ctx context.Context) ([]report.ElementRef, error)
	Reload(ctx context.Context) error
	Close(ctx context.Context) error
}

// opener creates a running session for a page.
type opener func(ctx context.Context, pc config.PageConfig) (session, error)

// emitter turns tracker events of one page into reports. It runs on the
// page's loop goroutine only.
type emitter struct {
	pageID  string
	pageURL string
	sink    sink.Sink
	newID   idgen.Generator
	now     func() time.Time
	logger  *slog.Logger

	seq    atomic.Uint64
	counts [tracker.NumEvents]atomic.Uint64
}

func (e *emitter) listeners() map[string]tracker.Handler[*probe.Element] {
	m := make(map[string]tracker.Handler[*probe.Element], len(tracker.Events()))
	for _, ev := range tracker.Events() {
		ev := ev
		m[ev.String()] = func(_ *tracker.Tracker[*probe.Element], elems []*probe.Element) {
			e.emit(ev, elems)
		}
	}
	return m
}

func (e *emitter) emit(ev tracker.Event, elems []*probe.Element) {
	refs := make([]report.ElementRef, len(elems))
	for i, el := range elems {
		refs[i] = el.Ref()
	}
	r := report.Report{
		ID:        e.newID(),
		PageID:    e.pageID,
		PageURL:   e.pageURL,
		Event:     ev.String(),
		Seq:       e.seq.Add(1),
		Elements:  refs,
		Timestamp: e.now().UnixMilli(),
	}
	if int(ev) < len(e.counts) {
		e.counts[ev].Add(1)
	}
	if err := e.sink.Send(context.Background(), r); err != nil {
		e.logger.Error("viewwatch: send report failed", "page_id", e.pageID, "event", r.Event, "error", err)
	}
}

func (e *emitter) eventCounts() map[string]uint64 {
	out := make(map[string]uint64, len(e.counts))
	for _, ev := range tracker.Events() {
		out[ev.String()] = e.counts[ev].Load()
	}
	return out
}

// pageSession is a browser-backed session: tab + probe + tracker, with the
// tracker confined to its own loop.
type pageSession struct {
	cfg     config.PageConfig
	tab     *browser.Tab
	probe   *probe.Probe
	loop    *tracker.Loop
	stop    context.CancelFunc
	tr      *tracker.Tracker[*probe.Element]
	emit    *emitter
	started time.Time
}

var errSessionClosed = errors.New("viewwatch: session closed")

func openPageSession(ctx context.Context, mgr *browser.Manager, s sink.Sink, pc config.PageConfig, logger *slog.Logger) (*pageSession, error) {
	kind, err := tracker.ParseKinds(pc.Kinds)
	if err != nil {
		return nil, err
	}
	logger = logger.With("page_id", pc.ID)

	tab, err := mgr.OpenTab(ctx, pc.URL, pc.ID)
	if err != nil {
		return nil, err
	}

	lctx, stop := context.WithCancel(context.Background())
	ps := &pageSession{
		cfg:  pc,
		tab:  tab,
		loop: tracker.NewLoop(0, logger),
		stop: stop,
		emit: &emitter{
			pageID:  pc.ID,
			pageURL: pc.URL,
			sink:    s,
			newID:   idgen.Default,
			now:     time.Now,
			logger:  logger,
		},
		started: time.Now(),
	}
	go ps.loop.Run(lctx)

	ps.probe = probe.New(probe.Config{
		Page:      tab.Page,
		Selector:  pc.Selector,
		Container: pc.Container,
		KeyAttr:   pc.KeyAttr,
		Logger:    logger,
		OnBatch: func(b []tracker.Transition[*probe.Element]) {
			ps.loop.Do(func() {
				if ps.tr != nil {
					ps.tr.HandleBatch(b)
				}
			})
		},
		OnScroll: func() {
			ps.loop.Do(func() {
				if ps.tr != nil {
					ps.tr.HandleScroll()
				}
			})
		},
	})

	fail := func(err error) (*pageSession, error) {
		ps.probe.Close()
		stop()
		tab.Close()
		return nil, err
	}

	if err := ps.probe.Install(ctx); err != nil {
		return fail(err)
	}

	var newErr error
	err = ps.loop.Exec(ctx, func() {
		ps.tr, newErr = tracker.New(ctx, tracker.Config[*probe.Element]{
			Host:      ps.probe,
			Clock:     ps.loop.Clock(),
			Kind:      kind,
			Listeners: ps.emit.listeners(),
			Logger:    logger,
		})
	})
	if err == nil {
		err = newErr
	}
	if err != nil {
		return fail(fmt.Errorf("viewwatch: start tracker: %w", err))
	}
	return ps, nil
}

func (s *pageSession) Config() config.PageConfig { return s.cfg }

func (s *pageSession) Info(ctx context.Context) (SessionInfo, error) {
	info := SessionInfo{
		ID:        s.cfg.ID,
		URL:       s.cfg.URL,
		Selector:  s.cfg.Selector,
		Seq:       s.emit.seq.Load(),
		Events:    s.emit.eventCounts(),
		StartedAt: s.started,
	}
	err := s.loop.Exec(ctx, func() {
		info.Elements = len(s.tr.Elements())
		info.Visible = len(s.tr.VisibleDoms())
	})
	return info, err
}

func (s *pageSession) Visible(ctx context.Context) ([]report.ElementRef, error) {
	var refs []report.ElementRef
	err := s.loop.Exec(ctx, func() {
		vis := s.tr.VisibleDoms()
		refs = make([]report.ElementRef, len(vis))
		for i, e := range vis {
			refs[i] = e.Ref()
		}
	})
	if errors.Is(err, tracker.ErrLoopStopped) {
		return nil, errSessionClosed
	}
	return refs, err
}

func (s *pageSession) Reload(ctx context.Context) error {
	var rerr error
	err := s.loop.Exec(ctx, func() { rerr = s.tr.Reload(ctx) })
	if errors.Is(err, tracker.ErrLoopStopped) {
		return errSessionClosed
	}
	if err != nil {
		return err
	}
	return rerr
}

func (s *pageSession) Close(ctx context.Context) error {
	var cerr error
	if err := s.loop.Exec(ctx, func() { cerr = s.tr.Close(ctx) }); err != nil && cerr == nil {
		cerr = err
	}
	s.probe.Close()
	s.stop()
	if err := s.tab.Close(); err != nil && cerr == nil {
		cerr = err
	}
	return cerr
}
