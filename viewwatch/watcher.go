// Package viewwatch tracks element visibility on live pages. It drives a
// Chrome instance, injects a probe per page, runs one tracker per page and
// delivers every exposure / stay event as a report to the configured sinks.
//
// viewwatch measures, it does not interpret: reports are raw event records
// for downstream analytics.
package viewwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/hazyhaar/viewtrack/viewwatch/internal/browser"
	"github.com/hazyhaar/viewtrack/viewwatch/internal/config"
	"github.com/hazyhaar/viewtrack/viewwatch/internal/sink"
	"github.com/hazyhaar/viewtrack/viewwatch/report"
)

// ErrUnknownPage is returned for a page ID with no running session.
var ErrUnknownPage = errors.New("viewwatch: unknown page")

// ErrPageExists is returned by ObservePage for a page ID already tracked.
var ErrPageExists = errors.New("viewwatch: page already observed")

// Watcher is the top-level orchestrator: browser, per-page sessions, sinks.
type Watcher struct {
	cfg      *config.Config
	mgr      *browser.Manager
	sinkR    *sink.Router
	open     opener
	sessions map[string]session // keyed by page ID
	mu       sync.Mutex
	logger   *slog.Logger
}

// New creates a Watcher from configuration. With no sinks, reports go to
// stdout.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if len(sinks) == 0 {
		sinks = []Sink{sink.NewStdout(nil)}
	}

	w := &Watcher{
		cfg: cfg,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Mode:             browser.ParseMode(cfg.Browser.Stealth),
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			NavigateTimeout:  cfg.Browser.NavigateTimeout,
			Logger:           logger,
		}),
		sinkR:    sink.NewRouter(logger, sinks...),
		sessions: make(map[string]session),
		logger:   logger,
	}
	w.open = func(ctx context.Context, pc config.PageConfig) (session, error) {
		return openPageSession(ctx, w.mgr, w.sinkR, pc, w.logger)
	}
	return w
}

// Start launches the browser and observes every configured page. Pages
// that fail to open are logged and skipped.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("viewwatch: start browser: %w", err)
	}
	for _, pc := range w.cfg.Pages {
		if err := w.ObservePage(ctx, pc); err != nil {
			w.logger.Error("viewwatch: failed to observe page",
				"id", pc.ID, "url", pc.URL, "error", err)
		}
	}
	return nil
}

// ObservePage opens a session for one page.
func (w *Watcher) ObservePage(ctx context.Context, pc PageConfig) error {
	if err := pc.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.observeLocked(ctx, pc)
}

func (w *Watcher) observeLocked(ctx context.Context, pc config.PageConfig) error {
	if _, ok := w.sessions[pc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrPageExists, pc.ID)
	}
	s, err := w.open(ctx, pc)
	if err != nil {
		return fmt.Errorf("viewwatch: observe %s: %w", pc.ID, err)
	}
	w.sessions[pc.ID] = s
	w.logger.Info("viewwatch: observing page",
		"id", pc.ID, "url", pc.URL, "selector", pc.Selector)
	return nil
}

// StopPage closes the session of one page.
func (w *Watcher) StopPage(ctx context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopLocked(ctx, id)
}

func (w *Watcher) stopLocked(ctx context.Context, id string) error {
	s, ok := w.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	delete(w.sessions, id)
	if err := s.Close(ctx); err != nil {
		w.logger.Warn("viewwatch: close session", "id", id, "error", err)
	}
	w.logger.Info("viewwatch: stopped page", "id", id)
	return nil
}

// SyncPages converges the running sessions onto pages: removed pages are
// stopped, changed pages restarted, new pages opened. It returns the first
// open error; the other pages are still processed.
func (w *Watcher) SyncPages(ctx context.Context, pages []PageConfig) error {
	want := make(map[string]config.PageConfig, len(pages))
	for _, p := range pages {
		want[p.ID] = p
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for id, s := range w.sessions {
		p, keep := want[id]
		if !keep || !samePage(s.Config(), p) {
			w.stopLocked(ctx, id)
		}
	}

	var firstErr error
	for _, p := range pages {
		if _, running := w.sessions[p.ID]; running {
			continue
		}
		if err := w.observeLocked(ctx, p); err != nil {
			w.logger.Error("viewwatch: sync page failed", "id", p.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func samePage(a, b config.PageConfig) bool {
	return a.ID == b.ID && a.URL == b.URL && a.Selector == b.Selector &&
		a.Container == b.Container && a.KeyAttr == b.KeyAttr &&
		slices.Equal(a.Kinds, b.Kinds)
}

// Reload re-resolves the tracked elements of one page.
func (w *Watcher) Reload(ctx context.Context, id string) error {
	s, err := w.session(id)
	if err != nil {
		return err
	}
	return s.Reload(ctx)
}

// Visible returns the elements currently visible on one page.
func (w *Watcher) Visible(ctx context.Context, id string) ([]report.ElementRef, error) {
	s, err := w.session(id)
	if err != nil {
		return nil, err
	}
	return s.Visible(ctx)
}

// Sessions describes every running session, sorted by page ID. Sessions
// that fail to answer are omitted.
func (w *Watcher) Sessions(ctx context.Context) []SessionInfo {
	w.mu.Lock()
	list := make([]session, 0, len(w.sessions))
	for _, s := range w.sessions {
		list = append(list, s)
	}
	w.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		info, err := s.Info(ctx)
		if err != nil {
			w.logger.Warn("viewwatch: session info", "id", s.Config().ID, "error", err)
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *Watcher) session(id string) (session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	return s, nil
}

// Stop closes every session, the sinks and the browser.
func (w *Watcher) Stop(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id := range w.sessions {
		w.stopLocked(ctx, id)
	}
	if err := w.sinkR.Close(); err != nil {
		w.logger.Warn("viewwatch: close sinks", "error", err)
	}
	if err := w.mgr.Close(); err != nil {
		w.logger.Warn("viewwatch: close browser", "error", err)
	}
}
