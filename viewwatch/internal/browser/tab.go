package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// Tab is a stealth page navigated to one tracked URL.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string

	blocker *rod.HijackRouter
}

// OpenTab creates a stealth tab, applies resource blocking and navigates.
// A load timeout is logged, not returned: lazy pages still get tracked.
func (m *Manager) OpenTab(ctx context.Context, pageURL, pageID string) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, PageURL: pageURL, PageID: pageID}

	if len(m.cfg.ResourceBlocking) > 0 {
		t.blocker = applyResourceBlocking(page, m.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.blocker != nil {
		t.blocker.Stop()
		t.blocker = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
