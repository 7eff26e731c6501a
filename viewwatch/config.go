package viewwatch

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/hazyhaar/viewtrack/viewwatch/internal/config"
	"github.com/hazyhaar/viewtrack/watch"
)

// Config is the top-level viewwatch configuration.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a tracked page.
type PageConfig = config.PageConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// PagesSchema creates the tracked_pages table.
const PagesSchema = config.Schema

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with defaults and no pages.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadPages reads the active pages of a tracked_pages table.
func LoadPages(ctx context.Context, db *sql.DB, logger *slog.Logger) ([]PageConfig, error) {
	return config.LoadPages(ctx, db, logger)
}

// UpsertPage inserts or replaces a tracked_pages row.
func UpsertPage(ctx context.Context, db *sql.DB, p PageConfig) error {
	return config.UpsertPage(ctx, db, p)
}

// WatchPages returns a watcher for changes to tracked_pages.
func WatchPages(db *sql.DB, logger *slog.Logger) *watch.Watcher {
	return config.WatchPages(db, logger)
}

// SyncFromDB loads pages from db and converges the watcher onto them.
func (w *Watcher) SyncFromDB(ctx context.Context, db *sql.DB) error {
	pages, err := config.LoadPages(ctx, db, w.logger)
	if err != nil {
		return err
	}
	return w.SyncPages(ctx, pages)
}
