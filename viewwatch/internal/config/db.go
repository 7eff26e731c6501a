package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/viewtrack/dbopen"
	"github.com/hazyhaar/viewtrack/watch"
)

// Schema for the tracked_pages table.
const Schema = `
CREATE TABLE IF NOT EXISTS tracked_pages (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	selector    TEXT NOT NULL,
	container   TEXT DEFAULT '',
	key_attr    TEXT DEFAULT '',
	kinds       TEXT DEFAULT '[]',
	status      TEXT DEFAULT 'active',
	updated_at  INTEGER NOT NULL
);
`

// LoadPages reads all active pages from the database. Rows that fail
// validation are skipped with a warning.
func LoadPages(ctx context.Context, db *sql.DB, logger *slog.Logger) ([]PageConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, selector, container, key_attr, kinds
		FROM tracked_pages
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load pages: %w", err)
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		var kindsJSON string
		if err := rows.Scan(&p.ID, &p.URL, &p.Selector, &p.Container, &p.KeyAttr, &kindsJSON); err != nil {
			return nil, fmt.Errorf("config: scan page: %w", err)
		}
		if kindsJSON != "" {
			if err := json.Unmarshal([]byte(kindsJSON), &p.Kinds); err != nil {
				logger.Warn("config: bad kinds column", "id", p.ID, "error", err)
				continue
			}
		}
		if err := p.Validate(); err != nil {
			logger.Warn("config: skipping page", "id", p.ID, "error", err)
			continue
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpsertPage inserts or replaces a page row.
func UpsertPage(ctx context.Context, db *sql.DB, p PageConfig) error {
	if err := p.Validate(); err != nil {
		return err
	}
	kinds := p.Kinds
	if kinds == nil {
		kinds = []string{}
	}
	kindsJSON, _ := json.Marshal(kinds)
	_, err := dbopen.Exec(ctx, db, `
		INSERT INTO tracked_pages (id, url, selector, container, key_attr, kinds, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url, selector = excluded.selector,
			container = excluded.container, key_attr = excluded.key_attr,
			kinds = excluded.kinds, status = 'active', updated_at = excluded.updated_at
	`, p.ID, p.URL, p.Selector, p.Container, p.KeyAttr, string(kindsJSON), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: upsert page %s: %w", p.ID, err)
	}
	return nil
}

// WatchPages creates a watch.Watcher that detects changes to tracked_pages.
func WatchPages(db *sql.DB, logger *slog.Logger) *watch.Watcher {
	return watch.New(db, watch.Options{
		Interval: 200 * time.Millisecond,
		Debounce: 500 * time.Millisecond,
		Detector: watch.PragmaDataVersion,
		Logger:   logger,
	})
}
