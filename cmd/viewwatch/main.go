// Command viewwatch tracks element visibility on live pages and prints
// exposure / stay reports.
//
// Usage:
//
//	viewwatch -config viewwatch.yaml                      # pages from YAML config
//	viewwatch -db pages.db                                # pages from SQLite, hot reload
//	viewwatch -db shared.db -db-readonly                  # tracked_pages owned by another process
//	viewwatch -url https://example.com -selector '[data-tid]'
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/viewtrack/dbopen"
	"github.com/hazyhaar/viewtrack/idgen"
	"github.com/hazyhaar/viewtrack/viewwatch"
)

type options struct {
	configPath string
	dbPath     string
	dbReadOnly bool
	url        string
	selector   string
	container  string
	keyAttr    string
	kinds      string
	listen     string
	remote     string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to viewwatch.yaml config file")
	flag.StringVar(&o.dbPath, "db", "", "SQLite database holding tracked_pages (hot reload)")
	flag.BoolVar(&o.dbReadOnly, "db-readonly", false, "do not create the schema or switch journal mode (with -db)")
	flag.StringVar(&o.url, "url", "", "track a single URL")
	flag.StringVar(&o.selector, "selector", "", "CSS selector of tracked elements (with -url)")
	flag.StringVar(&o.container, "container", "", "CSS selector of the scroll container (with -url)")
	flag.StringVar(&o.keyAttr, "key-attr", "", "attribute reported as element key (with -url)")
	flag.StringVar(&o.kinds, "kinds", "", "comma-separated kinds: exposure,stay (with -url)")
	flag.StringVar(&o.listen, "listen", "", "admin HTTP listen address (default from config, :8090)")
	flag.StringVar(&o.remote, "remote", "", "DevTools WebSocket URL of an existing Chrome")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, logger, o)
	stop()

	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, "usage: viewwatch -config <file> | -db <pages.db> [-db-readonly] | -url <url> -selector <css>")
		os.Exit(2)
	case err != nil:
		logger.Error("viewwatch: fatal", "error", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("viewwatch: no page source given")

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, db, err := loadConfig(ctx, logger, o)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	if o.remote != "" {
		cfg.Browser.Remote = o.remote
	}
	if o.listen != "" {
		cfg.HTTP.Listen = o.listen
	}

	var sinks []viewwatch.Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, viewwatch.NewStdoutSink(nil))
		default:
			logger.Warn("viewwatch: unknown sink type", "type", sc.Type)
		}
	}

	w := viewwatch.New(cfg, logger, sinks...)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		w.Stop(stopCtx)
	}()

	if db != nil {
		pw := viewwatch.WatchPages(db, logger)
		go pw.OnChange(ctx, func(ctx context.Context) error { return w.SyncFromDB(ctx, db) })
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           w.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("viewwatch: admin listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("admin http: %w", err)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func loadConfig(ctx context.Context, logger *slog.Logger, o options) (*viewwatch.Config, *sql.DB, error) {
	switch {
	case o.configPath != "":
		cfg, err := viewwatch.LoadConfigFile(o.configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil, nil

	case o.dbPath != "":
		opts := []dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(viewwatch.PagesSchema)}
		if o.dbReadOnly {
			opts = []dbopen.Option{dbopen.WithReadOnly()}
		}
		db, err := dbopen.Open(o.dbPath, opts...)
		if err != nil {
			return nil, nil, err
		}
		pages, err := viewwatch.LoadPages(ctx, db, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		cfg := viewwatch.DefaultConfig()
		cfg.Pages = pages
		return cfg, db, nil

	case o.url != "":
		if o.selector == "" {
			return nil, nil, errors.New("-url requires -selector")
		}
		cfg := viewwatch.DefaultConfig()
		cfg.Browser.ResourceBlocking = []string{"fonts", "media"}
		p := viewwatch.PageConfig{
			ID:        idgen.New(),
			URL:       o.url,
			Selector:  o.selector,
			Container: o.container,
			KeyAttr:   o.keyAttr,
		}
		for _, k := range strings.Split(o.kinds, ",") {
			if k = strings.TrimSpace(k); k != "" {
				p.Kinds = append(p.Kinds, k)
			}
		}
		cfg.Pages = []viewwatch.PageConfig{p}
		return cfg, nil, nil
	}

	return nil, nil, errUsage
}
