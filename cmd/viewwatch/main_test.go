package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestLoadConfig_NoSource(t *testing.T) {
	_, _, err := loadConfig(context.Background(), slog.Default(), options{})
	if !errors.Is(err, errUsage) {
		t.Fatalf("got %v, want errUsage", err)
	}
}

func TestLoadConfig_URLNeedsSelector(t *testing.T) {
	_, _, err := loadConfig(context.Background(), slog.Default(), options{url: "https://example.com"})
	if err == nil || errors.Is(err, errUsage) {
		t.Fatalf("got %v, want selector error", err)
	}
}

func TestLoadConfig_URLKinds(t *testing.T) {
	cfg, db, err := loadConfig(context.Background(), slog.Default(), options{
		url:      "https://example.com",
		selector: "[data-tid]",
		kinds:    " stay , ",
	})
	if err != nil {
		t.Fatal(err)
	}
	if db != nil {
		t.Fatal("url mode opened a database")
	}
	if len(cfg.Pages) != 1 || len(cfg.Pages[0].Kinds) != 1 || cfg.Pages[0].Kinds[0] != "stay" {
		t.Fatalf("pages: got %+v", cfg.Pages)
	}
}
