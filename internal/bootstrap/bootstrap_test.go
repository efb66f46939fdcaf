package bootstrap

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"podcast-illustrator/internal/config"
)

func TestBuild_FileOnlyWiring(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Root = filepath.Join(t.TempDir(), "jobs")
	cfg.ApplyDefaults()

	app, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	defer app.Close()

	if app.Store == nil || app.FFmpeg == nil || app.Orchestrator == nil {
		t.Fatalf("expected core components, got %+v", app)
	}
	if app.Catalog != nil || app.Redis != nil {
		t.Fatalf("catalog and redis must stay disabled without connection strings")
	}
	if app.Pruner() != nil {
		t.Fatalf("expected nil pruner without a catalog")
	}
	if app.Store.Root() != cfg.Storage.Root {
		t.Fatalf("store root = %q", app.Store.Root())
	}
}

func TestBuild_BadRedisURL(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Root = t.TempDir()
	cfg.Redis.URL = "not a url"
	cfg.ApplyDefaults()

	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for malformed redis url")
	}
}

func TestNewLogger_FormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "job_id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"job_id":"abc"`) {
		t.Fatalf("expected json output, got %s", out)
	}
}
