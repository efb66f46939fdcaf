package config

import (
	"strings"
	"testing"
	"time"
)

func TestParse_AppliesDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_ROOT", "")

	cfg, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Fatalf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.SegmentDuration() != 600*time.Second {
		t.Fatalf("expected 600s segments, got %s", cfg.SegmentDuration())
	}
	if cfg.TranscodeTimeout() != DefaultTimeoutSeconds*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.TranscodeTimeout())
	}
	if cfg.BodyLimitBytes() != 200*1024*1024 {
		t.Fatalf("expected 200MB body limit, got %d", cfg.BodyLimitBytes())
	}
	if cfg.Transcoder.FFmpegPath != "ffmpeg" {
		t.Fatalf("expected ffmpeg path default, got %q", cfg.Transcoder.FFmpegPath)
	}
}

func TestParse_ExplicitZeroTimeoutDisablesDeadline(t *testing.T) {
	t.Setenv("STORAGE_ROOT", "")

	doc := `
transcoder:
  segmentSeconds: 300
  timeoutSeconds: 0
storage:
  root: /var/lib/podcast
`
	cfg, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.TranscodeTimeout() != 0 {
		t.Fatalf("expected no timeout, got %s", cfg.TranscodeTimeout())
	}
	if cfg.SegmentDuration() != 300*time.Second {
		t.Fatalf("expected 300s segments, got %s", cfg.SegmentDuration())
	}
	if cfg.Storage.Root != "/var/lib/podcast" {
		t.Fatalf("unexpected storage root %q", cfg.Storage.Root)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("STORAGE_ROOT", "/tmp/jobs")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Parse(strings.NewReader("server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Fatalf("expected PORT override 8081, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Root != "/tmp/jobs" {
		t.Fatalf("expected STORAGE_ROOT override, got %q", cfg.Storage.Root)
	}
	if cfg.Redis.URL == "" {
		t.Fatalf("expected REDIS_URL override")
	}
}

func TestParse_RejectsNegativeTimeout(t *testing.T) {
	if _, err := Parse(strings.NewReader("transcoder:\n  timeoutSeconds: -5\n")); err == nil {
		t.Fatalf("expected error for negative timeout")
	}
}

func TestParse_RejectsTinySegments(t *testing.T) {
	if _, err := Parse(strings.NewReader("transcoder:\n  segmentSeconds: 1\n")); err == nil {
		t.Fatalf("expected error for segmentSeconds below the minimum")
	}
	cfg, err := Parse(strings.NewReader("transcoder:\n  segmentSeconds: 10\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Transcoder.SegmentSeconds != 10 {
		t.Fatalf("expected 10, got %d", cfg.Transcoder.SegmentSeconds)
	}
}

func TestParse_RejectsUnknownLogFormat(t *testing.T) {
	if _, err := Parse(strings.NewReader("log:\n  format: xml\n")); err == nil {
		t.Fatalf("expected error for unknown log format")
	}
}
