package infra

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_WritesRotatingFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Dir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Level = "warn"

	logger := NewLogger(cfg)
	logger.Info("dropped below level")
	logger.Warn("Settlement request rejected", slog.String("op", "exchange"))

	raw, err := os.ReadFile(filepath.Join(cfg.Logging.Dir, cfg.Logging.File))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	out := string(raw)
	if strings.Contains(out, "dropped below level") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, `"op":"exchange"`) {
		t.Errorf("expected JSON attribute in log file, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := parseLevel(raw); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
	if NewLogger(DefaultConfig()).Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default logger should not emit debug")
	}
}

func TestNewLogger_EmptyDirWritesStderr(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	stderr := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = stderr }()

	cfg := DefaultConfig()
	cfg.Logging.Dir = ""
	NewLogger(cfg).Warn("stderr only")
	w.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "stderr only") {
		t.Errorf("expected record on stderr, got %q", raw)
	}
}
