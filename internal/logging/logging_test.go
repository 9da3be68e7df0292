package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCriticalRenderedByName(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "text", "info")

	Critical(context.Background(), log, "Missing Columns Critical Error", "table", "exchange_rate")

	out := buf.String()
	if !strings.Contains(out, "level=CRITICAL") {
		t.Errorf("expected level=CRITICAL in output, got: %s", out)
	}
	if !strings.Contains(out, "table=exchange_rate") {
		t.Errorf("expected table attribute in output, got: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "text", "warn")

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn record should be written: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		"WARNING":  slog.LevelWarn,
		"error":    slog.LevelError,
		"critical": LevelCritical,
		"":         slog.LevelInfo,
		"bogus":    slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupTruncatesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")
	if err := os.WriteFile(path, []byte("previous run\n"), 0644); err != nil {
		t.Fatal(err)
	}

	prev := slog.Default()
	defer slog.SetDefault(prev)

	closer, err := Setup(Config{Format: "text", Level: "info", File: path})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	slog.Info("fresh run")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "previous run") {
		t.Error("log file should be overwritten each run")
	}
	if !strings.Contains(string(data), "fresh run") {
		t.Errorf("expected new record in log file, got: %s", data)
	}
}
