// Package logging provides structured logging using slog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelCritical sits above slog.LevelError. It marks conditions that leave
// stored data incomplete but do not stop the run.
const LevelCritical = slog.LevelError + 4

// Config holds logging configuration.
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error" | "critical"
	File   string // truncated on every run; empty logs to stderr only
	Stderr bool   // mirror records to stderr when File is set
}

// Setup initializes the global slog logger based on configuration.
// The returned closer releases the log file, if one was opened.
func Setup(cfg Config) (io.Closer, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)

	if cfg.File != "" {
		f, err := os.Create(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		out, closer = f, f
		if cfg.Stderr {
			out = io.MultiWriter(f, os.Stderr)
		}
	}

	slog.SetDefault(New(out, cfg.Format, cfg.Level))
	return closer, nil
}

// New builds a logger writing to w. It is used by Setup and by tests that
// need to inspect log output.
func New(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: replaceLevel,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Critical logs at LevelCritical.
func Critical(ctx context.Context, log *slog.Logger, msg string, args ...any) {
	log.Log(ctx, LevelCritical, msg, args...)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// replaceLevel renders LevelCritical as CRITICAL instead of slog's ERROR+4.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Component returns a logger with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}

// DatasetLogger creates a logger carrying the dataset and run context.
func DatasetLogger(runID, code, archive string) *slog.Logger {
	return slog.With(
		"run_id", runID,
		"dataset", code,
		"archive", archive,
	)
}

// TableLogger creates a logger for a single populate call.
func TableLogger(base *slog.Logger, table string) *slog.Logger {
	return base.With("table", table)
}
