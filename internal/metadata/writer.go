package metadata

import (
	"context"
	"errors"
)

// CatalogConfig selects where run manifests are recorded.
type CatalogConfig struct {
	ManifestPath string // JSON file, rewritten every run
	PostgresDSN  string // optional run catalog
}

// Writer records a finished run.
type Writer interface {
	RecordRun(ctx context.Context, m *RunManifest) error
	Close() error
}

// NewWriter returns a writer for every configured target.
func NewWriter(ctx context.Context, cfg CatalogConfig) (Writer, error) {
	var ws multiWriter
	if cfg.ManifestPath != "" {
		ws = append(ws, FileWriter{Path: cfg.ManifestPath})
	}
	if cfg.PostgresDSN != "" {
		pw, err := NewPostgresWriter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		ws = append(ws, pw)
	}
	return ws, nil
}

// FileWriter writes the manifest as JSON.
type FileWriter struct {
	Path string
}

// RecordRun implements Writer.
func (w FileWriter) RecordRun(_ context.Context, m *RunManifest) error {
	return m.WriteJSON(w.Path)
}

// Close implements Writer.
func (FileWriter) Close() error { return nil }

type multiWriter []Writer

func (ws multiWriter) RecordRun(ctx context.Context, m *RunManifest) error {
	var errs []error
	for _, w := range ws {
		errs = append(errs, w.RecordRun(ctx, m))
	}
	return errors.Join(errs...)
}

func (ws multiWriter) Close() error {
	var errs []error
	for _, w := range ws {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}
