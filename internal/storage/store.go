// Package storage archives each run's normalized frames as parquet
// snapshots on a local directory or object store.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotRef identifies one archived table of one run.
type SnapshotRef struct {
	RunID   string
	Dataset string // descriptor code, e.g. "exr"
	Table   string // stored table name
}

// Path returns the storage key of this table's parquet file.
func (r SnapshotRef) Path(prefix string) string {
	return fmt.Sprintf("%srun=%s/%s/%s.parquet", prefix, r.RunID, r.Dataset, r.Table)
}

// File returns the key relative to the run directory.
func (r SnapshotRef) File() string {
	return fmt.Sprintf("%s/%s.parquet", r.Dataset, r.Table)
}

// ManifestPath returns the storage key of the run manifest.
func ManifestPath(prefix, runID string) string {
	return fmt.Sprintf("%srun=%s/_manifest.json", prefix, runID)
}

// Manifest describes the contents of a run snapshot directory.
type Manifest struct {
	RunID     string               `json:"run_id"`
	Tables    map[string]TableInfo `json:"tables"`
	Producer  ProducerInfo         `json:"producer"`
	CreatedAt time.Time            `json:"created_at"`
}

// TableInfo describes a single archived table.
type TableInfo struct {
	Dataset  string `json:"dataset"`
	File     string `json:"file"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// ProducerInfo describes the software that produced the snapshot.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MarshalJSON returns the manifest as indented JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// SnapshotStore abstracts writing snapshot payloads to storage.
type SnapshotStore interface {
	// WriteParquet writes parquet bytes for ref.
	WriteParquet(ctx context.Context, ref SnapshotRef, parquetBytes []byte) error

	// WriteManifest writes the run manifest.
	WriteManifest(ctx context.Context, manifest *Manifest) error

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Backend string // "local" | "gcs" | "s3"

	// Local filesystem
	LocalDir string

	// GCS or S3 bucket name
	Bucket string

	// S3 (also works for B2, R2, MinIO)
	S3Endpoint string
	S3Region   string

	// Common
	Prefix string // "bis/" (path prefix within bucket or local dir)
}

// NewSnapshotStore creates a storage backend based on configuration.
func NewSnapshotStore(ctx context.Context, cfg StorageConfig) (SnapshotStore, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for gcs backend")
		}
		return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for s3 backend")
		}
		return NewS3Store(ctx, cfg.Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
