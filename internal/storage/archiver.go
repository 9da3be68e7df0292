package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/dataset"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/tables"
)

// Archiver writes one run's frames and a closing manifest.
type Archiver struct {
	store    SnapshotStore
	prefix   string
	manifest *Manifest
	log      *slog.Logger
}

// NewArchiver creates an archiver for runID. prefix must match the store's
// prefix so manifest URIs resolve.
func NewArchiver(store SnapshotStore, prefix, runID, version string) *Archiver {
	return &Archiver{
		store:  store,
		prefix: prefix,
		manifest: &Manifest{
			RunID:    runID,
			Tables:   make(map[string]TableInfo),
			Producer: ProducerInfo{Name: "bis-pipeline", Version: version},
		},
		log: slog.With("component", "snapshot", "run_id", runID),
	}
}

// ArchiveDataset writes the normalized identifier and value frames of desc.
func (a *Archiver) ArchiveDataset(ctx context.Context, desc dataset.Descriptor, ids, values *tables.Frame) error {
	idBytes, err := EncodeIdentifiers(ids)
	if err != nil {
		return fmt.Errorf("encode %s: %w", desc.IDTable, err)
	}
	if err := a.write(ctx, desc, desc.IDTable, idBytes, ids.Len()); err != nil {
		return err
	}

	valBytes, err := EncodeValues(values, desc.SeriesKeyColumn(), "date", tables.MeltValueColumn)
	if err != nil {
		return fmt.Errorf("encode %s: %w", desc.ValueTable, err)
	}
	return a.write(ctx, desc, desc.ValueTable, valBytes, values.Len())
}

func (a *Archiver) write(ctx context.Context, desc dataset.Descriptor, table string, data []byte, rows int) error {
	ref := SnapshotRef{RunID: a.manifest.RunID, Dataset: desc.Code, Table: table}
	if err := a.store.WriteParquet(ctx, ref, data); err != nil {
		return fmt.Errorf("write snapshot %s: %w", table, err)
	}

	info := TableInfo{
		Dataset:  desc.Code,
		File:     ref.File(),
		Checksum: ComputeChecksum(data),
		RowCount: int64(rows),
		ByteSize: int64(len(data)),
	}
	a.manifest.Tables[table] = info
	a.log.Info("snapshot written", "table", table, "rows", rows, "bytes", len(data), "uri", a.store.URI(ref.Path(a.prefix)))
	return nil
}

// Finish writes the manifest and returns its URI.
func (a *Archiver) Finish(ctx context.Context) (string, error) {
	a.manifest.CreatedAt = time.Now().UTC()
	if err := a.store.WriteManifest(ctx, a.manifest); err != nil {
		return "", fmt.Errorf("write snapshot manifest: %w", err)
	}
	return a.store.URI(ManifestPath(a.prefix, a.manifest.RunID)), nil
}
