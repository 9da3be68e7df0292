package pipeline

import (
	"context"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/dataset"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/fetch"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/store"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/tables"
)

// Fetcher retrieves and extracts one archive. A false result means the
// dataset must be skipped; the fetcher has already logged why.
type Fetcher interface {
	Fetch(ctx context.Context, remoteName, localDir string) (*fetch.Result, bool)
}

// Populator appends a frame to a stored table.
type Populator interface {
	Populate(ctx context.Context, table string, frame *tables.Frame) (store.PopulateResult, error)
}

// SeriesKeyResolver is implemented by populators that key value rows on
// stored identifier ids rather than load positions. It runs after the
// identifier table of desc is populated.
type SeriesKeyResolver interface {
	ResolveSeriesKeys(ctx context.Context, desc dataset.Descriptor, ids, values *tables.Frame) (*tables.Frame, error)
}

// Archiver snapshots normalized frames.
type Archiver interface {
	ArchiveDataset(ctx context.Context, desc dataset.Descriptor, ids, values *tables.Frame) error
	Finish(ctx context.Context) (string, error)
}

// LoadFunc parses an extracted CSV into raw, identifier and value frames.
type LoadFunc func(path string, idColumns int) (*tables.RawTable, *tables.Frame, *tables.Frame, error)

// DatasetResult is the per-dataset state carried from load to populate.
type DatasetResult struct {
	Descriptor dataset.Descriptor
	Fetch      *fetch.Result
	Control    ValidationResult
	Skipped    int // malformed rows dropped by the loader

	IDs    *tables.Frame // normalized identifier frame
	Values *tables.Frame // normalized value frame
}
