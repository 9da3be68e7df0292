// Package pipeline runs the fetch, load, normalize and populate stages over
// the configured datasets.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/dataset"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/logging"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/metadata"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/metrics"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/tables"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Options carries run-level settings recorded in the manifest.
type Options struct {
	RunID     string
	DataDir   string
	BaseURL   string
	Driver    string
	DedupMode string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLoader replaces tables.Load.
func WithLoader(load LoadFunc) Option {
	return func(p *Pipeline) { p.load = load }
}

// WithArchiver enables parquet snapshots.
func WithArchiver(a Archiver) Option {
	return func(p *Pipeline) { p.archiver = a }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithMetadata records the run manifest when the run ends.
func WithMetadata(w metadata.Writer) Option {
	return func(p *Pipeline) { p.meta = w }
}

// WithCheckpoint compares fetched archives with the previous successful run
// and saves the new archive state when the run succeeds.
func WithCheckpoint(m checkpoint.Manager) Option {
	return func(p *Pipeline) { p.checkpoints = m }
}

// WithProgress sets where progress lines are printed. Defaults to discard.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) { p.progress = w }
}

// Pipeline orchestrates one run over a fixed dataset list.
type Pipeline struct {
	opts      Options
	fetcher   Fetcher
	load      LoadFunc
	populator Populator
	archiver  Archiver
	metrics   *metrics.Metrics
	meta      metadata.Writer
	progress  io.Writer
	log       *slog.Logger

	checkpoints checkpoint.Manager
	previous    *checkpoint.Checkpoint
}

// New creates a pipeline.
func New(opts Options, f Fetcher, pop Populator, optFns ...Option) *Pipeline {
	p := &Pipeline{
		opts:      opts,
		fetcher:   f,
		load:      tables.Load,
		populator: pop,
		progress:  io.Discard,
		log:       logging.Component("pipeline").With("run_id", opts.RunID),
	}
	for _, fn := range optFns {
		fn(p)
	}
	return p
}

// Run processes descs in order. Datasets that fail to fetch or load are
// skipped. Every identifier table is populated before any value table.
// A storage error aborts the run and is returned; the manifest is recorded
// either way.
func (p *Pipeline) Run(ctx context.Context, descs []dataset.Descriptor) (*metadata.RunManifest, error) {
	start := time.Now()
	manifest := metadata.New(p.opts.RunID, Version)
	manifest.BaseURL = p.opts.BaseURL
	manifest.Driver = p.opts.Driver
	manifest.DedupMode = p.opts.DedupMode

	p.log.Info("run started", "datasets", len(descs), "data_dir", p.opts.DataDir)
	p.loadCheckpoint(ctx)

	var loaded []*DatasetResult
	for _, desc := range descs {
		if err := ctx.Err(); err != nil {
			return p.finish(ctx, manifest, start, err)
		}
		if res := p.prepare(ctx, desc, manifest); res != nil {
			loaded = append(loaded, res)
		}
	}

	if p.archiver != nil && len(loaded) > 0 {
		p.snapshot(ctx, loaded, manifest)
	}

	err := p.populateAll(ctx, loaded, manifest)
	if err == nil {
		p.saveCheckpoint(ctx, loaded)
	}
	return p.finish(ctx, manifest, start, err)
}

// prepare fetches, loads, checks and normalizes one dataset. It returns nil
// when the dataset is skipped.
func (p *Pipeline) prepare(ctx context.Context, desc dataset.Descriptor, manifest *metadata.RunManifest) *DatasetResult {
	log := logging.DatasetLogger(p.opts.RunID, desc.Code, desc.RemoteName)
	rec := manifest.Dataset(desc.Code, desc.RemoteName)

	fmt.Fprintf(p.progress, "Processing %s... ", desc.RemoteName)
	defer fmt.Fprintln(p.progress)

	fetchStart := time.Now()
	fr, ok := p.fetcher.Fetch(ctx, desc.RemoteName, p.opts.DataDir)
	if !ok {
		rec.Skip("fetch failed")
		p.countDataset(desc.Code, metrics.OutcomeFetchFailed)
		return nil
	}
	rec.ArchiveBytes = fr.Bytes
	rec.SHA256 = fr.Checksum
	if p.previous.Unchanged(desc.Code, fr.Checksum) {
		rec.Unchanged = true
		log.Info("archive unchanged since last run", "sha256", fr.Checksum)
	}
	if p.metrics != nil {
		p.metrics.ObserveFetch(desc.Code, fr.Bytes, time.Since(fetchStart).Seconds())
	}

	path := filepath.Join(p.opts.DataDir, desc.LocalName)
	raw, ids, values, err := p.load(path, desc.IDColumns)
	if err != nil {
		log.Error("load failed", "file", desc.LocalName, "error", err)
		rec.Skip(fmt.Sprintf("load failed: %v", err))
		p.countDataset(desc.Code, metrics.OutcomeLoadFailed)
		return nil
	}

	control := ValidateLoad(path, raw.Len())
	LogControlCount(log, path, control)

	rec.RowsLoaded = raw.Len()
	rec.RowsSkipped = raw.Skipped
	rec.ControlCount = control.RawLines
	rec.ControlDelta = control.Delta
	if p.metrics != nil {
		p.metrics.ObserveLoad(desc.Code, raw.Len(), raw.Skipped, control.Delta)
	}

	return &DatasetResult{
		Descriptor: desc,
		Fetch:      fr,
		Control:    control,
		Skipped:    raw.Skipped,
		IDs:        tables.Normalize(ids, desc.IDRenames),
		Values:     tables.Normalize(values, desc.ValueRenames()),
	}
}

// snapshot archives every loaded dataset. Snapshot failures are logged and
// do not stop the run.
func (p *Pipeline) snapshot(ctx context.Context, loaded []*DatasetResult, manifest *metadata.RunManifest) {
	for _, res := range loaded {
		if err := p.archiver.ArchiveDataset(ctx, res.Descriptor, res.IDs, res.Values); err != nil {
			p.log.Error("snapshot failed", "dataset", res.Descriptor.Code, "error", err)
			return
		}
	}
	uri, err := p.archiver.Finish(ctx)
	if err != nil {
		p.log.Error("snapshot manifest failed", "error", err)
		return
	}
	manifest.SnapshotURI = uri
}

// populateAll appends identifier tables first, then value tables. When a
// populate fails, every dataset not yet fully stored is marked failed.
func (p *Pipeline) populateAll(ctx context.Context, loaded []*DatasetResult, manifest *metadata.RunManifest) error {
	err := p.populateTables(ctx, loaded, manifest)
	for _, res := range loaded {
		rec := manifest.Dataset(res.Descriptor.Code, res.Descriptor.RemoteName)
		if err != nil {
			if rec.Status != metadata.StatusFailed {
				rec.Status = metadata.StatusFailed
				rec.SkipReason = "run aborted before populate completed"
			}
			continue
		}
		rec.Status = metadata.StatusLoaded
		p.countDataset(res.Descriptor.Code, metrics.OutcomeLoaded)
	}
	return err
}

func (p *Pipeline) populateTables(ctx context.Context, loaded []*DatasetResult, manifest *metadata.RunManifest) error {
	for _, res := range loaded {
		if err := p.populate(ctx, res, res.Descriptor.IDTable, res.IDs, manifest); err != nil {
			return err
		}
	}
	resolver, resolves := p.populator.(SeriesKeyResolver)
	for _, res := range loaded {
		if resolves {
			values, err := resolver.ResolveSeriesKeys(ctx, res.Descriptor, res.IDs, res.Values)
			if err != nil {
				rec := manifest.Dataset(res.Descriptor.Code, res.Descriptor.RemoteName)
				rec.Status = metadata.StatusFailed
				p.countDataset(res.Descriptor.Code, metrics.OutcomePopulateFailed)
				return fmt.Errorf("resolve series keys of %s: %w", res.Descriptor.ValueTable, err)
			}
			res.Values = values
		}
		if err := p.populate(ctx, res, res.Descriptor.ValueTable, res.Values, manifest); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) populate(ctx context.Context, res *DatasetResult, table string, frame *tables.Frame, manifest *metadata.RunManifest) error {
	desc := res.Descriptor
	rec := manifest.Dataset(desc.Code, desc.RemoteName)

	fmt.Fprintf(p.progress, "Populating %s with %s... ", table, desc.Code)
	defer fmt.Fprintln(p.progress)

	start := time.Now()
	pr, err := p.populator.Populate(ctx, table, frame)
	rec.AddTable(metadata.TableRecord{
		Table:      table,
		Candidates: pr.Candidates,
		Inserted:   pr.Inserted,
		Missing:    pr.Missing,
	})
	if p.metrics != nil {
		p.metrics.ObservePopulate(table, pr.Inserted, len(pr.Missing), time.Since(start).Seconds())
	}
	if err != nil {
		rec.Status = metadata.StatusFailed
		p.countDataset(desc.Code, metrics.OutcomePopulateFailed)
		return fmt.Errorf("populate %s: %w", table, err)
	}
	return nil
}

func (p *Pipeline) loadCheckpoint(ctx context.Context) {
	if p.checkpoints == nil {
		return
	}
	cp, err := p.checkpoints.Load(ctx)
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		p.log.Info("no previous checkpoint")
	case err != nil:
		p.log.Warn("load checkpoint failed", "error", err)
	default:
		p.previous = cp
		p.log.Info("previous checkpoint loaded", "previous_run", cp.RunID, "archives", len(cp.Archives))
	}
}

// saveCheckpoint records the archives of this run. Datasets skipped this
// run keep their previous state.
func (p *Pipeline) saveCheckpoint(ctx context.Context, loaded []*DatasetResult) {
	if p.checkpoints == nil {
		return
	}
	cp := checkpoint.New(p.opts.RunID, Version)
	if p.previous != nil {
		for code, state := range p.previous.Archives {
			cp.Record(code, state)
		}
	}
	now := time.Now().UTC()
	for _, res := range loaded {
		cp.Record(res.Descriptor.Code, checkpoint.ArchiveState{
			Archive:   res.Descriptor.RemoteName,
			Checksum:  res.Fetch.Checksum,
			Bytes:     res.Fetch.Bytes,
			FetchedAt: now,
		})
	}
	if err := p.checkpoints.Save(ctx, cp); err != nil {
		p.log.Warn("save checkpoint failed", "error", err)
	}
}

func (p *Pipeline) finish(ctx context.Context, manifest *metadata.RunManifest, start time.Time, runErr error) (*metadata.RunManifest, error) {
	manifest.Finish(runErr)
	elapsed := time.Since(start)

	if p.metrics != nil {
		p.metrics.FinishRun(runErr == nil, elapsed.Seconds(), float64(time.Now().Unix()))
	}
	if p.meta != nil {
		// The run context may already be cancelled; the record is still wanted.
		if err := p.meta.RecordRun(context.WithoutCancel(ctx), manifest); err != nil {
			p.log.Error("record run manifest failed", "error", err)
		}
	}

	if runErr != nil {
		p.log.Error("run aborted", "error", runErr, "duration", elapsed.String())
		return manifest, runErr
	}
	p.log.Info("run complete", "datasets", len(manifest.Datasets), "duration", elapsed.String())
	return manifest, nil
}

func (p *Pipeline) countDataset(code, outcome string) {
	if p.metrics != nil {
		p.metrics.IncDataset(code, outcome)
	}
}
