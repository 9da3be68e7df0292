package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/dataset"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/logging"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/tables"
)

const (
	// DedupIndex compares frame indices against stored surrogate ids.
	DedupIndex = "index"
	// DedupKey compares natural key columns.
	DedupKey = "key"

	defaultBatchSize = 500

	// maxParams keeps a single INSERT under the lowest engine bind limit.
	maxParams = 30000
)

// PopulateResult summarizes one populate call.
type PopulateResult struct {
	Table      string
	Candidates int
	Existing   int // stored rows seen by the differ
	Inserted   int
	Missing    []string // storage columns absent from the frame
	Dropped    []string // frame columns absent from storage
}

// Opener returns a fresh database handle for one populate call.
type Opener func(ctx context.Context) (*sqlx.DB, error)

// Option configures a Populator.
type Option func(*Populator)

// WithDatasetKeys registers the natural keys of every table in descs.
func WithDatasetKeys(descs []dataset.Descriptor) Option {
	return func(p *Populator) {
		for _, d := range descs {
			p.keys[d.IDTable] = d.IDKey()
			p.keys[d.ValueTable] = d.ValueKey()
		}
	}
}

// WithLogger replaces the default component logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Populator) {
		p.log = log
	}
}

// WithOpener overrides how connections are opened.
func WithOpener(open Opener) Option {
	return func(p *Populator) {
		p.open = open
	}
}

// Populator appends frame rows that are not yet stored.
type Populator struct {
	cfg  Config
	open Opener
	keys map[string][]string
	log  *slog.Logger
}

// NewPopulator creates a populator for cfg.
func NewPopulator(cfg Config, opts ...Option) *Populator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.DedupMode == "" {
		cfg.DedupMode = DedupIndex
	}

	p := &Populator{
		cfg:  cfg,
		keys: make(map[string][]string),
		log:  logging.Component("store"),
	}
	p.open = func(ctx context.Context) (*sqlx.DB, error) {
		return Open(ctx, p.cfg)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Populate appends the rows of frame that table does not hold yet.
//
// Storage columns missing from the frame are logged at CRITICAL and the
// remaining columns are still written. Frame columns with no storage
// counterpart are dropped. Storage errors are returned.
func (p *Populator) Populate(ctx context.Context, table string, frame *tables.Frame) (PopulateResult, error) {
	res := PopulateResult{Table: table, Candidates: frame.Len()}
	if err := checkIdent(table); err != nil {
		return res, err
	}
	log := logging.TableLogger(p.log, table)

	db, err := p.open(ctx)
	if err != nil {
		return res, fmt.Errorf("connect for %s: %w", table, err)
	}
	defer db.Close()

	stored, err := storedColumns(ctx, db, table)
	if err != nil {
		return res, err
	}

	d, err := p.differ(table)
	if err != nil {
		return res, err
	}
	keep, existing, err := d.diff(ctx, db, table, frame)
	if err != nil {
		return res, err
	}
	res.Existing = existing
	retained := frame.Take(keep)

	log.Info(table+" population executed",
		"candidates", frame.Len(),
		"existing", existing,
		"new", retained.Len(),
	)

	surrogate := dataset.SurrogateColumn(table)
	var (
		cols      []string
		positions []int
		inStore   = make(map[string]bool, len(stored))
	)
	for _, c := range stored {
		inStore[c] = true
		if c == surrogate {
			continue
		}
		pos := frame.ColumnIndex(c)
		if pos < 0 {
			res.Missing = append(res.Missing, c)
			continue
		}
		cols = append(cols, c)
		positions = append(positions, pos)
	}
	for _, c := range frame.Columns {
		if !inStore[c] {
			res.Dropped = append(res.Dropped, c)
		}
	}

	if len(res.Missing) > 0 {
		logging.Critical(ctx, log, "Missing Columns Critical Error", "missing", res.Missing)
	}
	if len(res.Dropped) > 0 {
		log.Debug("frame columns not in storage", "dropped", res.Dropped)
	}

	if retained.Len() == 0 {
		return res, nil
	}
	if len(cols) == 0 {
		log.Warn("no writable columns, rows not inserted", "rows", retained.Len())
		return res, nil
	}

	n, err := insertRows(ctx, db, table, cols, positions, retained.Rows, p.batchRows(len(cols)))
	res.Inserted = n
	if err != nil {
		return res, err
	}
	return res, nil
}

func (p *Populator) batchRows(ncols int) int {
	rows := p.cfg.BatchSize
	if limit := maxParams / ncols; rows > limit {
		rows = limit
	}
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (p *Populator) differ(table string) (differ, error) {
	switch p.cfg.DedupMode {
	case DedupIndex:
		return indexDiffer{}, nil
	case DedupKey:
		keys, ok := p.keys[table]
		if !ok || len(keys) == 0 {
			return nil, fmt.Errorf("no key columns registered for %s", table)
		}
		return keyDiffer{columns: keys}, nil
	default:
		return nil, fmt.Errorf("unknown dedup mode %q", p.cfg.DedupMode)
	}
}

// storedColumns returns the column names of table in storage order.
func storedColumns(ctx context.Context, db *sqlx.DB, table string) ([]string, error) {
	rows, err := db.QueryxContext(ctx, "SELECT * FROM "+table+" LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	return cols, nil
}

// insertRows writes rows in multi-row INSERT statements of at most batch rows.
func insertRows(ctx context.Context, db *sqlx.DB, table string, cols []string, positions []int, rows [][]any, batch int) (int, error) {
	head := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES "
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	inserted := 0
	for start := 0; start < len(rows); start += batch {
		end := start + batch
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		var b strings.Builder
		b.WriteString(head)
		args := make([]any, 0, len(chunk)*len(cols))
		for i, row := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(tuple)
			for _, pos := range positions {
				args = append(args, row[pos])
			}
		}

		if _, err := db.ExecContext(ctx, db.Rebind(b.String()), args...); err != nil {
			return inserted, fmt.Errorf("insert into %s: %w", table, err)
		}
		inserted += len(chunk)
	}
	return inserted, nil
}

// ascendingByIndex orders frame positions by their frame index.
func ascendingByIndex(frame *tables.Frame, positions []int) {
	sort.SliceStable(positions, func(i, j int) bool {
		return frame.Index[positions[i]] < frame.Index[positions[j]]
	})
}
