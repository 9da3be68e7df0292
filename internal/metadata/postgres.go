package metadata

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter records runs in a PostgreSQL catalog.
type PostgresWriter struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresWriter connects to the catalog and ensures its tables exist.
func NewPostgresWriter(ctx context.Context, cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolCfg.MaxConns = 2
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init catalog schema: %w", err)
	}

	w := &PostgresWriter{pool: pool, log: slog.With("component", "metadata")}
	w.log.Info("connected to run catalog")
	return w, nil
}

// RecordRun writes the run and its dataset rows in one transaction.
func (w *PostgresWriter) RecordRun(ctx context.Context, m *RunManifest) error {
	err := pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO _meta_runs (
				run_id, version, base_url, driver, dedup_mode,
				started_at, finished_at, success, error, snapshot_uri
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (run_id) DO UPDATE SET
				finished_at = EXCLUDED.finished_at,
				success = EXCLUDED.success,
				error = EXCLUDED.error,
				snapshot_uri = EXCLUDED.snapshot_uri
		`,
			m.RunID, m.Version, m.BaseURL, m.Driver, m.DedupMode,
			m.StartedAt, m.FinishedAt, m.Success, m.Error, m.SnapshotURI,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		batch := &pgx.Batch{}
		for _, d := range m.Datasets {
			inserted := 0
			for _, t := range d.Tables {
				inserted += t.Inserted
			}
			batch.Queue(`
				INSERT INTO _meta_run_datasets (
					run_id, dataset, archive, archive_bytes, sha256,
					rows_loaded, rows_skipped, control_delta, rows_inserted,
					status, skip_reason
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (run_id, dataset) DO NOTHING
			`,
				m.RunID, d.Code, d.Archive, d.ArchiveBytes, d.SHA256,
				d.RowsLoaded, d.RowsSkipped, d.ControlDelta, inserted,
				d.Status, d.SkipReason,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("record run %s: %w", m.RunID, err)
	}

	w.log.Info("recorded run", "run_id", m.RunID, "datasets", len(m.Datasets))
	return nil
}

// Close releases the pool.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
