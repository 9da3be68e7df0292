package main

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/fetch"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/metadata"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/metrics"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/pipeline"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/storage"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/store"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/util"
)

func newRunCmd(load loadFunc) *cobra.Command {
	var datasets []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, load and populate every configured release",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := load()
			if err != nil {
				return err
			}
			defer cleanup()
			if len(datasets) > 0 {
				cfg.Datasets = datasets
			}

			ctx := cmd.Context()
			log := slog.With("component", "main")

			descs, err := selectDatasets(cfg)
			if err != nil {
				log.Error("run failed", "error", err)
				return err
			}
			if err := util.EnsureDir(cfg.Source.DataDir); err != nil {
				log.Error("create data dir failed", "dir", cfg.Source.DataDir, "error", err)
				return err
			}

			runID := uuid.NewString()
			log.Info("BIS pipeline starting", "version", pipeline.Version, "git_sha", pipeline.GitSHA, "run_id", runID)

			storeCfg := storeConfig(cfg)
			if cfg.Database.EnsureSchema {
				if err := ensureSchema(ctx, storeCfg, descs); err != nil {
					log.Error("ensure schema failed", "error", err)
					return err
				}
			}

			m := metrics.New(cfg.Metrics.Namespace)
			opts := []pipeline.Option{
				pipeline.WithProgress(cmd.OutOrStdout()),
				pipeline.WithMetrics(m),
			}

			meta, err := metadata.NewWriter(ctx, metadata.CatalogConfig{
				ManifestPath: cfg.ManifestPath(),
				PostgresDSN:  cfg.Catalog.PostgresDSN,
			})
			if err != nil {
				log.Error("create run catalog failed", "error", err)
				return err
			}
			defer meta.Close()
			opts = append(opts, pipeline.WithMetadata(meta))

			checkpoints, err := checkpoint.NewManager(checkpoint.Config{
				Enabled: cfg.Checkpoint.Enabled,
				Dir:     cfg.CheckpointDir(),
			})
			if err != nil {
				log.Error("create checkpoint manager failed", "error", err)
				return err
			}
			opts = append(opts, pipeline.WithCheckpoint(checkpoints))

			if cfg.Snapshot.Enabled {
				snap, err := storage.NewSnapshotStore(ctx, storage.StorageConfig{
					Backend:    cfg.Snapshot.Backend,
					LocalDir:   cfg.Snapshot.LocalDir,
					Bucket:     cfg.Snapshot.Bucket,
					S3Endpoint: cfg.Snapshot.S3Endpoint,
					S3Region:   cfg.Snapshot.S3Region,
					Prefix:     cfg.Snapshot.Prefix,
				})
				if err != nil {
					log.Error("create snapshot store failed", "error", err)
					return err
				}
				defer snap.Close()
				opts = append(opts, pipeline.WithArchiver(storage.NewArchiver(snap, cfg.Snapshot.Prefix, runID, pipeline.Version)))
			}

			fetcher := fetch.New(fetch.Config{
				BaseURL:         cfg.Source.BaseURL,
				MaxArchiveBytes: cfg.Source.MaxArchiveBytes,
				MaxMemberBytes:  cfg.Source.MaxMemberBytes,
				Timeout:         cfg.Source.HTTPTimeout,
			})
			populator := store.NewPopulator(storeCfg, store.WithDatasetKeys(descs))

			p := pipeline.New(pipeline.Options{
				RunID:     runID,
				DataDir:   cfg.Source.DataDir,
				BaseURL:   cfg.Source.BaseURL,
				Driver:    cfg.Database.Driver,
				DedupMode: cfg.Database.DedupMode,
			}, fetcher, populator, opts...)

			_, runErr := p.Run(ctx, descs)

			if err := m.Export(metrics.Config{
				Namespace:    cfg.Metrics.Namespace,
				TextfilePath: cfg.Metrics.TextfilePath,
				PushURL:      cfg.Metrics.PushURL,
				Job:          cfg.Metrics.Job,
			}); err != nil {
				log.Warn("metrics export failed", "error", err)
			}

			if runErr != nil {
				if ctx.Err() != nil {
					log.Info("shutdown complete", "run_id", runID)
				}
				return fmt.Errorf("run %s: %w", runID, runErr)
			}
			log.Info("BIS pipeline finished", "run_id", runID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&datasets, "datasets", nil, "dataset codes to process (default all)")
	return cmd
}
