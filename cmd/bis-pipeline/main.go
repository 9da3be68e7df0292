package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/config"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/dataset"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/logging"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/pipeline"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bis-pipeline: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "bis-pipeline",
		Short:         "Load BIS statistical releases into a relational store",
		Version:       fmt.Sprintf("%s (%s)", pipeline.Version, pipeline.GitSHA),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")

	// load reads configuration and installs the global logger. The returned
	// cleanup closes the log file.
	load := func() (config.Config, func(), error) {
		if configFile != "" {
			os.Setenv("CONFIG_FILE", configFile)
		}
		cfg, err := config.Load()
		if err != nil {
			return config.Config{}, nil, err
		}
		closer, err := logging.Setup(logging.Config{
			Format: cfg.Log.Format,
			Level:  cfg.Log.Level,
			File:   cfg.Log.File,
			Stderr: cfg.Log.Stderr,
		})
		if err != nil {
			return config.Config{}, nil, err
		}
		return cfg, func() { closer.Close() }, nil
	}

	root.AddCommand(
		newRunCmd(load),
		newReportCmd(load),
		newSchemaCmd(load),
	)
	return root
}

type loadFunc func() (config.Config, func(), error)

func storeConfig(cfg config.Config) store.Config {
	return store.Config{
		Driver:    cfg.Database.Driver,
		Host:      cfg.Database.Host,
		Port:      cfg.Database.Port,
		User:      cfg.Database.User,
		Password:  cfg.Database.Password,
		Database:  cfg.Database.Name,
		DedupMode: cfg.Database.DedupMode,
		BatchSize: cfg.Database.BatchSize,
	}
}

func selectDatasets(cfg config.Config) ([]dataset.Descriptor, error) {
	descs, err := dataset.Select(dataset.Defaults(), cfg.Datasets)
	if err != nil {
		return nil, fmt.Errorf("select datasets: %w", err)
	}
	return descs, nil
}

func ensureSchema(ctx context.Context, cfg store.Config, descs []dataset.Descriptor) error {
	d, err := store.DialectFor(cfg.Driver)
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.EnsureSchema(ctx, db, d, descs); err != nil {
		return err
	}
	slog.Info("schema ensured", "component", "main", "driver", cfg.Driver, "datasets", len(descs))
	return nil
}
