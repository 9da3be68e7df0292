package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/report"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/store"
)

func newReportCmd(load loadFunc) *cobra.Command {
	var chartDir string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render comparison charts from the stored tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := load()
			if err != nil {
				return err
			}
			defer cleanup()
			if chartDir != "" {
				cfg.Report.ChartDir = chartDir
			}

			ctx := cmd.Context()
			log := slog.With("component", "main")

			descs, err := selectDatasets(cfg)
			if err != nil {
				log.Error("report failed", "error", err)
				return err
			}

			db, err := store.Open(ctx, storeConfig(cfg))
			if err != nil {
				log.Error("open store failed", "error", err)
				return err
			}
			defer db.Close()

			r := report.New(report.NewQuerier(db, descs), cfg.Report)
			written, err := r.Generate(ctx)
			if err != nil {
				log.Error("report failed", "error", err)
				return err
			}
			for _, path := range written {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chartDir, "chart-dir", "", "directory for chart files (overrides CHART_DIR)")
	return cmd
}
