package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/store"
)

func newSchemaCmd(load loadFunc) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the identifier and value tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := load()
			if err != nil {
				return err
			}
			defer cleanup()

			descs, err := selectDatasets(cfg)
			if err != nil {
				return err
			}

			if dryRun {
				d, err := store.DialectFor(cfg.Database.Driver)
				if err != nil {
					return err
				}
				stmts, err := store.SchemaStatements(d, descs)
				if err != nil {
					return err
				}
				for _, stmt := range stmts {
					fmt.Fprintf(cmd.OutOrStdout(), "%s;\n", stmt)
				}
				return nil
			}

			if err := ensureSchema(cmd.Context(), storeConfig(cfg), descs); err != nil {
				slog.Error("ensure schema failed", "component", "main", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the DDL instead of executing it")
	return cmd
}
