package main

import (
	"context"
	"fmt"
	"os"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/memorystore"
	"github.com/haasonsaas/nexus/internal/workstream"
	"github.com/spf13/cobra"
)

func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect and apply database schema migrations",
	}
	cmd.AddCommand(buildMigrateStatusCmd())
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations for both stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return printMigrationStatus(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	return cmd
}

// printMigrationStatus opens both stores (which, per Open's contract,
// applies every pending migration as a side effect) and reports what is
// now applied.
func printMigrationStatus(ctx context.Context, cfg *config.Config) error {
	memDB, err := memorystore.Open(ctx, cfg.Paths.MemoryDBPath)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer memDB.Close()

	memMigrator, err := memorystore.NewMigrator(memDB)
	if err != nil {
		return err
	}
	applied, pending, err := memMigrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("memory store migration status: %w", err)
	}
	fmt.Fprintf(os.Stdout, "memory store: %d applied, %d pending\n", len(applied), len(pending))

	wsDB, err := workstream.Open(ctx, cfg.Paths.WorkstreamDB)
	if err != nil {
		return fmt.Errorf("open workstream store: %w", err)
	}
	defer wsDB.Close()

	wsMigrator, err := workstream.NewMigrator(wsDB)
	if err != nil {
		return err
	}
	wsApplied, wsPending, err := wsMigrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("workstream store migration status: %w", err)
	}
	fmt.Fprintf(os.Stdout, "workstream store: %d applied, %d pending\n", len(wsApplied), len(wsPending))

	return nil
}
