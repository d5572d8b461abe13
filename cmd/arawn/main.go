// Command arawn runs the session runtime substrate: the memory and
// workstream stores, the session cache, the LLM client, the workflow
// engine, and the filesystem watcher.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/runtime"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

const shutdownGrace = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "arawn",
		Short:        "Arawn session runtime substrate",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildMigrateCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the runtime and block until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.SetDefault(appLogger.Slog())

	appLogger.Info(ctx, "starting runtime",
		"memory_db", cfg.Paths.MemoryDBPath,
		"workstream_db", cfg.Paths.WorkstreamDB,
		"workflow_dir", cfg.Paths.WorkflowDir,
		"workstream_dir", cfg.Paths.WorkstreamDir,
	)

	rt, err := runtime.Start(ctx, cfg, appLogger.Slog())
	if err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	slog.Info("runtime started")

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	slog.Info("shutting down runtime")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown runtime: %w", err)
	}
	slog.Info("runtime stopped")
	return nil
}
