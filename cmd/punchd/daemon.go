package main

import (
	"context"
	"log/slog"

	"github.com/basket/punchd/internal/config"
	"github.com/basket/punchd/internal/governor"
	"github.com/basket/punchd/internal/ingest"
)

// runDaemonCommand runs the long-lived surfaces: the fsnotify watcher over
// the session-log root and the cron-driven governor sweeper. Both stop on
// SIGINT/SIGTERM via the signal context.
func runDaemonCommand(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("daemon startup failed", "error", err)
		return 1
	}
	defer rt.Close(ctx)

	agg := ingest.New(rt.store, logger, rt.metrics)
	// One full pass before watching, so logs written while the daemon was
	// down are not missed.
	if err := agg.RunAll(ctx, cfg.Ingest.LogsRoot); err != nil {
		logger.Error("initial ingest pass failed", "root", cfg.Ingest.LogsRoot, "error", err)
		return 1
	}

	sweeper, err := governor.NewSweeper(rt.newGovernor(), rt.store, cfg.Governor.SweepSchedule, logger)
	if err != nil {
		logger.Error("sweeper start failed", "error", err)
		return 1
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	logger.Info("daemon running",
		"logs_root", cfg.Ingest.LogsRoot,
		"sweep_schedule", cfg.Governor.SweepSchedule)

	// The watcher owns the foreground; it returns when ctx is cancelled.
	watcher := ingest.NewWatcher(cfg.Ingest.LogsRoot, agg, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Error("session watcher failed", "root", cfg.Ingest.LogsRoot, "error", err)
		return 1
	}
	logger.Info("daemon stopped")
	return 0
}
