package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/basket/punchd/internal/config"
	"github.com/basket/punchd/internal/governor"
	otelPkg "github.com/basket/punchd/internal/otel"
)

// runGovernCommand runs the session governor, either as a single sweep over
// running sessions or on the configured cron schedule.
func runGovernCommand(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("govern", flag.ContinueOnError)
	once := fs.Bool("once", false, "sweep running sessions one time and exit")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s govern [-once]\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("govern startup failed", "error", err)
		return 1
	}
	defer rt.Close(ctx)

	gov := rt.newGovernor()
	sweeper, err := governor.NewSweeper(gov, rt.store, cfg.Governor.SweepSchedule, logger)
	if err != nil {
		logger.Error("govern startup failed", "error", err)
		return 1
	}

	if *once {
		sweepCtx, span := otelPkg.StartSpan(ctx, rt.provider.Tracer, "punchd.governor.sweep")
		sweeper.Sweep(sweepCtx)
		span.End()
		return 0
	}

	sweeper.Start(ctx)
	logger.Info("governor running", "schedule", cfg.Governor.SweepSchedule)
	<-ctx.Done()
	sweeper.Stop()
	logger.Info("governor stopped")
	return 0
}
