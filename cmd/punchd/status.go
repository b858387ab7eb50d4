package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/basket/punchd/internal/config"
	otelPkg "github.com/basket/punchd/internal/otel"
)

// runStatusCommand prints ledger-wide totals.
func runStatusCommand(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("status startup failed", "error", err)
		return 1
	}
	defer rt.Close(ctx)

	readCtx, span := otelPkg.StartClientSpan(ctx, rt.provider.Tracer, "punchd.status.summarize")
	sum, err := rt.store.Summarize(readCtx)
	span.End()
	if err != nil {
		logger.Error("status read failed", "error", err)
		return 1
	}

	fmt.Printf("punchd %s\n", Version)
	fmt.Printf("  storage:     %s:%d/%s\n", cfg.Storage.Host, cfg.Storage.Port, cfg.Storage.Database)
	fmt.Printf("  punches:     %d\n", sum.Punches)
	fmt.Printf("  sessions:    %d\n", sum.Sessions)
	states := make([]string, 0, len(sum.SessionsByState))
	for state := range sum.SessionsByState {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Printf("    %-10s %d\n", state, sum.SessionsByState[state])
	}
	fmt.Printf("  total cost:  $%.2f\n", sum.TotalCost)
	return 0
}
