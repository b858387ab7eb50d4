package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/basket/punchd/internal/config"
	"github.com/basket/punchd/internal/ingest"
	otelPkg "github.com/basket/punchd/internal/otel"
)

// runIngestCommand performs one aggregation pass over the session-log root.
func runIngestCommand(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s ingest [logs-root]\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	root := cfg.Ingest.LogsRoot
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}
	if root == "" {
		fmt.Fprintln(os.Stderr, "ingest: no logs root configured")
		return 2
	}

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("ingest startup failed", "error", err)
		return 1
	}
	defer rt.Close(ctx)

	runCtx, span := otelPkg.StartSpan(ctx, rt.provider.Tracer, "punchd.ingest")
	defer span.End()

	agg := ingest.New(rt.store, logger, rt.metrics)
	if err := agg.RunAll(runCtx, root); err != nil {
		span.RecordError(err)
		logger.Error("ingest pass failed", "root", root, "error", err)
		return 1
	}
	fmt.Printf("ingested session logs under %s\n", root)
	return 0
}
