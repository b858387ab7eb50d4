package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/basket/punchd/internal/config"
	"github.com/basket/punchd/internal/hooks"
)

// runHookCommand consumes hook payloads from stdin until the stream ends.
func runHookCommand(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("hook startup failed", "error", err)
		return 1
	}
	defer rt.Close(ctx)

	handler := hooks.NewHandler(rt.store, rt.newPropagator(), logger)
	if err := handler.Run(ctx, os.Stdin); err != nil {
		logger.Error("hook stream failed", "error", err)
		return 1
	}
	return 0
}
