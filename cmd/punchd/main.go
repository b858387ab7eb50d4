package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/punchd/internal/config"
	"github.com/basket/punchd/internal/governor"
	"github.com/basket/punchd/internal/ledger"
	"github.com/basket/punchd/internal/metrics"
	otelPkg "github.com/basket/punchd/internal/otel"
	"github.com/basket/punchd/internal/propagate"
	"github.com/basket/punchd/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SUBCOMMANDS:
  %s ingest [logs-root]       Ingest session logs into the ledger
                              Default root comes from config/PUNCH_LOGS_ROOT
  %s govern [-once]           Run the session governor
                              -once sweeps running sessions one time and exits
  %s hook                     Consume hook payloads (JSON) on stdin
  %s daemon                   Run the ingest watcher and governor sweeper
  %s status                   Print ledger totals

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  PUNCHD_HOME             Data directory (default: ~/.punchd)
  PUNCH_DB_HOST           Storage host (default: 127.0.0.1)
  PUNCH_DB_PORT           Storage port (default: 3306)
  PUNCH_DB_NAME           Storage database (default: punch)
  PUNCH_DB_USER           Storage user (default: root)
  PUNCH_DB_PASSWORD       Storage password (default: empty)
  PUNCH_CONTROL_URL       Session-termination endpoint base URL
  PUNCH_LOGS_ROOT         Session-log root directory
  PUNCH_STORE_PREFIX      Local propagation prefix (default: database name)
  PUNCHD_LOG_LEVEL        debug, info, warn, error (default: info)

EXAMPLES:
  One ingest pass:        %s ingest
  Single governor sweep:  %s govern -once
  Long-running daemon:    %s daemon
`, os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Quiet stdout logging when attached to a terminal for the one-shot
	// commands, so their own output stays readable.
	quietLogs := isatty.IsTerminal(os.Stdout.Fd()) && isOneShot(args[0])
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
	case "ingest":
		os.Exit(runIngestCommand(ctx, cfg, logger, args[1:]))
	case "govern":
		os.Exit(runGovernCommand(ctx, cfg, logger, args[1:]))
	case "hook":
		os.Exit(runHookCommand(ctx, cfg, logger))
	case "daemon":
		os.Exit(runDaemonCommand(ctx, cfg, logger))
	case "status":
		os.Exit(runStatusCommand(ctx, cfg, logger))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

// isOneShot reports whether the subcommand runs to completion and prints to
// stdout, as opposed to the long-running daemon surfaces.
func isOneShot(command string) bool {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "ingest", "govern", "status":
		return true
	}
	return false
}

// runtime bundles the shared wiring every subcommand needs.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	provider *otelPkg.Provider
	metrics  *otelPkg.Metrics
	store    *ledger.Store
}

func openRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	provider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	instruments, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		provider.Shutdown(ctx)
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	store, err := ledger.Open(ctx, cfg.Storage.DSN(),
		ledger.WithTimeout(cfg.Storage.Timeout()),
		ledger.WithLogger(logger),
		ledger.WithMetrics(instruments))
	if err != nil {
		provider.Shutdown(ctx)
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, provider: provider, metrics: instruments, store: store}, nil
}

func (rt *runtime) Close(ctx context.Context) {
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("store close failed", "error", err)
	}
	if err := rt.provider.Shutdown(ctx); err != nil {
		rt.logger.Warn("telemetry shutdown failed", "error", err)
	}
}

func (rt *runtime) newGovernor() *governor.Governor {
	cfg := rt.cfg.Governor
	snap := metrics.NewSnapshotter(rt.store, cfg.CycleWindow)
	term := governor.NewHTTPTerminator(cfg.ControlURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
	limits := governor.Limits{
		StepCeiling:   cfg.StepCeiling,
		CostCeiling:   cfg.CostCeiling,
		CycleRepeats:  cfg.CycleRepeats,
		PlateauWindow: cfg.PlateauWindow,
		PlateauRatio:  cfg.PlateauRatio,
	}
	return governor.New(snap, rt.store, term, limits, rt.logger, rt.metrics)
}

func (rt *runtime) newPropagator() *propagate.Propagator {
	local := propagate.NewDoltLocal(rt.store.DB(), rt.cfg.Propagate.Prefix, rt.cfg.Storage.Timeout())
	opener := propagate.DoltPeerOpener(rt.cfg.Storage.DSNFor, rt.cfg.Storage.Timeout())
	return propagate.New(local, rt.store, opener, rt.logger, rt.metrics)
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"punchd","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
