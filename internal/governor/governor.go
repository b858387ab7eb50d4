package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/punchd/internal/ledger"
	"github.com/basket/punchd/internal/metrics"
	"github.com/basket/punchd/internal/otel"
)

// SessionState is the governor's per-session health classification.
type SessionState string

const (
	StateHealthy SessionState = "HEALTHY"
	StateSuspect SessionState = "SUSPECT"
	StateKilled  SessionState = "KILLED" // terminal
)

// Auditor is the slice of the ledger the governor writes to.
type Auditor interface {
	Append(ctx context.Context, ev ledger.Event) (bool, error)
	MarkSessionStatus(ctx context.Context, taskID, status, outcome string) error
}

// KillConfirmation is returned for every confirmed termination, whether or
// not the audit write succeeded.
type KillConfirmation struct {
	SessionID    string
	KilledAt     time.Time
	Trigger      Detection
	FinalMetrics metrics.SessionMetrics
}

// Governor evaluates sessions against the rule set and runs the kill
// protocol on violations.
type Governor struct {
	snap       *metrics.Snapshotter
	auditor    Auditor
	terminator Terminator
	limits     Limits
	logger     *slog.Logger
	otel       *otel.Metrics

	mu     sync.Mutex
	states map[string]SessionState
}

// New builds a Governor.
func New(snap *metrics.Snapshotter, auditor Auditor, terminator Terminator, limits Limits, logger *slog.Logger, m *otel.Metrics) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		snap:       snap,
		auditor:    auditor,
		terminator: terminator,
		limits:     limits,
		logger:     logger,
		otel:       m,
		states:     make(map[string]SessionState),
	}
}

// State returns the governor's current classification of a session.
func (g *Governor) State(taskID string) SessionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.states[taskID]; ok {
		return st
	}
	return StateHealthy
}

func (g *Governor) setState(taskID string, st SessionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.states[taskID] == StateKilled {
		return
	}
	g.states[taskID] = st
}

// Evaluate samples one session and, when a rule triggers, runs the kill
// protocol. It returns the confirmation for a kill, or nil when the session
// stays alive. A snapshot failure skips this evaluation (the next sweep
// retries naturally).
func (g *Governor) Evaluate(ctx context.Context, taskID string) (*KillConfirmation, error) {
	if g.State(taskID) == StateKilled {
		return nil, nil
	}

	m, err := g.snap.Snapshot(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", taskID, err)
	}

	det := Classify(g.limits, m)
	if det == nil {
		if Suspect(g.limits, m) {
			g.setState(taskID, StateSuspect)
			g.logger.Warn("session approaching limits",
				"task_id", taskID, "steps", m.StepCount, "cost", m.TotalCost)
		}
		return nil, nil
	}

	conf, err := g.Kill(ctx, *det)
	if err != nil {
		return nil, err
	}
	return conf, nil
}

// Kill runs the two-phase kill protocol: terminate first, then best-effort
// audit. The termination call fails loud; the audit write fails open.
func (g *Governor) Kill(ctx context.Context, det Detection) (*KillConfirmation, error) {
	err := g.terminator.Terminate(ctx, det.SessionID)
	if err != nil {
		if !alreadyGone(err) {
			// Termination did not provably happen; no audit row is written.
			return nil, fmt.Errorf("kill %s: %w", det.SessionID, err)
		}
		det.Reason = fmt.Sprintf("%s (session already terminated: %v)", det.Reason, err)
	}

	g.setState(det.SessionID, StateKilled)
	if g.otel != nil {
		g.otel.GovernorKills.Add(ctx, 1, metric.WithAttributes(
			otel.AttrTaskID.String(det.SessionID),
			otel.AttrClassification.String(det.Classification),
		))
	}
	killedAt := det.DetectedAt
	if killedAt.IsZero() {
		killedAt = time.Now().UTC()
	}

	// Hash only the detection identity so retries of the same detection
	// dedup in the ledger, within and across processes.
	cost := det.Metrics.TotalCost
	ev := ledger.Event{
		TaskID:     det.SessionID,
		Type:       ledger.EventGovernorKill,
		Key:        det.Classification,
		ObservedAt: killedAt,
		SourceHash: ledger.SourceHash(det.SessionID, ledger.EventGovernorKill, det.Classification, ""),
		Cost:       &cost,
	}
	if _, err := g.auditor.Append(ctx, ev); err != nil {
		g.logger.Warn("governor kill audit write failed; session is already terminated",
			"task_id", det.SessionID, "classification", det.Classification, "error", err)
	}
	if err := g.auditor.MarkSessionStatus(ctx, det.SessionID, ledger.SessionFailed, "governor_kill:"+det.Classification); err != nil {
		g.logger.Warn("governor kill session-status update failed",
			"task_id", det.SessionID, "error", err)
	}

	g.logger.Info("session killed",
		"task_id", det.SessionID,
		"classification", det.Classification,
		"reason", det.Reason,
		"cost", det.Metrics.TotalCost,
		"steps", det.Metrics.StepCount,
	)

	return &KillConfirmation{
		SessionID:    det.SessionID,
		KilledAt:     killedAt,
		Trigger:      det,
		FinalMetrics: det.Metrics,
	}, nil
}
