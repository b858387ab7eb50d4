package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/punchd/internal/ledger"
	"github.com/basket/punchd/internal/otel"
)

const (
	uiMessagesFile = "ui_messages.json"
	apiHistoryFile = "api_conversation_history.json"
)

// Recorder is the slice of the ledger the aggregator writes through.
// *ledger.Store satisfies it; tests use fakes.
type Recorder interface {
	Append(ctx context.Context, ev ledger.Event) (bool, error)
	InsertMessage(ctx context.Context, sessionID string, observedAt time.Time, role, text string) error
	InsertToolCall(ctx context.Context, sessionID string, observedAt time.Time, toolName, argsSummary, status string) error
	InsertChildRelation(ctx context.Context, parentID, childID string) error
	UpsertSession(ctx context.Context, up ledger.SessionUpdate) error
}

// Aggregator turns session-log directories into canonical ledger rows.
type Aggregator struct {
	recorder Recorder
	logger   *slog.Logger
	metrics  *otel.Metrics
}

// New builds an Aggregator.
func New(recorder Recorder, logger *slog.Logger, m *otel.Metrics) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{recorder: recorder, logger: logger, metrics: m}
}

// RunAll aggregates every session directory under root. A malformed session
// is logged and skipped; storage errors abort the pass (the next trigger
// retries naturally).
func (a *Aggregator) RunAll(ctx context.Context, root string) error {
	started := time.Now()
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read logs root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if err := a.RunDir(ctx, dir); err != nil {
			return err
		}
	}
	if a.metrics != nil {
		a.metrics.IngestDuration.Record(ctx, time.Since(started).Seconds())
	}
	return nil
}

// RunDir aggregates one session directory. The directory name is the task
// id. Re-running over the same input is a no-op: every row dedups on its
// natural key or source hash.
func (a *Aggregator) RunDir(ctx context.Context, dir string) error {
	taskID := filepath.Base(dir)

	uiRecords := a.loadFile(dir, uiMessagesFile, ValidateUIMessages, ParseUIMessages)
	apiRecords := a.loadFile(dir, apiHistoryFile, ValidateAPIHistory, ParseAPIHistory)
	total := len(uiRecords) + len(apiRecords)
	if total == 0 {
		return nil
	}

	// Sequence numbers are scoped per source file so that appends to one
	// file never shift the other file's hashes on re-aggregation.
	var totals SessionTotals
	for i, rec := range uiRecords {
		if err := a.applyRecord(ctx, taskID, uiMessagesFile, i, rec, &totals); err != nil {
			return fmt.Errorf("session %s: %w", taskID, err)
		}
	}
	for i, rec := range apiRecords {
		if err := a.applyRecord(ctx, taskID, apiHistoryFile, i, rec, &totals); err != nil {
			return fmt.Errorf("session %s: %w", taskID, err)
		}
	}

	status := ledger.SessionRunning
	if totals.CompletionObserved {
		status = ledger.SessionCompleted
	}
	up := ledger.SessionUpdate{
		TaskID:          taskID,
		Status:          &status,
		TotalCost:       &totals.Cost,
		TokensIn:        &totals.TokensIn,
		TokensOut:       &totals.TokensOut,
		TokensReasoning: &totals.TokensReasoning,
		StartedAt:       totals.StartedAt,
		CompletedAt:     totals.CompletedAt,
	}
	if totals.Model != "" {
		up.Model = &totals.Model
	}
	if totals.Mode != "" {
		up.Mode = &totals.Mode
	}
	if err := a.recorder.UpsertSession(ctx, up); err != nil {
		return fmt.Errorf("session %s: %w", taskID, err)
	}
	if a.metrics != nil {
		a.metrics.SessionsIngested.Add(ctx, 1)
	}
	a.logger.Debug("session aggregated",
		"task_id", taskID, "records", total, "cost", totals.Cost, "status", status)
	return nil
}

// loadFile reads, validates, and parses one log file. Absence contributes
// zero records; a malformed file is skipped with a warning so siblings and
// other sessions keep going.
func (a *Aggregator) loadFile(dir, name string, validate func([]byte) error, parse func([]byte) ([]Record, error)) []Record {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			a.logger.Warn("unreadable session log", "path", path, "error", err)
		}
		return nil
	}
	if err := validate(data); err != nil {
		a.logger.Warn("session log failed validation", "path", path, "error", err)
		return nil
	}
	records, err := parse(data)
	if err != nil {
		a.logger.Warn("session log failed to parse", "path", path, "error", err)
		return nil
	}
	return records
}

func (a *Aggregator) applyRecord(ctx context.Context, taskID, source string, seq int, rec Record, totals *SessionTotals) error {
	switch rec.Kind {
	case KindUsage:
		totals.Apply(rec)
		ev := ledger.Event{
			TaskID:          taskID,
			Type:            ledger.EventCostCheckpoint,
			Key:             rec.Model,
			ObservedAt:      rec.Timestamp,
			SourceHash:      recordHash(taskID, ledger.EventCostCheckpoint, rec.Model, source, seq, rec),
			Cost:            rec.Cost,
			TokensInput:     rec.TokensIn,
			TokensOutput:    rec.TokensOut,
			TokensReasoning: rec.TokensReasoning,
		}
		_, err := a.recorder.Append(ctx, ev)
		return err

	case KindCompletion:
		totals.Apply(rec)
		// A completion marker both closes a step and ends the session.
		if _, err := a.recorder.Append(ctx, ledger.Event{
			TaskID:     taskID,
			Type:       ledger.EventStepComplete,
			Key:        "task_exit",
			ObservedAt: rec.Timestamp,
			SourceHash: recordHash(taskID, ledger.EventStepComplete, "task_exit", source, seq, rec),
		}); err != nil {
			return err
		}
		_, err := a.recorder.Append(ctx, ledger.Event{
			TaskID:     taskID,
			Type:       ledger.EventSessionLifecycle,
			Key:        "completed",
			ObservedAt: rec.Timestamp,
			SourceHash: recordHash(taskID, ledger.EventSessionLifecycle, "completed", source, seq, rec),
		})
		return err

	case KindText:
		if _, err := a.recorder.Append(ctx, ledger.Event{
			TaskID:     taskID,
			Type:       ledger.EventMessage,
			Key:        rec.Role,
			ObservedAt: rec.Timestamp,
			SourceHash: recordHash(taskID, ledger.EventMessage, rec.Role, source, seq, rec),
		}); err != nil {
			return err
		}
		return a.recorder.InsertMessage(ctx, taskID, rec.Timestamp, rec.Role, rec.Text)

	case KindToolCall:
		if _, err := a.recorder.Append(ctx, ledger.Event{
			TaskID:     taskID,
			Type:       ledger.EventToolCall,
			Key:        rec.ToolName,
			ObservedAt: rec.Timestamp,
			SourceHash: recordHash(taskID, ledger.EventToolCall, rec.ToolName, source, seq, rec),
		}); err != nil {
			return err
		}
		status := ledger.ToolCallStarted
		if rec.Completed {
			status = ledger.ToolCallCompleted
		}
		return a.recorder.InsertToolCall(ctx, taskID, rec.Timestamp, rec.ToolName, rec.Args, status)

	case KindCommandExec:
		key := ledger.TruncatePreview(rec.Text, ledger.EventKeyCap)
		_, err := a.recorder.Append(ctx, ledger.Event{
			TaskID:     taskID,
			Type:       ledger.EventCommandExec,
			Key:        key,
			ObservedAt: rec.Timestamp,
			SourceHash: recordHash(taskID, ledger.EventCommandExec, key, source, seq, rec),
		})
		return err

	case KindExternalCall:
		_, err := a.recorder.Append(ctx, ledger.Event{
			TaskID:     taskID,
			Type:       ledger.EventExternalCall,
			Key:        rec.ToolName,
			ObservedAt: rec.Timestamp,
			SourceHash: recordHash(taskID, ledger.EventExternalCall, rec.ToolName, source, seq, rec),
		})
		return err

	case KindChildSpawn:
		if rec.ChildID == "" {
			return nil
		}
		if _, err := a.recorder.Append(ctx, ledger.Event{
			TaskID:     taskID,
			Type:       ledger.EventChildSpawn,
			Key:        rec.ChildID,
			ObservedAt: rec.Timestamp,
			SourceHash: recordHash(taskID, ledger.EventChildSpawn, rec.ChildID, source, seq, rec),
		}); err != nil {
			return err
		}
		return a.recorder.InsertChildRelation(ctx, taskID, rec.ChildID)

	case KindChildComplete:
		_, err := a.recorder.Append(ctx, ledger.Event{
			TaskID:     taskID,
			Type:       ledger.EventChildComplete,
			Key:        "child_return",
			ObservedAt: rec.Timestamp,
			SourceHash: recordHash(taskID, ledger.EventChildComplete, "child_return", source, seq, rec),
		})
		return err

	default:
		return nil
	}
}

// recordHash derives the dedup hash from the record's semantic content plus
// its source file and position within it, so identical entries at different
// positions stay distinct, replays of the same file converge, and appends to
// one file never perturb the other file's hashes.
func recordHash(taskID string, et ledger.EventType, key, source string, seq int, rec Record) string {
	payload := fmt.Sprintf("%s|%d|%d|%s|%s", source, seq, rec.Timestamp.UnixMilli(), rec.Role, rec.Text)
	if rec.Kind == KindToolCall {
		payload = fmt.Sprintf("%s|%d|%d|%s|%s", source, seq, rec.Timestamp.UnixMilli(), rec.ToolName, rec.Args)
	}
	return ledger.SourceHash(taskID, et, key, payload)
}
