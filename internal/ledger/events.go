package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/punchd/internal/otel"
)

// EventType enumerates the punch kinds the ledger accepts.
type EventType string

const (
	EventToolCall         EventType = "tool_call"
	EventCommandExec      EventType = "command_exec"
	EventExternalCall     EventType = "external_call"
	EventGatePass         EventType = "gate_pass"
	EventGateFail         EventType = "gate_fail"
	EventChildSpawn       EventType = "child_spawn"
	EventChildComplete    EventType = "child_complete"
	EventCostCheckpoint   EventType = "cost_checkpoint"
	EventStepComplete     EventType = "step_complete"
	EventGovernorKill     EventType = "governor_kill"
	EventSessionLifecycle EventType = "session_lifecycle"
	EventMessage          EventType = "message"
)

var knownEventTypes = map[EventType]struct{}{
	EventToolCall: {}, EventCommandExec: {}, EventExternalCall: {},
	EventGatePass: {}, EventGateFail: {}, EventChildSpawn: {},
	EventChildComplete: {}, EventCostCheckpoint: {}, EventStepComplete: {},
	EventGovernorKill: {}, EventSessionLifecycle: {}, EventMessage: {},
}

// Event is one immutable punch. Optional numeric fields are pointers so that
// "absent" survives the round trip as SQL NULL.
type Event struct {
	TaskID          string
	Type            EventType
	Key             string
	ObservedAt      time.Time
	SourceHash      string
	Cost            *float64
	TokensInput     *int64
	TokensOutput    *int64
	TokensReasoning *int64
}

// SourceHash derives the dedup fingerprint from the event's semantic fields.
// Ingestion time never participates, so replaying the same underlying log
// yields the same hash.
func SourceHash(taskID string, eventType EventType, key, payload string) string {
	h := sha256.Sum256([]byte(strings.Join([]string{taskID, string(eventType), key, payload}, "\x1f")))
	return hex.EncodeToString(h[:])
}

// Append inserts the event, treating a source_hash collision as success.
// Returns whether a new row was physically inserted.
func (s *Store) Append(ctx context.Context, ev Event) (bool, error) {
	if ev.TaskID == "" {
		return false, fmt.Errorf("append punch: empty task_id")
	}
	if _, ok := knownEventTypes[ev.Type]; !ok {
		return false, fmt.Errorf("append punch: unknown event type %q", ev.Type)
	}
	if ev.SourceHash == "" {
		return false, fmt.Errorf("append punch: empty source_hash")
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now().UTC()
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	res, err := s.db.ExecContext(opCtx, `
		INSERT INTO punches
			(task_id, event_type, event_key, observed_at, source_hash,
			 cost, tokens_input, tokens_output, tokens_reasoning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE source_hash = source_hash;
	`, ev.TaskID, string(ev.Type), ev.Key, ev.ObservedAt.UTC(), ev.SourceHash,
		ev.Cost, ev.TokensInput, ev.TokensOutput, ev.TokensReasoning)
	if err != nil {
		return false, fmt.Errorf("append punch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append punch: rows affected: %w", err)
	}
	inserted := affected == 1
	if s.metrics != nil {
		attrs := metric.WithAttributes(otel.AttrEventType.String(string(ev.Type)))
		if inserted {
			s.metrics.PunchesAppended.Add(ctx, 1, attrs)
		} else {
			s.metrics.PunchesDuplicate.Add(ctx, 1, attrs)
		}
	}
	return inserted, nil
}
