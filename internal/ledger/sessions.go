package ledger

import (
	"context"
	"fmt"
	"time"
)

// SessionStatus values; terminal once it leaves running.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionAbandoned = "abandoned"
)

// SessionUpdate carries one observation's worth of session state. Nil fields
// leave the stored value untouched; totals are replacements computed over the
// full source, not increments, so re-ingesting the same input converges.
type SessionUpdate struct {
	TaskID          string
	SessionID       *string
	Mode            *string
	Model           *string
	Status          *string
	TotalCost       *float64
	TokensIn        *int64
	TokensOut       *int64
	TokensReasoning *int64
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Outcome         *string
}

// UpsertSession creates the session row on first observation and merges every
// later one, last write wins per field. A terminal status is never demoted
// back to running.
func (s *Store) UpsertSession(ctx context.Context, up SessionUpdate) error {
	if up.TaskID == "" {
		return fmt.Errorf("upsert session: empty task_id")
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.db.ExecContext(opCtx, `
		INSERT INTO sessions
			(task_id, session_id, mode, model, status, total_cost,
			 tokens_in, tokens_out, tokens_reasoning, started_at, completed_at, outcome)
		VALUES (?, COALESCE(?, ''), ?, ?, COALESCE(?, 'running'), COALESCE(?, 0),
			COALESCE(?, 0), COALESCE(?, 0), COALESCE(?, 0), ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			session_id = COALESCE(VALUES(session_id), session_id),
			mode = COALESCE(VALUES(mode), mode),
			model = COALESCE(VALUES(model), model),
			status = IF(status <> 'running', status, COALESCE(VALUES(status), status)),
			total_cost = COALESCE(VALUES(total_cost), total_cost),
			tokens_in = COALESCE(VALUES(tokens_in), tokens_in),
			tokens_out = COALESCE(VALUES(tokens_out), tokens_out),
			tokens_reasoning = COALESCE(VALUES(tokens_reasoning), tokens_reasoning),
			started_at = COALESCE(started_at, VALUES(started_at)),
			completed_at = COALESCE(VALUES(completed_at), completed_at),
			outcome = COALESCE(VALUES(outcome), outcome);
	`, up.TaskID, up.SessionID, up.Mode, up.Model, up.Status, up.TotalCost,
		up.TokensIn, up.TokensOut, up.TokensReasoning,
		utcOrNil(up.StartedAt), utcOrNil(up.CompletedAt), up.Outcome)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", up.TaskID, err)
	}
	return nil
}

// MarkSessionStatus moves a running session to a terminal status.
func (s *Store) MarkSessionStatus(ctx context.Context, taskID, status, outcome string) error {
	switch status {
	case SessionCompleted, SessionFailed, SessionAbandoned:
	default:
		return fmt.Errorf("mark session %s: invalid terminal status %q", taskID, status)
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.db.ExecContext(opCtx, `
		UPDATE sessions
		SET status = ?, outcome = ?, completed_at = COALESCE(completed_at, ?)
		WHERE task_id = ? AND status = 'running';
	`, status, outcome, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("mark session %s: %w", taskID, err)
	}
	return nil
}

// RunningSessions lists task ids whose session row is still running.
func (s *Store) RunningSessions(ctx context.Context) ([]string, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(opCtx, `SELECT task_id FROM sessions WHERE status = 'running' ORDER BY task_id;`)
	if err != nil {
		return nil, fmt.Errorf("list running sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan running session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
