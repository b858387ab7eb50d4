package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
)

// ToolPunch is the slice of a punch the governor's cycle and plateau rules
// need: the tool key and the dedup hash.
type ToolPunch struct {
	Key        string
	SourceHash string
}

// CountEvents returns the number of punches of one type for a task.
func (s *Store) CountEvents(ctx context.Context, taskID string, eventType EventType) (int, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	var n int
	err := s.db.QueryRowContext(opCtx, `
		SELECT COUNT(*) FROM punches WHERE task_id = ? AND event_type = ?;
	`, taskID, string(eventType)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s punches: %w", eventType, err)
	}
	return n, nil
}

// SessionCost returns the session's running total cost. When no session row
// exists yet it falls back to summing cost punches.
func (s *Store) SessionCost(ctx context.Context, taskID string) (float64, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	var total float64
	err := s.db.QueryRowContext(opCtx, `
		SELECT total_cost FROM sessions WHERE task_id = ?;
	`, taskID).Scan(&total)
	if err == nil {
		return total, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("session cost %s: %w", taskID, err)
	}
	err = s.db.QueryRowContext(opCtx, `
		SELECT COALESCE(SUM(cost), 0) FROM punches WHERE task_id = ? AND cost IS NOT NULL;
	`, taskID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("session cost %s: %w", taskID, err)
	}
	return total, nil
}

// RecentToolPunches returns the trailing window of tool_call punches for a
// task, oldest first.
func (s *Store) RecentToolPunches(ctx context.Context, taskID string, window int) ([]ToolPunch, error) {
	if window <= 0 {
		return nil, nil
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(opCtx, `
		SELECT event_key, source_hash FROM punches
		WHERE task_id = ? AND event_type = 'tool_call'
		ORDER BY id DESC LIMIT ?;
	`, taskID, window)
	if err != nil {
		return nil, fmt.Errorf("recent tool punches %s: %w", taskID, err)
	}
	defer rows.Close()
	var out []ToolPunch
	for rows.Next() {
		var tp ToolPunch
		if err := rows.Scan(&tp.Key, &tp.SourceHash); err != nil {
			return nil, fmt.Errorf("scan tool punch: %w", err)
		}
		out = append(out, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// Summary is the ledger-wide counts the status command prints.
type Summary struct {
	Punches         int64
	Sessions        int64
	SessionsByState map[string]int64
	TotalCost       float64
}

// Summarize reports ledger-wide totals.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	sum := Summary{SessionsByState: make(map[string]int64)}
	if err := s.db.QueryRowContext(opCtx, `SELECT COUNT(*) FROM punches;`).Scan(&sum.Punches); err != nil {
		return sum, fmt.Errorf("summarize punches: %w", err)
	}
	if err := s.db.QueryRowContext(opCtx, `
		SELECT COUNT(*), COALESCE(SUM(total_cost), 0) FROM sessions;
	`).Scan(&sum.Sessions, &sum.TotalCost); err != nil {
		return sum, fmt.Errorf("summarize sessions: %w", err)
	}
	rows, err := s.db.QueryContext(opCtx, `SELECT status, COUNT(*) FROM sessions GROUP BY status;`)
	if err != nil {
		return sum, fmt.Errorf("summarize states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return sum, fmt.Errorf("scan state count: %w", err)
		}
		sum.SessionsByState[status] = n
	}
	return sum, rows.Err()
}
