package ledger

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// Preview caps: detail rows never store unbounded free text. EventKeyCap
// bounds command text used as a punch key, which must fit the event_key
// column.
const (
	MessagePreviewCap = 512
	ToolArgsCap       = 1024
	EventKeyCap       = 200
)

// ToolCall statuses.
const (
	ToolCallStarted   = "started"
	ToolCallCompleted = "completed"
)

// TruncatePreview trims s to at most cap runes, keeping valid UTF-8.
func TruncatePreview(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// InsertMessage records one message detail row. The natural key
// (session_id, observed_at, role) dedups replays; a duplicate is a no-op.
func (s *Store) InsertMessage(ctx context.Context, sessionID string, observedAt time.Time, role, text string) error {
	if sessionID == "" || role == "" {
		return fmt.Errorf("insert message: empty session_id or role")
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.db.ExecContext(opCtx, `
		INSERT INTO messages (session_id, observed_at, role, preview)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE preview = preview;
	`, sessionID, observedAt.UTC(), role, TruncatePreview(text, MessagePreviewCap))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// InsertToolCall records one tool invocation detail row, deduplicated by
// (session_id, observed_at, tool_name).
func (s *Store) InsertToolCall(ctx context.Context, sessionID string, observedAt time.Time, toolName, argsSummary, status string) error {
	if sessionID == "" || toolName == "" {
		return fmt.Errorf("insert tool call: empty session_id or tool_name")
	}
	switch status {
	case ToolCallStarted, ToolCallCompleted:
	default:
		return fmt.Errorf("insert tool call: invalid status %q", status)
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.db.ExecContext(opCtx, `
		INSERT INTO tool_calls (session_id, observed_at, tool_name, args_summary, status)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status);
	`, sessionID, observedAt.UTC(), toolName, TruncatePreview(argsSummary, ToolArgsCap), status)
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// InsertChildRelation records a parent→child delegation once; duplicate
// inserts are no-ops.
func (s *Store) InsertChildRelation(ctx context.Context, parentID, childID string) error {
	if parentID == "" || childID == "" {
		return fmt.Errorf("insert child relation: empty id")
	}
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.db.ExecContext(opCtx, `
		INSERT INTO child_rels (parent_id, child_id)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE parent_id = parent_id;
	`, parentID, childID)
	if err != nil {
		return fmt.Errorf("insert child relation: %w", err)
	}
	return nil
}
