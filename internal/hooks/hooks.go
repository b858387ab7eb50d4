// Package hooks consumes host command notifications and turns them into
// ledger punches and propagation triggers. Commands are observed, never
// executed: the payloads carry the textual command form plus a reported
// exit status, and the only parsing done here is the narrow pattern
// matching the triggers require.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/punchd/internal/ledger"
	"github.com/basket/punchd/internal/shared"
)

const (
	EventPreCommand  = "pre_command"
	EventPostCommand = "post_command"
)

// ErrInvalidPayload marks a payload that fails validation. One bad payload
// is skipped; it never ends the stream.
var ErrInvalidPayload = errors.New("invalid hook payload")

// Payload is one hook notification as delivered on stdin.
type Payload struct {
	Event        string `json:"event"`
	InvocationID string `json:"invocation_id"`
	TaskID       string `json:"task_id"`
	Command      string `json:"command"`
	ExitStatus   string `json:"exit_status"`
	TimestampMS  int64  `json:"ts"`
}

func (p Payload) observedAt() time.Time {
	if p.TimestampMS > 0 {
		return time.UnixMilli(p.TimestampMS).UTC()
	}
	return time.Now().UTC()
}

// Recorder is the ledger subset the hook surface writes through.
type Recorder interface {
	Append(ctx context.Context, ev ledger.Event) (bool, error)
}

// CommandSink receives completed commands for downstream triggering.
type CommandSink interface {
	HandleCommand(ctx context.Context, command, exitStatus string) error
}

// Handler dispatches hook payloads.
type Handler struct {
	recorder Recorder
	sink     CommandSink
	corr     *Correlator
	logger   *slog.Logger
}

// NewHandler builds a Handler. sink may be nil when propagation is not
// wired (ingest-only deployments).
func NewHandler(recorder Recorder, sink CommandSink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{recorder: recorder, sink: sink, corr: NewCorrelator(), logger: logger}
}

// Run decodes a stream of JSON payloads from r and handles each in order.
// A payload failing validation is logged and skipped so its siblings still
// land. A decode error ends the stream (its framing is gone), and so does a
// storage error, since the ledger being unreachable makes further
// observation pointless.
func (h *Handler) Run(ctx context.Context, r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var p Payload
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode hook payload: %w", err)
		}
		if err := h.Handle(ctx, p); err != nil {
			if errors.Is(err, ErrInvalidPayload) {
				h.logger.Warn("skipping hook payload", "task_id", p.TaskID, "event", p.Event, "error", err)
				continue
			}
			return err
		}
	}
}

// Handle processes one payload.
func (h *Handler) Handle(ctx context.Context, p Payload) error {
	if p.TaskID == "" {
		return fmt.Errorf("%w: empty task_id", ErrInvalidPayload)
	}
	if p.Command == "" {
		return fmt.Errorf("%w: empty command", ErrInvalidPayload)
	}
	switch p.Event {
	case EventPreCommand:
		token := h.corr.Begin(p.InvocationID, p.TaskID, p.Command, p.observedAt())
		h.logger.Debug("command started",
			"task_id", p.TaskID, "invocation", token,
			"command", shared.Redact(p.Command))
		return nil
	case EventPostCommand:
		return h.handlePost(ctx, p)
	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidPayload, p.Event)
	}
}

func (h *Handler) handlePost(ctx context.Context, p Payload) error {
	observedAt := p.observedAt()
	token := p.InvocationID
	if entry, ok := h.corr.Complete(p.InvocationID); ok {
		token = entry.Token
		h.logger.Debug("command finished",
			"task_id", p.TaskID, "invocation", token,
			"exit_status", p.ExitStatus,
			"duration_ms", observedAt.Sub(entry.StartedAt).Milliseconds())
	}
	if token == "" {
		token = shared.NewInvocationToken()
	}
	ctx = shared.WithInvocationToken(shared.WithTaskID(ctx, p.TaskID), token)

	preview := ledger.TruncatePreview(p.Command, ledger.EventKeyCap)
	ev := ledger.Event{
		TaskID:     p.TaskID,
		Type:       ledger.EventCommandExec,
		Key:        preview,
		ObservedAt: observedAt,
		SourceHash: ledger.SourceHash(p.TaskID, ledger.EventCommandExec, preview, token+"|"+p.ExitStatus),
	}
	if _, err := h.recorder.Append(ctx, ev); err != nil {
		return fmt.Errorf("record command: %w", err)
	}

	for _, kind := range lifecycleKinds(p.Command) {
		lev := ledger.Event{
			TaskID:     p.TaskID,
			Type:       ledger.EventSessionLifecycle,
			Key:        kind,
			ObservedAt: observedAt,
			SourceHash: ledger.SourceHash(p.TaskID, ledger.EventSessionLifecycle, kind, token),
		}
		if _, err := h.recorder.Append(ctx, lev); err != nil {
			return fmt.Errorf("record lifecycle %s: %w", kind, err)
		}
	}

	if h.sink != nil {
		// Propagation is a downstream convenience of the hook surface;
		// its failures must not fail the observation that already landed.
		if err := h.sink.HandleCommand(ctx, p.Command, p.ExitStatus); err != nil {
			h.logger.Warn("command propagation failed",
				"task_id", p.TaskID, "invocation", token, "error", err)
		}
	}
	return nil
}

// lifecycleKinds detects commit and push operations in the command text.
// Scans each git segment for a bare commit/push token, stopping at shell
// separators so "git commit && git push" yields both kinds.
func lifecycleKinds(command string) []string {
	tokens := strings.Fields(command)
	seen := map[string]bool{}
	var kinds []string
	for i, tok := range tokens {
		if tok != "git" {
			continue
		}
	segment:
		for _, next := range tokens[i+1:] {
			switch next {
			case "&&", "||", ";", "|":
				break segment
			case "commit", "push":
				if !seen[next] {
					seen[next] = true
					kinds = append(kinds, next)
				}
				break segment
			}
		}
	}
	return kinds
}
