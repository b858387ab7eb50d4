// Package metrics computes live per-session metrics from the ledger for
// governance decisions. It is read-only; a storage error aborts the snapshot
// and the caller skips that evaluation.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/punchd/internal/ledger"
)

// Reader is the slice of the ledger the snapshotter needs. *ledger.Store
// satisfies it; tests use fakes.
type Reader interface {
	CountEvents(ctx context.Context, taskID string, eventType ledger.EventType) (int, error)
	SessionCost(ctx context.Context, taskID string) (float64, error)
	RecentToolPunches(ctx context.Context, taskID string, window int) ([]ledger.ToolPunch, error)
}

// SessionMetrics is one governance-ready sample of a session.
type SessionMetrics struct {
	TaskID        string
	StepCount     int
	TotalCost     float64
	ToolCallCount int

	// RecentToolKeys is the trailing window of tool keys, oldest first.
	RecentToolKeys []string
	// UniqueHashRatio is unique source hashes over total tool calls in the
	// trailing window; 1.0 when the window is empty.
	UniqueHashRatio float64
	WindowSize      int

	SampledAt time.Time
}

// Snapshotter samples session metrics over a fixed trailing window.
type Snapshotter struct {
	reader Reader
	window int
}

// NewSnapshotter builds a snapshotter with the given trailing window size.
func NewSnapshotter(reader Reader, window int) *Snapshotter {
	if window <= 0 {
		window = 12
	}
	return &Snapshotter{reader: reader, window: window}
}

// Snapshot computes the current metrics for one session.
func (sn *Snapshotter) Snapshot(ctx context.Context, taskID string) (SessionMetrics, error) {
	m := SessionMetrics{TaskID: taskID, SampledAt: time.Now().UTC(), WindowSize: sn.window}

	steps, err := sn.reader.CountEvents(ctx, taskID, ledger.EventStepComplete)
	if err != nil {
		return m, fmt.Errorf("snapshot %s: %w", taskID, err)
	}
	m.StepCount = steps

	cost, err := sn.reader.SessionCost(ctx, taskID)
	if err != nil {
		return m, fmt.Errorf("snapshot %s: %w", taskID, err)
	}
	m.TotalCost = cost

	calls, err := sn.reader.CountEvents(ctx, taskID, ledger.EventToolCall)
	if err != nil {
		return m, fmt.Errorf("snapshot %s: %w", taskID, err)
	}
	m.ToolCallCount = calls

	recent, err := sn.reader.RecentToolPunches(ctx, taskID, sn.window)
	if err != nil {
		return m, fmt.Errorf("snapshot %s: %w", taskID, err)
	}
	m.RecentToolKeys = make([]string, 0, len(recent))
	unique := make(map[string]struct{}, len(recent))
	for _, tp := range recent {
		m.RecentToolKeys = append(m.RecentToolKeys, tp.Key)
		unique[tp.SourceHash] = struct{}{}
	}
	if len(recent) == 0 {
		m.UniqueHashRatio = 1.0
	} else {
		m.UniqueHashRatio = float64(len(unique)) / float64(len(recent))
	}
	return m, nil
}
