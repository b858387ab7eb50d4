package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/basket/punchd/internal/ledger"
)

type fakeReader struct {
	steps   int
	cost    float64
	calls   int
	recent  []ledger.ToolPunch
	failAll bool
}

func (f *fakeReader) CountEvents(_ context.Context, _ string, et ledger.EventType) (int, error) {
	if f.failAll {
		return 0, errors.New("storage down")
	}
	if et == ledger.EventStepComplete {
		return f.steps, nil
	}
	return f.calls, nil
}

func (f *fakeReader) SessionCost(_ context.Context, _ string) (float64, error) {
	if f.failAll {
		return 0, errors.New("storage down")
	}
	return f.cost, nil
}

func (f *fakeReader) RecentToolPunches(_ context.Context, _ string, _ int) ([]ledger.ToolPunch, error) {
	if f.failAll {
		return nil, errors.New("storage down")
	}
	return f.recent, nil
}

func TestSnapshotComputesRatio(t *testing.T) {
	reader := &fakeReader{
		steps: 7,
		cost:  1.25,
		calls: 4,
		recent: []ledger.ToolPunch{
			{Key: "read_file", SourceHash: "h1"},
			{Key: "read_file", SourceHash: "h1"},
			{Key: "grep", SourceHash: "h2"},
			{Key: "read_file", SourceHash: "h1"},
		},
	}
	sn := NewSnapshotter(reader, 10)
	m, err := sn.Snapshot(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if m.StepCount != 7 || m.TotalCost != 1.25 || m.ToolCallCount != 4 {
		t.Fatalf("unexpected counters: %+v", m)
	}
	if m.UniqueHashRatio != 0.5 {
		t.Fatalf("unique ratio = %v, want 0.5", m.UniqueHashRatio)
	}
	want := []string{"read_file", "read_file", "grep", "read_file"}
	if len(m.RecentToolKeys) != len(want) {
		t.Fatalf("recent keys = %v", m.RecentToolKeys)
	}
	for i := range want {
		if m.RecentToolKeys[i] != want[i] {
			t.Fatalf("recent keys[%d] = %q, want %q", i, m.RecentToolKeys[i], want[i])
		}
	}
}

func TestSnapshotEmptyWindowRatioIsOne(t *testing.T) {
	sn := NewSnapshotter(&fakeReader{}, 10)
	m, err := sn.Snapshot(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if m.UniqueHashRatio != 1.0 {
		t.Fatalf("empty window ratio = %v, want 1.0", m.UniqueHashRatio)
	}
}

func TestSnapshotPropagatesStorageError(t *testing.T) {
	sn := NewSnapshotter(&fakeReader{failAll: true}, 10)
	if _, err := sn.Snapshot(context.Background(), "sess-1"); err == nil {
		t.Fatal("expected storage error to abort snapshot")
	}
}
