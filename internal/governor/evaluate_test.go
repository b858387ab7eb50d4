package governor

import (
	"context"
	"testing"

	"github.com/basket/punchd/internal/ledger"
	"github.com/basket/punchd/internal/metrics"
)

type stubReader struct {
	steps int
	cost  float64
}

func (r *stubReader) CountEvents(_ context.Context, _ string, et ledger.EventType) (int, error) {
	if et == ledger.EventStepComplete {
		return r.steps, nil
	}
	return 0, nil
}

func (r *stubReader) SessionCost(_ context.Context, _ string) (float64, error) {
	return r.cost, nil
}

func (r *stubReader) RecentToolPunches(_ context.Context, _ string, _ int) ([]ledger.ToolPunch, error) {
	return nil, nil
}

func TestEvaluateEndToEndKill(t *testing.T) {
	snap := metrics.NewSnapshotter(&stubReader{steps: 10, cost: 2.50}, 12)
	term := &fakeTerminator{}
	aud := &fakeAuditor{}
	gov := New(snap, aud, term, testLimits(), nil, nil)

	conf, err := gov.Evaluate(context.Background(), "sess-9")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if conf == nil {
		t.Fatal("expected a kill confirmation")
	}
	if conf.Trigger.Classification != ClassCostOverflow {
		t.Fatalf("classification = %q", conf.Trigger.Classification)
	}
	if len(aud.events) != 1 || aud.events[0].Key != ClassCostOverflow {
		t.Fatalf("audit events = %+v", aud.events)
	}
	if conf.FinalMetrics.TotalCost != 2.50 {
		t.Fatalf("final metrics cost = %v", conf.FinalMetrics.TotalCost)
	}
}

func TestEvaluateMarksSuspect(t *testing.T) {
	snap := metrics.NewSnapshotter(&stubReader{steps: 35, cost: 0.10}, 12)
	gov := New(snap, &fakeAuditor{}, &fakeTerminator{}, testLimits(), nil, nil)

	conf, err := gov.Evaluate(context.Background(), "sess-9")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if conf != nil {
		t.Fatal("suspect session should not be killed")
	}
	if gov.State("sess-9") != StateSuspect {
		t.Fatalf("state = %s, want SUSPECT", gov.State("sess-9"))
	}
}
