package governor

import (
	"testing"
	"time"

	"github.com/basket/punchd/internal/metrics"
)

func testLimits() Limits {
	return Limits{
		StepCeiling:   40,
		CostCeiling:   2.00,
		CycleRepeats:  3,
		PlateauWindow: 10,
		PlateauRatio:  0.2,
	}
}

func TestClassifyHealthySession(t *testing.T) {
	m := metrics.SessionMetrics{TaskID: "sess-1", StepCount: 5, TotalCost: 0.10}
	if det := Classify(testLimits(), m); det != nil {
		t.Fatalf("healthy session classified as %s", det.Classification)
	}
}

func TestClassifyCostOverflowScenario(t *testing.T) {
	limits := testLimits()
	limits.StepCeiling = 50
	m := metrics.SessionMetrics{
		TaskID:    "sess-1",
		StepCount: 45,
		TotalCost: 2.50,
		SampledAt: time.Now(),
	}
	det := Classify(limits, m)
	if det == nil {
		t.Fatal("expected detection")
	}
	if det.Classification != ClassCostOverflow {
		t.Fatalf("classification = %q, want %q", det.Classification, ClassCostOverflow)
	}
	if det.Reason == "" {
		t.Fatal("detection carries no reason")
	}
}

func TestClassifyPriorityOrderBreaksTies(t *testing.T) {
	// Both the step and cost ceilings are crossed; step wins by priority.
	m := metrics.SessionMetrics{TaskID: "sess-1", StepCount: 100, TotalCost: 10.0}
	det := Classify(testLimits(), m)
	if det == nil || det.Classification != ClassStepOverflow {
		t.Fatalf("got %+v, want step_overflow by priority", det)
	}
}

func TestClassifyToolCycle(t *testing.T) {
	m := metrics.SessionMetrics{
		TaskID: "sess-1",
		RecentToolKeys: []string{
			"grep",
			"read_file", "apply_diff",
			"read_file", "apply_diff",
			"read_file", "apply_diff",
		},
		UniqueHashRatio: 1.0,
	}
	det := Classify(testLimits(), m)
	if det == nil || det.Classification != ClassToolCycle {
		t.Fatalf("got %+v, want tool_cycle", det)
	}
}

func TestClassifyNoCycleOnVariedTools(t *testing.T) {
	m := metrics.SessionMetrics{
		TaskID:          "sess-1",
		RecentToolKeys:  []string{"read_file", "grep", "apply_diff", "run_tests", "read_file", "write_file"},
		UniqueHashRatio: 1.0,
	}
	if det := Classify(testLimits(), m); det != nil {
		t.Fatalf("varied tool usage classified as %s", det.Classification)
	}
}

func TestClassifyCachePlateau(t *testing.T) {
	keys := make([]string, 12)
	for i := range keys {
		// Alternate two tools so no back-to-back cycle forms.
		if i%2 == 0 {
			keys[i] = "read_file"
		} else {
			keys[i] = "grep"
		}
	}
	m := metrics.SessionMetrics{
		TaskID:          "sess-1",
		RecentToolKeys:  keys,
		UniqueHashRatio: 0.1,
	}
	det := Classify(testLimits(), m)
	if det == nil || det.Classification != ClassCachePlateau {
		t.Fatalf("got %+v, want cache_plateau", det)
	}
}

func TestPlateauNeedsFullWindow(t *testing.T) {
	m := metrics.SessionMetrics{
		TaskID:          "sess-1",
		RecentToolKeys:  []string{"read_file", "grep", "read_file"},
		UniqueHashRatio: 0.1,
	}
	if det := Classify(testLimits(), m); det != nil {
		t.Fatalf("plateau fired below minimum window: %s", det.Classification)
	}
}

func TestSuspectWarnBand(t *testing.T) {
	limits := testLimits()
	if !Suspect(limits, metrics.SessionMetrics{StepCount: 32}) {
		t.Fatal("80% of step ceiling should be suspect")
	}
	if !Suspect(limits, metrics.SessionMetrics{TotalCost: 1.60}) {
		t.Fatal("80% of cost ceiling should be suspect")
	}
	if Suspect(limits, metrics.SessionMetrics{StepCount: 10, TotalCost: 0.50}) {
		t.Fatal("low usage flagged suspect")
	}
}
