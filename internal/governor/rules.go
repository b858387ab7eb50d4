// Package governor watches session metrics for runaway behavior and
// terminates offenders, recording each termination as an auditable punch.
package governor

import (
	"fmt"
	"time"

	"github.com/basket/punchd/internal/metrics"
)

// Classification labels, one per rule.
const (
	ClassStepOverflow = "step_overflow"
	ClassCostOverflow = "cost_overflow"
	ClassToolCycle    = "tool_cycle"
	ClassCachePlateau = "cache_plateau"
)

// Limits holds the rule thresholds.
type Limits struct {
	StepCeiling  int
	CostCeiling  float64
	CycleRepeats int
	// PlateauWindow is the minimum trailing tool-call count before the
	// plateau rule may fire; PlateauRatio is the unique-hash floor.
	PlateauWindow int
	PlateauRatio  float64
}

// Detection is one triggered rule against one session.
type Detection struct {
	SessionID      string
	Classification string
	Reason         string
	Metrics        metrics.SessionMetrics
	DetectedAt     time.Time
}

// suspectFraction is the share of a ceiling at which a session turns SUSPECT.
const suspectFraction = 0.8

type rule struct {
	classification string
	check          func(Limits, metrics.SessionMetrics) (string, bool)
}

// Rules evaluate in fixed priority order; the first hit wins. Ties between
// simultaneously crossed thresholds resolve by this order, never by timing.
var rules = []rule{
	{ClassStepOverflow, checkSteps},
	{ClassCostOverflow, checkCost},
	{ClassToolCycle, checkCycle},
	{ClassCachePlateau, checkPlateau},
}

// Classify runs the rule set against one metrics sample. It returns the
// single triggering detection, or nil when every rule passes.
func Classify(limits Limits, m metrics.SessionMetrics) *Detection {
	for _, r := range rules {
		if reason, hit := r.check(limits, m); hit {
			return &Detection{
				SessionID:      m.TaskID,
				Classification: r.classification,
				Reason:         reason,
				Metrics:        m,
				DetectedAt:     m.SampledAt,
			}
		}
	}
	return nil
}

// Suspect reports whether the session is within the warn band of the step or
// cost ceiling without having crossed either.
func Suspect(limits Limits, m metrics.SessionMetrics) bool {
	if limits.StepCeiling > 0 && float64(m.StepCount) >= suspectFraction*float64(limits.StepCeiling) {
		return true
	}
	if limits.CostCeiling > 0 && m.TotalCost >= suspectFraction*limits.CostCeiling {
		return true
	}
	return false
}

func checkSteps(l Limits, m metrics.SessionMetrics) (string, bool) {
	if l.StepCeiling > 0 && m.StepCount > l.StepCeiling {
		return fmt.Sprintf("step count %d exceeded ceiling %d", m.StepCount, l.StepCeiling), true
	}
	return "", false
}

func checkCost(l Limits, m metrics.SessionMetrics) (string, bool) {
	if l.CostCeiling > 0 && m.TotalCost > l.CostCeiling {
		return fmt.Sprintf("cumulative cost $%.2f exceeded ceiling $%.2f", m.TotalCost, l.CostCeiling), true
	}
	return "", false
}

// checkCycle detects a recent tool sequence repeated back-to-back at least
// CycleRepeats times at the tail of the trailing window.
func checkCycle(l Limits, m metrics.SessionMetrics) (string, bool) {
	repeats := l.CycleRepeats
	if repeats < 2 {
		repeats = 3
	}
	keys := m.RecentToolKeys
	for seqLen := 1; seqLen*repeats <= len(keys); seqLen++ {
		if tailRepeats(keys, seqLen, repeats) {
			seq := keys[len(keys)-seqLen:]
			return fmt.Sprintf("tool sequence %v repeated %d times", seq, repeats), true
		}
	}
	return "", false
}

func tailRepeats(keys []string, seqLen, repeats int) bool {
	base := len(keys) - seqLen
	for rep := 1; rep < repeats; rep++ {
		prev := base - rep*seqLen
		for i := 0; i < seqLen; i++ {
			if keys[base+i] != keys[prev+i] {
				return false
			}
		}
	}
	return true
}

func checkPlateau(l Limits, m metrics.SessionMetrics) (string, bool) {
	window := l.PlateauWindow
	if window <= 0 {
		window = 10
	}
	if len(m.RecentToolKeys) >= window && m.UniqueHashRatio < l.PlateauRatio {
		return fmt.Sprintf("unique-hash ratio %.2f below %.2f over trailing %d tool calls",
			m.UniqueHashRatio, l.PlateauRatio, len(m.RecentToolKeys)), true
	}
	return "", false
}
