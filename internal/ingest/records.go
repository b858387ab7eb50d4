// Package ingest normalizes heterogeneous session logs into the canonical
// ledger schema. Each raw entry is classified into a fixed variant set at the
// parse boundary; aggregation dispatches on the variant, never on ad hoc
// field probing.
package ingest

import "time"

// RecordKind tags the parsed variant of one raw log entry.
type RecordKind int

const (
	KindUnknown RecordKind = iota
	KindUsage
	KindText
	KindToolCall
	KindCommandExec
	KindExternalCall
	KindChildSpawn
	KindChildComplete
	KindCompletion
)

// Record is the normalized form of one source entry. Only the fields
// relevant to its Kind are populated.
type Record struct {
	Kind      RecordKind
	Timestamp time.Time

	// KindText
	Role string
	Text string

	// KindToolCall; ToolName doubles as the server:tool key for
	// KindExternalCall.
	ToolName  string
	Args      string
	Completed bool

	// KindUsage
	Cost            *float64
	TokensIn        *int64
	TokensOut       *int64
	TokensReasoning *int64
	Model           string
	Mode            string

	// KindChildSpawn
	ChildID string
}

// SessionTotals accumulates the usage reports seen during one pass.
type SessionTotals struct {
	Cost            float64
	TokensIn        int64
	TokensOut       int64
	TokensReasoning int64
	Model           string
	Mode            string
	StartedAt       *time.Time
	CompletedAt     *time.Time

	// CompletionObserved is set only by an explicit completion marker; cost
	// reports alone never complete a session.
	CompletionObserved bool
}

// Apply folds one usage or completion record into the totals. The first
// usage report stamps StartedAt; every later one overwrites CompletedAt
// (last one wins).
func (t *SessionTotals) Apply(r Record) {
	if r.Kind == KindCompletion {
		t.CompletionObserved = true
		ts := r.Timestamp
		t.CompletedAt = &ts
		return
	}
	if r.Kind != KindUsage {
		return
	}
	if r.Cost != nil {
		t.Cost += *r.Cost
	}
	if r.TokensIn != nil {
		t.TokensIn += *r.TokensIn
	}
	if r.TokensOut != nil {
		t.TokensOut += *r.TokensOut
	}
	if r.TokensReasoning != nil {
		t.TokensReasoning += *r.TokensReasoning
	}
	if r.Model != "" {
		t.Model = r.Model
	}
	if r.Mode != "" {
		t.Mode = r.Mode
	}
	ts := r.Timestamp
	if t.StartedAt == nil {
		t.StartedAt = &ts
	} else {
		t.CompletedAt = &ts
	}
}
