package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all punchd metrics instruments.
type Metrics struct {
	PunchesAppended   metric.Int64Counter
	PunchesDuplicate  metric.Int64Counter
	SessionsIngested  metric.Int64Counter
	IngestDuration    metric.Float64Histogram
	GovernorKills     metric.Int64Counter
	PropagationPeers  metric.Int64Counter
	PropagationErrors metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.PunchesAppended, err = meter.Int64Counter("punchd.punches.appended",
		metric.WithDescription("Ledger rows inserted"),
	)
	if err != nil {
		return nil, err
	}

	m.PunchesDuplicate, err = meter.Int64Counter("punchd.punches.duplicate",
		metric.WithDescription("Appends skipped by source_hash dedup"),
	)
	if err != nil {
		return nil, err
	}

	m.SessionsIngested, err = meter.Int64Counter("punchd.ingest.sessions",
		metric.WithDescription("Session directories aggregated"),
	)
	if err != nil {
		return nil, err
	}

	m.IngestDuration, err = meter.Float64Histogram("punchd.ingest.duration",
		metric.WithDescription("Aggregation pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.GovernorKills, err = meter.Int64Counter("punchd.governor.kills",
		metric.WithDescription("Sessions terminated by the governor"),
	)
	if err != nil {
		return nil, err
	}

	m.PropagationPeers, err = meter.Int64Counter("punchd.propagate.peers",
		metric.WithDescription("Peer stores updated by propagation rounds"),
	)
	if err != nil {
		return nil, err
	}

	m.PropagationErrors, err = meter.Int64Counter("punchd.propagate.errors",
		metric.WithDescription("Per-peer propagation failures"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
