package propagate

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/punchd/internal/otel"
)

// RouteSource enumerates peer prefixes for an owner prefix.
type RouteSource interface {
	PeerPrefixes(ctx context.Context, ownerPrefix string) ([]string, error)
}

// Propagator replicates authoritative record state to peer stores.
type Propagator struct {
	local    LocalStore
	routes   RouteSource
	openPeer PeerOpener
	logger   *slog.Logger
	metrics  *otel.Metrics
}

// New builds a Propagator.
func New(local LocalStore, routes RouteSource, openPeer PeerOpener, logger *slog.Logger, m *otel.Metrics) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{local: local, routes: routes, openPeer: openPeer, logger: logger, metrics: m}
}

// HandleCommand inspects one observed command and, when it is a successful
// status mutation, runs a propagation round for the extracted record id.
// Non-trigger commands and ambiguous exit statuses are silent no-ops.
func (p *Propagator) HandleCommand(ctx context.Context, command, exitStatus string) error {
	id, ok := ExtractRecordID(command)
	if !ok {
		return nil
	}
	if !SuccessExit(exitStatus) {
		p.logger.Debug("skipping propagation for non-success command",
			"record_id", id, "exit_status", exitStatus)
		return nil
	}
	return p.Propagate(ctx, id)
}

// Propagate replicates one record to every routed peer, sequentially.
// Sequential on purpose: it bounds load on the shared storage engine and
// keeps failure attribution simple. One peer's failure is logged and
// skipped; the remaining peers still run.
func (p *Propagator) Propagate(ctx context.Context, recordID string) error {
	localPrefix, err := p.local.Prefix(ctx)
	if err != nil {
		return fmt.Errorf("propagate %s: local prefix: %w", recordID, err)
	}
	if !ValidPrefix(localPrefix) {
		return fmt.Errorf("propagate %s: invalid local prefix %q", recordID, localPrefix)
	}

	rec, err := p.local.ReadRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("propagate %s: %w", recordID, err)
	}

	peers, err := p.routes.PeerPrefixes(ctx, localPrefix)
	if err != nil {
		return fmt.Errorf("propagate %s: routes: %w", recordID, err)
	}

	seen := map[string]struct{}{localPrefix: {}}
	for _, peer := range peers {
		if _, dup := seen[peer]; dup {
			continue
		}
		seen[peer] = struct{}{}
		if !ValidPrefix(peer) {
			p.logger.Warn("skipping peer with malformed prefix", "peer", peer, "record_id", recordID)
			continue
		}
		attrs := metric.WithAttributes(
			otel.AttrPeerPrefix.String(peer),
			otel.AttrRecordID.String(recordID),
		)
		if err := p.propagateToPeer(ctx, peer, rec); err != nil {
			p.logger.Warn("peer propagation failed", "peer", peer, "record_id", recordID, "error", err)
			if p.metrics != nil {
				p.metrics.PropagationErrors.Add(ctx, 1, attrs)
			}
			continue
		}
		if p.metrics != nil {
			p.metrics.PropagationPeers.Add(ctx, 1, attrs)
		}
	}
	return nil
}

func (p *Propagator) propagateToPeer(ctx context.Context, prefix string, rec TrackedRecord) error {
	peer, err := p.openPeer(ctx, prefix)
	if err != nil {
		return err
	}
	defer peer.Close()

	if err := peer.Apply(ctx, rec); err != nil {
		return err
	}
	pending, err := peer.PendingChanges(ctx)
	if err != nil {
		return err
	}
	if !pending {
		// Peer already matches the authoritative state.
		p.logger.Debug("peer already converged", "peer", prefix, "record_id", rec.ID)
		return nil
	}
	msg := fmt.Sprintf("sync %s: status %s", rec.ID, rec.Status)
	if err := peer.Commit(ctx, msg); err != nil {
		return err
	}
	p.logger.Info("record propagated", "peer", prefix, "record_id", rec.ID, "status", rec.Status)
	return nil
}
