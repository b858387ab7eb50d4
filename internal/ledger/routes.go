package ledger

import (
	"context"
	"fmt"
)

// PeerPrefixes returns the routing table's peer prefixes for one owner
// prefix, in stable order.
func (s *Store) PeerPrefixes(ctx context.Context, ownerPrefix string) ([]string, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(opCtx, `
		SELECT peer_prefix FROM routes WHERE owner_prefix = ? ORDER BY peer_prefix;
	`, ownerPrefix)
	if err != nil {
		return nil, fmt.Errorf("read routes for %s: %w", ownerPrefix, err)
	}
	defer rows.Close()
	var peers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// AddRoute records one owner→peer routing entry; duplicates are no-ops.
func (s *Store) AddRoute(ctx context.Context, ownerPrefix, peerPrefix string) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.db.ExecContext(opCtx, `
		INSERT INTO routes (owner_prefix, peer_prefix)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE owner_prefix = owner_prefix;
	`, ownerPrefix, peerPrefix)
	if err != nil {
		return fmt.Errorf("add route %s->%s: %w", ownerPrefix, peerPrefix, err)
	}
	return nil
}
