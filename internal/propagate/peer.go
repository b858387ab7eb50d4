package propagate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LocalStore reads the authoritative side of a propagation round.
type LocalStore interface {
	// Prefix returns the local namespace's prefix.
	Prefix(ctx context.Context) (string, error)
	// ReadRecord returns the authoritative record state by id.
	ReadRecord(ctx context.Context, id string) (TrackedRecord, error)
}

// PeerStore applies authoritative state to one peer.
type PeerStore interface {
	// Apply updates the peer's record with the authoritative field values.
	Apply(ctx context.Context, rec TrackedRecord) error
	// PendingChanges reports whether the peer's working state differs from
	// its last commit. False means nothing to commit, a normal no-op.
	PendingChanges(ctx context.Context) (bool, error)
	// Commit commits the working state with the given message.
	Commit(ctx context.Context, message string) error
	Close() error
}

// ErrRecordNotFound marks a record id with no authoritative row.
var ErrRecordNotFound = errors.New("tracked record not found")

// DoltLocal reads the authoritative record from the local Dolt database.
type DoltLocal struct {
	db      *sql.DB
	prefix  string
	timeout time.Duration
}

// NewDoltLocal wraps the local store connection. The prefix comes from
// deployment configuration and is validated by the propagator.
func NewDoltLocal(db *sql.DB, prefix string, timeout time.Duration) *DoltLocal {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DoltLocal{db: db, prefix: prefix, timeout: timeout}
}

func (l *DoltLocal) Prefix(_ context.Context) (string, error) {
	return l.prefix, nil
}

func (l *DoltLocal) ReadRecord(ctx context.Context, id string) (TrackedRecord, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	var rec TrackedRecord
	var closedAt, updatedAt sql.NullTime
	var closeReason sql.NullString
	err := l.db.QueryRowContext(opCtx, `
		SELECT id, status, closed_at, close_reason, updated_at FROM issues WHERE id = ?;
	`, id).Scan(&rec.ID, &rec.Status, &closedAt, &closeReason, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("read record %s: %w", id, ErrRecordNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("read record %s: %w", id, err)
	}
	if closedAt.Valid {
		t := closedAt.Time
		rec.ClosedAt = &t
	}
	if closeReason.Valid {
		rec.CloseReason = closeReason.String
	}
	if updatedAt.Valid {
		rec.UpdatedAt = updatedAt.Time
	}
	return rec, nil
}

// DoltPeer is a PeerStore over one peer database on the shared Dolt server.
// The Dolt working set doubles as the dirty check: dolt_status is empty iff
// there is nothing to commit.
type DoltPeer struct {
	db      *sql.DB
	prefix  string
	timeout time.Duration
}

func (p *DoltPeer) Apply(ctx context.Context, rec TrackedRecord) error {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	_, err := p.db.ExecContext(opCtx, `
		UPDATE issues
		SET status = ?, closed_at = ?, close_reason = ?, updated_at = ?
		WHERE id = ?;
	`, rec.Status, nullableTime(rec.ClosedAt), rec.CloseReason, rec.UpdatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("peer %s: apply %s: %w", p.prefix, rec.ID, err)
	}
	return nil
}

func (p *DoltPeer) PendingChanges(ctx context.Context) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	var pending bool
	err := p.db.QueryRowContext(opCtx, `SELECT EXISTS(SELECT 1 FROM dolt_status);`).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("peer %s: status: %w", p.prefix, err)
	}
	return pending, nil
}

func (p *DoltPeer) Commit(ctx context.Context, message string) error {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if _, err := p.db.ExecContext(opCtx, `CALL DOLT_COMMIT('-a', '-m', ?);`, message); err != nil {
		return fmt.Errorf("peer %s: commit: %w", p.prefix, err)
	}
	return nil
}

func (p *DoltPeer) Close() error { return p.db.Close() }

// PeerOpener connects to the peer store for a validated prefix.
type PeerOpener func(ctx context.Context, prefix string) (PeerStore, error)

// DoltPeerOpener opens peer databases on a shared Dolt server. The peer's
// database name is its prefix; the prefix is validated before this is
// called. dsnForDatabase renders a DSN addressing one database by name.
func DoltPeerOpener(dsnForDatabase func(database string) string, timeout time.Duration) PeerOpener {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(ctx context.Context, prefix string) (PeerStore, error) {
		db, err := sql.Open("mysql", dsnForDatabase(prefix))
		if err != nil {
			return nil, fmt.Errorf("peer %s: open: %w", prefix, err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("peer %s: ping: %w", prefix, err)
		}
		return &DoltPeer{db: db, prefix: prefix, timeout: timeout}, nil
	}
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
