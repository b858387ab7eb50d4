// Package ledger is the durable, append-only event store ("punches") plus the
// session aggregate tables derived from it. All writes are idempotent: the
// punches table dedups on source_hash, detail tables dedup on their natural
// composite keys, and the session row merges per-field. The backing engine is
// a Dolt SQL server reached over the MySQL wire protocol.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/basket/punchd/internal/otel"
)

const defaultTimeout = 30 * time.Second

// schemaDDL is applied on every connect. Every statement is IF NOT EXISTS so
// re-running against an existing database is a no-op.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS punches (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		task_id VARCHAR(128) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		event_key VARCHAR(255) NOT NULL DEFAULT '',
		observed_at DATETIME(6) NOT NULL,
		source_hash CHAR(64) NOT NULL,
		cost DOUBLE,
		tokens_input BIGINT,
		tokens_output BIGINT,
		tokens_reasoning BIGINT,
		UNIQUE KEY uq_punches_source_hash (source_hash),
		KEY idx_punches_task (task_id, event_type)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		task_id VARCHAR(128) PRIMARY KEY,
		session_id VARCHAR(128) NOT NULL DEFAULT '',
		mode VARCHAR(64),
		model VARCHAR(128),
		status VARCHAR(16) NOT NULL DEFAULT 'running',
		total_cost DOUBLE NOT NULL DEFAULT 0,
		tokens_in BIGINT NOT NULL DEFAULT 0,
		tokens_out BIGINT NOT NULL DEFAULT 0,
		tokens_reasoning BIGINT NOT NULL DEFAULT 0,
		started_at DATETIME(6),
		completed_at DATETIME(6),
		outcome TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		session_id VARCHAR(128) NOT NULL,
		observed_at DATETIME(6) NOT NULL,
		role VARCHAR(32) NOT NULL,
		preview VARCHAR(512) NOT NULL DEFAULT '',
		PRIMARY KEY (session_id, observed_at, role)
	)`,
	`CREATE TABLE IF NOT EXISTS tool_calls (
		session_id VARCHAR(128) NOT NULL,
		observed_at DATETIME(6) NOT NULL,
		tool_name VARCHAR(128) NOT NULL,
		args_summary VARCHAR(1024) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'started',
		PRIMARY KEY (session_id, observed_at, tool_name)
	)`,
	`CREATE TABLE IF NOT EXISTS child_rels (
		parent_id VARCHAR(128) NOT NULL,
		child_id VARCHAR(128) NOT NULL,
		PRIMARY KEY (parent_id, child_id)
	)`,
	`CREATE TABLE IF NOT EXISTS routes (
		owner_prefix VARCHAR(64) NOT NULL,
		peer_prefix VARCHAR(64) NOT NULL,
		PRIMARY KEY (owner_prefix, peer_prefix)
	)`,
	`CREATE TABLE IF NOT EXISTS issues (
		id VARCHAR(64) PRIMARY KEY,
		status VARCHAR(32) NOT NULL DEFAULT 'open',
		closed_at DATETIME(6),
		close_reason TEXT,
		updated_at DATETIME(6)
	)`,
}

// Store wraps the SQL connection with bounded-timeout helpers.
type Store struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
	metrics *otel.Metrics
}

// Option customizes a Store.
type Option func(*Store)

// WithTimeout overrides the per-operation storage timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics attaches OTel instruments.
func WithMetrics(m *otel.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Open connects to the SQL endpoint and applies the schema idempotently.
// Connection or DDL failure is retryable by the caller; nothing is cached.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	s := &Store{db: db, timeout: defaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping storage: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection. The schema is not touched; used by
// the propagator (peer databases carry their own schema) and by tests.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, timeout: defaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying connection.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		_, err := s.db.ExecContext(opCtx, stmt)
		cancel()
		if err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// opContext bounds a single storage operation.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}
