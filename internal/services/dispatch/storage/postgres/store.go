// Package postgres stores dispatch events and snapshots in PostgreSQL and
// exposes the pool as a transactional resource.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
	"github.com/louisbranch/eventcore/internal/services/dispatch/storage/codec"
)

// ErrNotConfigured indicates a store without a pool.
var ErrNotConfigured = errors.New("storage is not configured")

// Store is a PostgreSQL-backed event journal, snapshot store and transaction
// resource.
type Store struct {
	pool           *pgxpool.Pool
	codec          *codec.Codec
	eventsTable    string
	snapshotsTable string
}

// Option configures a Store.
type Option func(*Store)

// WithTablePrefix prefixes the table names, for sharing a schema.
func WithTablePrefix(prefix string) Option {
	return func(s *Store) {
		s.eventsTable = prefix + s.eventsTable
		s.snapshotsTable = prefix + s.snapshotsTable
	}
}

// Open connects to url and creates the tables when missing.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("postgres url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := New(pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.CreateTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	c, err := codec.Default()
	if err != nil {
		return nil, err
	}
	s := &Store{pool: pool, codec: c, eventsTable: "dispatch_events", snapshotsTable: "dispatch_snapshots"}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Close closes the pool. It is nil-safe.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// CreateTables creates the event and snapshot tables.
func (s *Store) CreateTables(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			version BIGINT NOT NULL,
			id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			payload BYTEA NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (aggregate_type, aggregate_id, version)
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			event_version BIGINT NOT NULL,
			id TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			state BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (aggregate_type, aggregate_id, event_version)
		);
	`, s.eventsTable, s.snapshotsTable)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// SupportsTransactions reports whether a pool is configured.
func (s *Store) SupportsTransactions() bool {
	return s != nil && s.pool != nil
}

// Transaction runs fn in a database transaction with the requested isolation
// level. Calls made while a transaction is already open join it.
func (s *Store) Transaction(ctx context.Context, fn transaction.Func, opts transaction.Options) (result any, err error) {
	if !s.SupportsTransactions() {
		return nil, ErrNotConfigured
	}
	if tx, ok := transaction.TxFromContext(ctx); ok {
		if _, ok := tx.(pgx.Tx); ok {
			return fn(ctx)
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: isoLevel(opts.Isolation)})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	result, err = fn(transaction.WithTx(ctx, tx))
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func isoLevel(level transaction.IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case transaction.ReadUncommitted:
		return pgx.ReadUncommitted
	case transaction.ReadCommitted:
		return pgx.ReadCommitted
	case transaction.RepeatableRead:
		return pgx.RepeatableRead
	case transaction.Serializable:
		return pgx.Serializable
	default:
		return ""
	}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := transaction.TxFromContext(ctx); ok {
		if pgTx, ok := tx.(pgx.Tx); ok {
			return pgTx
		}
	}
	return s.pool
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.pool == nil {
		return ErrNotConfigured
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
