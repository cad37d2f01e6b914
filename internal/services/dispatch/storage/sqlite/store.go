// Package sqlite stores dispatch events and snapshots in SQLite and exposes the
// database as a transactional resource.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/eventcore/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/eventcore/internal/platform/timeouts"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
	"github.com/louisbranch/eventcore/internal/services/dispatch/storage/codec"
	"github.com/louisbranch/eventcore/internal/services/dispatch/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store is a SQLite-backed event journal, snapshot store and transaction
// resource.
type Store struct {
	sqlDB *sql.DB
	codec *codec.Codec
}

// Open opens the store at path and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	busy := timeouts.SQLiteBusy.Milliseconds()
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate", cleanPath, busy)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.DispatchFS, "dispatch"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	c, err := codec.Default()
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Store{sqlDB: sqlDB, codec: c}, nil
}

// Close closes the underlying database. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SupportsTransactions reports true: every SQLite store can run transactions.
func (s *Store) SupportsTransactions() bool {
	return s != nil && s.sqlDB != nil
}

// Transaction runs fn in a database transaction. Calls made while a
// transaction of this store is already open join it instead of nesting.
// SQLite runs every transaction serializable, so opts.Isolation is ignored.
func (s *Store) Transaction(ctx context.Context, fn transaction.Func, opts transaction.Options) (result any, err error) {
	if !s.SupportsTransactions() {
		return nil, fmt.Errorf("storage is not configured")
	}
	if tx, ok := transaction.TxFromContext(ctx); ok {
		if _, ok := tx.(*sql.Tx); ok {
			return fn(ctx)
		}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	result, err = fn(transaction.WithTx(ctx, tx))
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the open transaction of ctx, or the database.
func (s *Store) q(ctx context.Context) querier {
	if tx, ok := transaction.TxFromContext(ctx); ok {
		if sqlTx, ok := tx.(*sql.Tx); ok {
			return sqlTx
		}
	}
	return s.sqlDB
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}
