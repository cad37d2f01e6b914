package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/snapshot"
)

// SnapshotStore is the snapshot.Store view of a Store.
type SnapshotStore struct {
	store *Store
}

// Snapshots returns the snapshot store sharing this pool.
func (s *Store) Snapshots() *SnapshotStore {
	return &SnapshotStore{store: s}
}

// Get returns the latest snapshot for an aggregate.
func (s *SnapshotStore) Get(ctx context.Context, aggregateID, aggregateType string) (snapshot.Snapshot, error) {
	if err := s.store.ready(ctx); err != nil {
		return snapshot.Snapshot{}, err
	}
	aggregateID, aggregateType, err := snapshot.ValidateKey(aggregateID, aggregateType)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	query := fmt.Sprintf(`SELECT aggregate_type, aggregate_id, event_version, id, schema_version, state, created_at
		FROM %s WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY event_version DESC, created_at DESC, id DESC LIMIT 1`, s.store.snapshotsTable)
	snap, err := scanSnapshot(s.store.q(ctx).QueryRow(ctx, query, aggregateType, aggregateID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snapshot.Snapshot{}, snapshot.ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// List returns every snapshot for an aggregate, oldest first.
func (s *SnapshotStore) List(ctx context.Context, aggregateID, aggregateType string) ([]snapshot.Snapshot, error) {
	if err := s.store.ready(ctx); err != nil {
		return nil, err
	}
	aggregateID, aggregateType, err := snapshot.ValidateKey(aggregateID, aggregateType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT aggregate_type, aggregate_id, event_version, id, schema_version, state, created_at
		FROM %s WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY event_version, created_at, id`, s.store.snapshotsTable)
	rows, err := s.store.q(ctx).Query(ctx, query, aggregateType, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []snapshot.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	return out, nil
}

// Put stores snap, replacing a snapshot at the same event version.
func (s *SnapshotStore) Put(ctx context.Context, snap snapshot.Snapshot) error {
	if err := s.store.ready(ctx); err != nil {
		return err
	}
	aggregateID, aggregateType, err := snapshot.ValidateKey(snap.AggregateID, snap.AggregateType)
	if err != nil {
		return err
	}
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (aggregate_type, aggregate_id, event_version, id, schema_version, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (aggregate_type, aggregate_id, event_version) DO UPDATE SET
			id = EXCLUDED.id,
			schema_version = EXCLUDED.schema_version,
			state = EXCLUDED.state,
			created_at = EXCLUDED.created_at
	`, s.store.snapshotsTable)
	if _, err := s.store.q(ctx).Exec(ctx, query,
		aggregateType, aggregateID, int64(snap.EventVersion), snap.ID, snap.SchemaVersion, snap.State, createdAt.UTC(),
	); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// DeleteAll removes every snapshot for an aggregate.
func (s *SnapshotStore) DeleteAll(ctx context.Context, aggregateID, aggregateType string) error {
	if err := s.store.ready(ctx); err != nil {
		return err
	}
	aggregateID, aggregateType, err := snapshot.ValidateKey(aggregateID, aggregateType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE aggregate_type = $1 AND aggregate_id = $2`, s.store.snapshotsTable)
	if _, err := s.store.q(ctx).Exec(ctx, query, aggregateType, aggregateID); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

func scanSnapshot(row pgx.Row) (snapshot.Snapshot, error) {
	var (
		snap    snapshot.Snapshot
		version int64
	)
	if err := row.Scan(&snap.AggregateType, &snap.AggregateID, &version, &snap.ID, &snap.SchemaVersion, &snap.State, &snap.CreatedAt); err != nil {
		return snapshot.Snapshot{}, err
	}
	snap.EventVersion = uint64(version)
	snap.CreatedAt = snap.CreatedAt.UTC()
	return snap, nil
}
