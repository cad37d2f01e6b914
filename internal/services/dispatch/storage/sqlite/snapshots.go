package sqlite

import (
	"context"
	"fmt"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/snapshot"
)

// SnapshotStore is the snapshot.Store view of a Store.
type SnapshotStore struct {
	store *Store
}

// Snapshots returns the snapshot store sharing this database.
func (s *Store) Snapshots() *SnapshotStore {
	return &SnapshotStore{store: s}
}

// Get returns the latest snapshot for an aggregate.
func (s *SnapshotStore) Get(ctx context.Context, aggregateID, aggregateType string) (snapshot.Snapshot, error) {
	snapshots, err := s.store.listSnapshots(ctx, aggregateID, aggregateType, 1)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if len(snapshots) == 0 {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	return snapshots[0], nil
}

// List returns every snapshot for an aggregate, oldest first.
func (s *SnapshotStore) List(ctx context.Context, aggregateID, aggregateType string) ([]snapshot.Snapshot, error) {
	out, err := s.store.listSnapshots(ctx, aggregateID, aggregateType, 0)
	if err != nil {
		return nil, err
	}
	snapshot.Sort(out)
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
	_, err = s.store.q(ctx).ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_type, aggregate_id, event_version, id, schema_version, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_type, aggregate_id, event_version) DO UPDATE SET
			id = excluded.id,
			schema_version = excluded.schema_version,
			state = excluded.state,
			created_at = excluded.created_at`,
		aggregateType, aggregateID, int64(snap.EventVersion), snap.ID, snap.SchemaVersion, snap.State, toMillis(snap.CreatedAt),
	)
	if err != nil {
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
	if _, err := s.store.q(ctx).ExecContext(ctx,
		`DELETE FROM snapshots WHERE aggregate_type = ? AND aggregate_id = ?`, aggregateType, aggregateID,
	); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

// listSnapshots returns snapshots newest first.
func (s *Store) listSnapshots(ctx context.Context, aggregateID, aggregateType string, limit int) ([]snapshot.Snapshot, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	aggregateID, aggregateType, err := snapshot.ValidateKey(aggregateID, aggregateType)
	if err != nil {
		return nil, err
	}
	query := `SELECT aggregate_type, aggregate_id, event_version, id, schema_version, state, created_at
		FROM snapshots WHERE aggregate_type = ? AND aggregate_id = ?
		ORDER BY event_version DESC, created_at DESC, id DESC`
	args := []any{aggregateType, aggregateID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []snapshot.Snapshot
	for rows.Next() {
		var (
			snap      snapshot.Snapshot
			version   int64
			createdAt int64
		)
		if err := rows.Scan(&snap.AggregateType, &snap.AggregateID, &version, &snap.ID, &snap.SchemaVersion, &snap.State, &createdAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.EventVersion = uint64(version)
		snap.CreatedAt = fromMillis(createdAt)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	return out, nil
}
