package snapshot

import (
	"context"
	"errors"
	"sync"
)

type memoryKey struct {
	aggregateType string
	aggregateID   string
}

// Memory stores snapshots in memory. Snapshots do not survive the process.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[memoryKey]map[uint64]Snapshot
}

// NewMemory creates an empty in-memory snapshot store.
func NewMemory() *Memory {
	return &Memory{snapshots: make(map[memoryKey]map[uint64]Snapshot)}
}

// Get returns the latest snapshot for an aggregate.
func (m *Memory) Get(ctx context.Context, aggregateID, aggregateType string) (Snapshot, error) {
	snapshots, err := m.List(ctx, aggregateID, aggregateType)
	if err != nil {
		return Snapshot{}, err
	}
	latest, ok := Latest(snapshots)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return latest, nil
}

// List returns every snapshot for an aggregate, oldest first.
func (m *Memory) List(ctx context.Context, aggregateID, aggregateType string) ([]Snapshot, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, errors.New("snapshot store is required")
	}
	aggregateID, aggregateType, err := ValidateKey(aggregateID, aggregateType)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	byVersion := m.snapshots[memoryKey{aggregateType: aggregateType, aggregateID: aggregateID}]
	out := make([]Snapshot, 0, len(byVersion))
	for _, snap := range byVersion {
		out = append(out, clone(snap))
	}
	Sort(out)
	return out, nil
}

// Put stores snap, replacing any snapshot at the same event version.
func (m *Memory) Put(ctx context.Context, snap Snapshot) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if m == nil {
		return errors.New("snapshot store is required")
	}
	aggregateID, aggregateType, err := ValidateKey(snap.AggregateID, snap.AggregateType)
	if err != nil {
		return err
	}
	snap.AggregateID, snap.AggregateType = aggregateID, aggregateType

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{aggregateType: aggregateType, aggregateID: aggregateID}
	byVersion, ok := m.snapshots[key]
	if !ok {
		byVersion = make(map[uint64]Snapshot)
		m.snapshots[key] = byVersion
	}
	byVersion[snap.EventVersion] = clone(snap)
	return nil
}

// DeleteAll removes every snapshot for an aggregate.
func (m *Memory) DeleteAll(ctx context.Context, aggregateID, aggregateType string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if m == nil {
		return errors.New("snapshot store is required")
	}
	aggregateID, aggregateType, err := ValidateKey(aggregateID, aggregateType)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.snapshots, memoryKey{aggregateType: aggregateType, aggregateID: aggregateID})
	return nil
}

func clone(snap Snapshot) Snapshot {
	snap.State = append([]byte(nil), snap.State...)
	return snap
}
