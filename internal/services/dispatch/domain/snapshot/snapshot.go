// Package snapshot captures and restores serialized aggregate state so loads
// only replay the events recorded after the capture.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/eventcore/internal/platform/id"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/aggregate"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
	"github.com/louisbranch/eventcore/internal/services/dispatch/storage/codec"
)

var (
	// ErrNotFound indicates no snapshot exists for an aggregate.
	ErrNotFound = errors.New("snapshot not found")
	// ErrSchemaMismatch indicates a snapshot written under another state schema.
	ErrSchemaMismatch = errors.New("snapshot schema version mismatch")
	// ErrAggregateIDRequired indicates a missing aggregate id.
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	// ErrAggregateTypeRequired indicates a missing aggregate type.
	ErrAggregateTypeRequired = errors.New("aggregate type is required")
)

// Snapshot is a captured aggregate state at an event version.
type Snapshot struct {
	ID            string
	AggregateID   string
	AggregateType string
	SchemaVersion int
	State         []byte // codec-encoded state values
	EventVersion  uint64
	CreatedAt     time.Time
}

// Store persists snapshots. Implementations must be safe for concurrent use;
// a Put for an existing (aggregate, version) replaces it.
type Store interface {
	// Get returns the latest snapshot or ErrNotFound.
	Get(ctx context.Context, aggregateID, aggregateType string) (Snapshot, error)
	// List returns every snapshot for an aggregate.
	List(ctx context.Context, aggregateID, aggregateType string) ([]Snapshot, error)
	Put(ctx context.Context, snap Snapshot) error
	DeleteAll(ctx context.Context, aggregateID, aggregateType string) error
}

// ShouldSnapshot reports whether enough events were applied since the last
// snapshot. A non-positive threshold disables snapshots.
func ShouldSnapshot(eventsSinceLast, threshold int) bool {
	return threshold > 0 && eventsSinceLast >= threshold
}

// Create captures state at version. It panics when state has no identity:
// snapshotting an aggregate that was never created is a programming error.
func Create(state aggregate.State, aggregateType string, version uint64, schemaVersion int) (Snapshot, error) {
	identity := state.IdentityString()
	if identity == "" {
		panic(fmt.Sprintf("snapshot: %s state has no identity in field %q", aggregateType, state.IdentityField))
	}
	c, err := codec.Default()
	if err != nil {
		return Snapshot{}, err
	}
	data, err := c.Encode(map[string]any(state.Values))
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot state: %w", err)
	}
	snapshotID, err := id.NewID()
	if err != nil {
		return Snapshot{}, fmt.Errorf("generate snapshot id: %w", err)
	}
	return Snapshot{
		ID:            snapshotID,
		AggregateID:   identity,
		AggregateType: aggregateType,
		SchemaVersion: schemaVersion,
		State:         data,
		EventVersion:  version,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// LoadLatest returns the snapshot with the highest event version. Ties are
// broken by the latest creation time, then by id.
func LoadLatest(ctx context.Context, store Store, aggregateID, aggregateType string) (Snapshot, error) {
	if store == nil {
		return Snapshot{}, errors.New("snapshot store is required")
	}
	snapshots, err := store.List(ctx, aggregateID, aggregateType)
	if err != nil {
		return Snapshot{}, err
	}
	latest, ok := Latest(snapshots)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return latest, nil
}

// Latest selects the newest snapshot from snapshots.
func Latest(snapshots []Snapshot) (Snapshot, bool) {
	if len(snapshots) == 0 {
		return Snapshot{}, false
	}
	best := snapshots[0]
	for _, candidate := range snapshots[1:] {
		if newer(candidate, best) {
			best = candidate
		}
	}
	return best, true
}

func newer(a, b Snapshot) bool {
	if a.EventVersion != b.EventVersion {
		return a.EventVersion > b.EventVersion
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Sort orders snapshots oldest first.
func Sort(snapshots []Snapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		return newer(snapshots[j], snapshots[i])
	})
}

// Restore rebuilds aggregate state from snap. Snapshots written under another
// schema version return ErrSchemaMismatch so callers replay from scratch.
func Restore(snap Snapshot, def *aggregate.Definition, schemaVersion int) (aggregate.State, error) {
	if def == nil {
		return aggregate.State{}, errors.New("aggregate definition is required")
	}
	if snap.AggregateType != def.Type {
		return aggregate.State{}, fmt.Errorf("restore %s snapshot as %s", snap.AggregateType, def.Type)
	}
	if snap.SchemaVersion != schemaVersion {
		return aggregate.State{}, fmt.Errorf("%w: have %d, want %d", ErrSchemaMismatch, snap.SchemaVersion, schemaVersion)
	}
	c, err := codec.Default()
	if err != nil {
		return aggregate.State{}, err
	}
	values, err := c.DecodeMap(snap.State)
	if err != nil {
		return aggregate.State{}, fmt.Errorf("decode snapshot state: %w", err)
	}
	state := aggregate.NewState(def)
	state.Values = param.Map(values)
	state.Version = snap.EventVersion
	return state, nil
}

// ValidateKey trims and checks an aggregate key.
func ValidateKey(aggregateID, aggregateType string) (string, string, error) {
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return "", "", ErrAggregateIDRequired
	}
	aggregateType = strings.TrimSpace(aggregateType)
	if aggregateType == "" {
		return "", "", ErrAggregateTypeRequired
	}
	return aggregateID, aggregateType, nil
}
