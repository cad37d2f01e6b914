package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/aggregate"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/journal"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/snapshot"
)

const defaultPageSize = 200

var (
	// ErrJournalRequired indicates a missing event journal.
	ErrJournalRequired = errors.New("event journal is required")
	// ErrFolderRequired indicates a missing folder.
	ErrFolderRequired = errors.New("folder is required")
)

// Loaded is an aggregate instance ready for command handling.
type Loaded struct {
	State aggregate.State
	// SnapshotVersion is the event version of the snapshot the state was
	// restored from, zero when it was rebuilt from the first event.
	SnapshotVersion uint64
	Replayed        int
}

// StateLoader rebuilds aggregate state from the latest snapshot and the
// journal events recorded after it.
type StateLoader struct {
	Journal       journal.Store
	Snapshots     snapshot.Store // optional
	Folder        *aggregate.Folder
	SchemaVersion int
	PageSize      int
}

// Load returns the current state of one aggregate instance.
func (l StateLoader) Load(ctx context.Context, def *aggregate.Definition, aggregateID string) (Loaded, error) {
	if l.Journal == nil {
		return Loaded{}, ErrJournalRequired
	}
	if l.Folder == nil {
		return Loaded{}, ErrFolderRequired
	}
	loaded := Loaded{State: aggregate.NewState(def)}
	if l.Snapshots != nil {
		snap, err := snapshot.LoadLatest(ctx, l.Snapshots, aggregateID, def.Type)
		switch {
		case err == nil:
			state, err := snapshot.Restore(snap, def, l.SchemaVersion)
			if err != nil {
				// Unreadable snapshots fall back to a full replay.
				log.Printf("restore %s/%s snapshot v%d: %v", def.Type, aggregateID, snap.EventVersion, err)
				break
			}
			loaded.State = state
			loaded.SnapshotVersion = snap.EventVersion
		case errors.Is(err, snapshot.ErrNotFound):
		default:
			return Loaded{}, fmt.Errorf("load snapshot: %w", err)
		}
	}

	pageSize := l.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	for {
		events, err := l.Journal.List(ctx, def.Type, aggregateID, loaded.State.Version, pageSize)
		if err != nil {
			return Loaded{}, fmt.Errorf("list events: %w", err)
		}
		for _, evt := range events {
			if evt.Version != loaded.State.Version+1 {
				return Loaded{}, fmt.Errorf("event version gap: expected %d got %d", loaded.State.Version+1, evt.Version)
			}
			loaded.State = l.Folder.Apply(loaded.State, evt)
			// A failed fold leaves state untouched; the event still counts.
			loaded.State.Version = evt.Version
			loaded.Replayed++
		}
		if len(events) < pageSize {
			return loaded, nil
		}
	}
}
