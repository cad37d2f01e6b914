package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/event"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/journal"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/param"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/snapshot"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func depositEvent(version uint64, amount int) event.Event {
	return event.Event{
		ID:            fmt.Sprintf("evt-%d", version),
		Name:          "funds_deposited",
		AggregateType: "account",
		AggregateID:   "acc-1",
		Version:       version,
		Fields:        []string{"id", "amount"},
		Values:        param.Map{"id": "acc-1", "amount": amount},
		Timestamp:     time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for v := uint64(1); v <= 3; v++ {
		_, err := store.Append(ctx, depositEvent(v, int(v)*10))
		require.NoError(t, err)
	}

	events, err := store.List(ctx, "account", "acc-1", 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].Version)
	assert.Equal(t, 20, events[0].Values["amount"])
	assert.Equal(t, []string{"id", "amount"}, events[0].Fields)
	assert.True(t, events[0].Timestamp.Equal(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)))

	limited, err := store.List(ctx, "account", "acc-1", 0, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, uint64(1), limited[0].Version)
}

func TestAppendRejectsVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Append(ctx, depositEvent(1, 10))
	require.NoError(t, err)
	_, err = store.Append(ctx, depositEvent(1, 10))
	assert.ErrorIs(t, err, journal.ErrVersionConflict)
	_, err = store.Append(ctx, depositEvent(5, 10))
	assert.ErrorIs(t, err, journal.ErrVersionConflict)
}

func TestTransactionRollsBackJoinedAppends(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	boom := errors.New("boom")

	_, err := store.Transaction(ctx, func(ctx context.Context) (any, error) {
		if _, err := store.Append(ctx, depositEvent(1, 10)); err != nil {
			return nil, err
		}
		return nil, boom
	}, transaction.Options{})
	assert.ErrorIs(t, err, boom)

	events, err := store.List(ctx, "account", "acc-1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTransactionThroughRun(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	out, err := transaction.Run(ctx, store, func(ctx context.Context) (any, error) {
		_, ok := transaction.TxFromContext(ctx)
		assert.True(t, ok)
		return store.Append(ctx, depositEvent(1, 10))
	}, transaction.Options{Timeout: time.Second, Isolation: transaction.Serializable})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.(event.Event).Version)
}

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	snapshots := openTestStore(t).Snapshots()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := snapshots.Get(ctx, "u1", "user")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	require.NoError(t, snapshots.Put(ctx, snapshot.Snapshot{ID: "s10", AggregateID: "u1", AggregateType: "user", SchemaVersion: 1, State: []byte{1}, EventVersion: 10, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, snapshots.Put(ctx, snapshot.Snapshot{ID: "s25", AggregateID: "u1", AggregateType: "user", SchemaVersion: 1, State: []byte{2}, EventVersion: 25, CreatedAt: base}))

	latest, err := snapshot.LoadLatest(ctx, snapshots, "u1", "user")
	require.NoError(t, err)
	assert.Equal(t, uint64(25), latest.EventVersion)
	assert.Equal(t, []byte{2}, latest.State)

	got, err := snapshots.Get(ctx, "u1", "user")
	require.NoError(t, err)
	assert.Equal(t, "s25", got.ID)

	require.NoError(t, snapshots.Put(ctx, snapshot.Snapshot{ID: "s25b", AggregateID: "u1", AggregateType: "user", SchemaVersion: 1, State: []byte{3}, EventVersion: 25, CreatedAt: base}))
	list, err := snapshots.List(ctx, "u1", "user")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s10", list[0].ID)
	assert.Equal(t, "s25b", list[1].ID)

	require.NoError(t, snapshots.DeleteAll(ctx, "u1", "user"))
	_, err = snapshots.Get(ctx, "u1", "user")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestSnapshotStoreConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	snapshots := openTestStore(t).Snapshots()

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(version uint64) {
			defer wg.Done()
			assert.NoError(t, snapshots.Put(ctx, snapshot.Snapshot{ID: "s", AggregateID: "u1", AggregateType: "user", State: []byte{0}, EventVersion: version, CreatedAt: time.Now()}))
		}(uint64(i))
	}
	wg.Wait()

	latest, err := snapshots.Get(ctx, "u1", "user")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), latest.EventVersion)
}
