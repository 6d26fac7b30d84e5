package store_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newSQLite(t *testing.T) *store.SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "microplan.db")
	s, err := store.OpenSQL(context.Background(), store.DriverSQLite, dsn, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Run("memory", func(t *testing.T) {
		st := store.NewMemoryStore(logger)
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newSQLite(t))
	})
}

func recv(t *testing.T, sub *store.Subscription) store.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return store.Snapshot{}
	}
}

func TestWriteThenFetch(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		st.Write(ctx, store.CollectionStockItems, store.Document{ID: "s1", Fields: map[string]any{"name": "Male condoms", "currentStock": 40}})
		st.Write(ctx, store.CollectionStockItems, store.Document{ID: "s2", Fields: map[string]any{"name": "Lubricant", "currentStock": 0}})
		require.NoError(t, st.Flush(ctx))

		docs, err := store.Fetch(ctx, st, store.Query{Collection: store.CollectionStockItems})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "s1", docs[0].ID)
		assert.Equal(t, float64(40), docs[0].Fields["currentStock"])
	})
}

func TestWrite_Upserts(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		st.Write(ctx, store.CollectionKPRegistry, store.Document{ID: "k1", Fields: map[string]any{"meetingCount": 1}})
		st.Write(ctx, store.CollectionKPRegistry, store.Document{ID: "k1", Fields: map[string]any{"meetingCount": 2}})
		require.NoError(t, st.Flush(ctx))

		docs, err := store.Fetch(ctx, st, store.Query{Collection: store.CollectionKPRegistry})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, float64(2), docs[0].Fields["meetingCount"])
	})
}

func TestFetch_Filters(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		st.Write(ctx, store.CollectionOutreachVisits, store.Document{ID: "a", Fields: map[string]any{"ward": "Mbare", "uin": "V-M-10001"}})
		st.Write(ctx, store.CollectionOutreachVisits, store.Document{ID: "b", Fields: map[string]any{"ward": "Epworth", "uin": "V-E-10002"}})
		st.Write(ctx, store.CollectionOutreachVisits, store.Document{ID: "c", Fields: map[string]any{"ward": "Mbare", "uin": "M-M-10003"}})
		require.NoError(t, st.Flush(ctx))

		docs, err := store.Fetch(ctx, st, store.Query{
			Collection: store.CollectionOutreachVisits,
			Where:      []store.Filter{{Field: "ward", Value: "Mbare"}},
		})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "a", docs[0].ID)
		assert.Equal(t, "c", docs[1].ID)
	})
}

func TestSubscribe_InitialAndUpdates(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		sub, err := st.Subscribe(ctx, store.Query{Collection: store.CollectionHotspotProfiles})
		require.NoError(t, err)
		defer sub.Close()

		assert.Empty(t, recv(t, sub).Docs)

		st.Write(ctx, store.CollectionHotspotProfiles, store.Document{ID: "h1", Fields: map[string]any{"hotspotName": "Bus Rank"}})
		require.NoError(t, st.Flush(ctx))
		snap := recv(t, sub)
		assert.Equal(t, store.CollectionHotspotProfiles, snap.Collection)
		require.Len(t, snap.Docs, 1)
		assert.Equal(t, "Bus Rank", snap.Docs[0].Fields["hotspotName"])
	})
}

func TestSubscribe_OtherCollectionsDoNotNotify(t *testing.T) {
	st := store.NewMemoryStore(logger)
	defer st.Close()
	ctx := context.Background()

	sub, err := st.Subscribe(ctx, store.Query{Collection: store.CollectionStockItems})
	require.NoError(t, err)
	defer sub.Close()
	recv(t, sub)

	st.Write(ctx, store.CollectionKPRegistry, store.Document{ID: "k1", Fields: map[string]any{}})
	select {
	case snap := <-sub.C():
		t.Fatalf("unexpected snapshot %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_SlowConsumerSeesLatest(t *testing.T) {
	st := store.NewMemoryStore(logger)
	defer st.Close()
	ctx := context.Background()

	sub, err := st.Subscribe(ctx, store.Query{Collection: store.CollectionStockItems})
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 20; i++ {
		st.Write(ctx, store.CollectionStockItems, store.Document{ID: "s1", Fields: map[string]any{"currentStock": i}})
	}
	snap := recv(t, sub)
	require.Len(t, snap.Docs, 1)
	assert.Equal(t, float64(19), snap.Docs[0].Fields["currentStock"])
}

func TestSubscribe_MonotonicUnderConcurrentWrites(t *testing.T) {
	st := store.NewMemoryStore(logger)
	defer st.Close()
	ctx := context.Background()

	sub, err := st.Subscribe(ctx, store.Query{Collection: store.CollectionOutreachVisits})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				st.Write(ctx, store.CollectionOutreachVisits, store.Document{Fields: map[string]any{"writer": w}})
			}
		}(w)
	}
	wg.Wait()

	last := -1
	deadline := time.After(2 * time.Second)
	for last < 100 {
		select {
		case snap := <-sub.C():
			assert.GreaterOrEqual(t, len(snap.Docs), last, "snapshots must never go back in time")
			last = len(snap.Docs)
		case <-deadline:
			t.Fatalf("last snapshot had %d docs", last)
		}
	}
	sub.Close()
}

func TestSubscribe_EndsOnContextCancel(t *testing.T) {
	st := store.NewMemoryStore(logger)
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := st.Subscribe(ctx, store.Query{Collection: store.CollectionStockItems})
	require.NoError(t, err)
	recv(t, sub)
	cancel()

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	assert.Eventually(t, func() bool { return st.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	sub.Close()
}

func TestSubscribe_CloseIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore(logger)
	defer st.Close()
	sub, err := st.Subscribe(context.Background(), store.Query{Collection: store.CollectionStockItems})
	require.NoError(t, err)
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, st.Subscribers())
}

func TestSubscribe_RequiresCollection(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		_, err := st.Subscribe(context.Background(), store.Query{})
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestClose_EndsSubscriptions(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		sub, err := st.Subscribe(context.Background(), store.Query{Collection: store.CollectionStockItems})
		require.NoError(t, err)
		recv(t, sub)
		require.NoError(t, st.Close())

		_, ok := <-sub.C()
		assert.False(t, ok)
		_, ok = <-st.Errors()
		assert.False(t, ok, "errors channel closed")

		_, err = st.Subscribe(context.Background(), store.Query{Collection: store.CollectionStockItems})
		assert.ErrorIs(t, err, store.ErrClosed)
	})
}

func TestMemoryStore_PermissionDenied(t *testing.T) {
	denied := errors.New("PERMISSION_DENIED")
	st := store.NewMemoryStore(logger, store.WithPermission(func(op, path string, _ store.Document) error {
		if op == store.OpWrite && strings.HasPrefix(path, store.CollectionKPRegistry+"/") {
			return denied
		}
		return nil
	}))
	defer st.Close()
	ctx := context.Background()

	st.Write(ctx, store.CollectionKPRegistry, store.Document{ID: "k1", Fields: map[string]any{"uin": "V-M-12345"}})

	select {
	case se := <-st.Errors():
		assert.Equal(t, "kpRegistry/k1", se.Path)
		assert.Equal(t, store.OpWrite, se.Operation)
		assert.ErrorIs(t, se, denied)
		assert.ErrorIs(t, se, models.ErrStoreUnavailable)
		assert.Equal(t, map[string]any{"uin": "V-M-12345"}, se.AttemptedData)
	case <-time.After(time.Second):
		t.Fatal("no store error published")
	}
	assert.Equal(t, 0, st.Len(store.CollectionKPRegistry))

	// Other collections are unaffected.
	st.Write(ctx, store.CollectionStockItems, store.Document{ID: "s1", Fields: map[string]any{}})
	assert.Equal(t, 1, st.Len(store.CollectionStockItems))
}

func TestMemoryStore_ReadDenied(t *testing.T) {
	st := store.NewMemoryStore(logger, store.WithPermission(func(op, _ string, _ store.Document) error {
		if op == store.OpRead {
			return errors.New("denied")
		}
		return nil
	}))
	defer st.Close()
	_, err := store.Fetch(context.Background(), st, store.Query{Collection: store.CollectionStockItems})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestWrite_AssignsID(t *testing.T) {
	backends(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		st.Write(ctx, store.CollectionOutreachVisits, store.Document{Fields: map[string]any{"uin": "x"}})
		require.NoError(t, st.Flush(ctx))
		docs, err := store.Fetch(ctx, st, store.Query{Collection: store.CollectionOutreachVisits})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Len(t, docs[0].ID, 36)
	})
}

func TestSQLStore_WriteAfterClose(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "closed.db")
	st, err := store.OpenSQL(context.Background(), store.DriverSQLite, dsn, logger)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st.Write(context.Background(), store.CollectionStockItems, store.Document{ID: "s1"})
	assert.ErrorIs(t, st.Flush(context.Background()), store.ErrClosed)
}

func TestSQLStore_Reopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	st, err := store.OpenSQL(ctx, store.DriverSQLite, dsn, logger)
	require.NoError(t, err)
	st.Write(ctx, store.CollectionStockItems, store.Document{ID: "s1", Fields: map[string]any{"name": "HIVST kits"}})
	require.NoError(t, st.Close())

	st, err = store.OpenSQL(ctx, store.DriverSQLite, dsn, logger)
	require.NoError(t, err)
	defer st.Close()
	docs, err := store.Fetch(ctx, st, store.Query{Collection: store.CollectionStockItems})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "HIVST kits", docs[0].Fields["name"])
}

func TestOpenSQL_UnknownDriver(t *testing.T) {
	_, err := store.OpenSQL(context.Background(), "oracle", "", logger)
	assert.Error(t, err)
}
