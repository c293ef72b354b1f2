package sqlite_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/schedule-sync/store/sqlite"
	syncpkg "github.com/warp/schedule-sync/sync"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStore_DocumentCRUD(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.Get(ctx, "org-1", "employees", "e1")
	assert.True(t, syncpkg.IsNotFound(err))

	require.NoError(t, st.Set(ctx, "org-1", "employees", "e1", json.RawMessage(`{"id":"e1","name":"Ada"}`)))
	data, err := st.Get(ctx, "org-1", "employees", "e1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"e1","name":"Ada"}`, string(data))

	// Upsert overwrites in place.
	require.NoError(t, st.Set(ctx, "org-1", "employees", "e1", json.RawMessage(`{"id":"e1","name":"Ada L."}`)))
	data, err = st.Get(ctx, "org-1", "employees", "e1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"e1","name":"Ada L."}`, string(data))

	require.NoError(t, st.Delete(ctx, "org-1", "employees", "e1"))
	_, err = st.Get(ctx, "org-1", "employees", "e1")
	assert.True(t, syncpkg.IsNotFound(err))

	// Deleting a missing document is a no-op, not an error.
	assert.NoError(t, st.Delete(ctx, "org-1", "employees", "e1"))
}

func TestStore_TenantsAreIsolated(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "org-1", "employees", "e1", json.RawMessage(`{"id":"e1"}`)))
	require.NoError(t, st.Set(ctx, "org-2", "employees", "e1", json.RawMessage(`{"id":"e1","other":true}`)))

	ids, err := st.ListIDs(ctx, "org-1", "employees")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids)

	require.NoError(t, st.Delete(ctx, "org-1", "employees", "e1"))
	_, err = st.Get(ctx, "org-2", "employees", "e1")
	assert.NoError(t, err, "org-2's copy must survive org-1's delete")
}

func TestStore_ListAndListIDs(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.Set(ctx, "org-1", "shiftTypes", id, json.RawMessage(`{"id":"`+id+`"}`)))
	}

	docs, err := st.List(ctx, "org-1", "shiftTypes")
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	assert.Contains(t, docs, "b")

	ids, err := st.ListIDs(ctx, "org-1", "shiftTypes")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestStore_WatchDeliversInitialStateAndChanges(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	type event struct {
		data   json.RawMessage
		exists bool
	}
	var events []event
	record := func(data json.RawMessage, exists bool) {
		events = append(events, event{data, exists})
	}

	// GIVEN: a document that already exists
	require.NoError(t, st.Set(ctx, "org-1", "aggregated", "employees", json.RawMessage(`{"v":1}`)))

	// WHEN: subscribing, updating, then deleting
	unsub, err := st.Watch("org-1", "aggregated", "employees", record)
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "org-1", "aggregated", "employees", json.RawMessage(`{"v":2}`)))
	require.NoError(t, st.Delete(ctx, "org-1", "aggregated", "employees"))

	// THEN: initial snapshot, update, and deletion all arrive in order
	require.Len(t, events, 3)
	assert.True(t, events[0].exists)
	assert.JSONEq(t, `{"v":1}`, string(events[0].data))
	assert.JSONEq(t, `{"v":2}`, string(events[1].data))
	assert.False(t, events[2].exists)

	// After unsubscribe nothing more arrives.
	unsub()
	require.NoError(t, st.Set(ctx, "org-1", "aggregated", "employees", json.RawMessage(`{"v":3}`)))
	assert.Len(t, events, 3)
}

func TestStore_WatchMissingDocumentReportsAbsent(t *testing.T) {
	st := newStore(t)

	var gotData json.RawMessage
	gotExists := true
	unsub, err := st.Watch("org-1", "aggregated", "rules", func(data json.RawMessage, exists bool) {
		gotData, gotExists = data, exists
	})
	require.NoError(t, err)
	defer unsub()

	assert.Nil(t, gotData)
	assert.False(t, gotExists)
}

func TestStore_DeleteOfMissingDocumentDoesNotNotify(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	calls := 0
	unsub, err := st.Watch("org-1", "employees", "ghost", func(json.RawMessage, bool) { calls++ })
	require.NoError(t, err)
	defer unsub()
	require.Equal(t, 1, calls) // the initial absent snapshot

	require.NoError(t, st.Delete(ctx, "org-1", "employees", "ghost"))
	assert.Equal(t, 1, calls)
}

func TestStore_KV(t *testing.T) {
	st := newStore(t)
	kv := st.KV()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "hybrid_cache_employees")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Put(ctx, "hybrid_cache_employees", json.RawMessage(`{"data":[]}`)))
	require.NoError(t, kv.Put(ctx, "sync_queue_employees", json.RawMessage(`[]`)))
	require.NoError(t, kv.Put(ctx, "sync_queue_schedules", json.RawMessage(`[]`)))

	value, ok, err := kv.Get(ctx, "hybrid_cache_employees")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"data":[]}`, string(value))

	// Overwrite.
	require.NoError(t, kv.Put(ctx, "hybrid_cache_employees", json.RawMessage(`{"data":[1]}`)))
	value, _, err = kv.Get(ctx, "hybrid_cache_employees")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[1]}`, string(value))

	keys, err := kv.Keys(ctx, "sync_queue_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sync_queue_employees", "sync_queue_schedules"}, keys)

	require.NoError(t, kv.Delete(ctx, "hybrid_cache_employees"))
	_, ok, err = kv.Get(ctx, "hybrid_cache_employees")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_EndToEndWithClient(t *testing.T) {
	// The sqlite store must satisfy the sync engine the same way the
	// in-memory store does: a bulk replace round-trips through chunked
	// aggregate documents on disk.
	st := newStore(t)
	client := syncpkg.NewClient(st, st.KV(), syncpkg.ClientConfig{Tenant: "org-1", ChunkSize: 10})
	ctx := context.Background()

	records := make([]syncpkg.Record, 25)
	for i := range records {
		id := string(rune('a'+i/5)) + string(rune('a'+i%5))
		raw, err := json.Marshal(map[string]any{"id": id, "n": i})
		require.NoError(t, err)
		records[i] = syncpkg.Record{ID: id, Data: raw}
	}

	require.NoError(t, client.BatchReplace(ctx, "employees", records))

	loaded, err := client.LoadAggregated(ctx, "employees", false)
	require.NoError(t, err)
	assert.Len(t, loaded, 25)
}
