package sync_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	memstore "github.com/warp/schedule-sync/sync/store"

	syncpkg "github.com/warp/schedule-sync/sync"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestClient(chunkSize int) (*syncpkg.Client, *memstore.Memory, *memstore.MemoryKV) {
	docs := memstore.NewMemory()
	kv := memstore.NewMemoryKV()
	client := syncpkg.NewClient(docs, kv, syncpkg.ClientConfig{
		Tenant:    "org-1",
		ChunkSize: chunkSize,
	})
	return client, docs, kv
}

// =============================================================================
// CRUD
// =============================================================================

func TestClient_CRUD(t *testing.T) {
	client, _, _ := newTestClient(0)
	ctx := context.Background()

	rec := syncpkg.Record{ID: "e1", Data: json.RawMessage(`{"id":"e1","name":"Ada"}`)}
	if err := client.Create(ctx, "employees", rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := client.Read(ctx, "employees", "e1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got.Data) != string(rec.Data) {
		t.Fatalf("read payload mismatch: %s", got.Data)
	}

	if _, err := client.Read(ctx, "employees", "missing"); !syncpkg.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}

	if err := client.Delete(ctx, "employees", "e1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := client.Read(ctx, "employees", "e1"); !syncpkg.IsNotFound(err) {
		t.Fatalf("want not found after delete, got %v", err)
	}
}

// =============================================================================
// BATCH REPLACE
// =============================================================================

func TestClient_BatchReplace_Idempotent(t *testing.T) {
	// GIVEN: a collection replaced with X
	// WHEN: replacing with the same X again
	// THEN: the second call succeeds and the collection still equals X
	client, _, _ := newTestClient(10)
	ctx := context.Background()
	records := testRecords(25)

	for i := 0; i < 2; i++ {
		if err := client.BatchReplace(ctx, "employees", records); err != nil {
			t.Fatalf("replace %d: %v", i, err)
		}
		got, err := client.LoadAggregated(ctx, "employees", false)
		if err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
		sameRecords(t, records, got)
	}
}

func TestClient_BatchReplace_PrunesStaleChunks(t *testing.T) {
	// A replace that shrinks a chunked collection must remove the surplus
	// chunk documents of the previous generation, or a later decode would
	// resurrect deleted records.
	client, docs, _ := newTestClient(10)
	ctx := context.Background()

	if err := client.BatchReplace(ctx, "employees", testRecords(35)); err != nil {
		t.Fatalf("big replace: %v", err)
	}
	if err := client.BatchReplace(ctx, "employees", testRecords(15)); err != nil {
		t.Fatalf("small replace: %v", err)
	}

	// Chunks 2 and 3 belonged to the 35-record generation.
	for _, id := range []string{"employees_chunk_2", "employees_chunk_3"} {
		if _, err := docs.Get(ctx, "org-1", "aggregated", id); !syncpkg.IsNotFound(err) {
			t.Fatalf("stale chunk %s still present (err=%v)", id, err)
		}
	}

	got, err := client.LoadAggregated(ctx, "employees", false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sameRecords(t, testRecords(15), got)
}

func TestClient_BatchReplace_EmptyWritesEmptyAggregate(t *testing.T) {
	client, docs, _ := newTestClient(0)
	ctx := context.Background()

	if err := client.BatchReplace(ctx, "employees", testRecords(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := client.BatchReplace(ctx, "employees", nil); err != nil {
		t.Fatalf("empty replace: %v", err)
	}

	data, err := docs.Get(ctx, "org-1", "aggregated", "employees")
	if err != nil {
		t.Fatalf("aggregate doc: %v", err)
	}
	var parent syncpkg.AggregateDocument
	if err := json.Unmarshal(data, &parent); err != nil {
		t.Fatalf("parse parent: %v", err)
	}
	if parent.Chunked || parent.Count != 0 {
		t.Fatalf("want empty non-chunked parent, got %+v", parent)
	}
}

func TestClient_LegacyReplace(t *testing.T) {
	docs := memstore.NewMemory()
	client := syncpkg.NewClient(docs, memstore.NewMemoryKV(), syncpkg.ClientConfig{
		Tenant: "org-1",
		Legacy: []string{"rules"},
	})
	ctx := context.Background()

	if err := client.BatchReplace(ctx, "rules", testRecords(3)); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if err := client.BatchReplace(ctx, "rules", testRecords(2)); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	// Legacy path stores per-record documents, no aggregate.
	records, err := client.ReadAll(ctx, "rules")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	sameRecords(t, testRecords(2), records)
	if _, err := docs.Get(ctx, "org-1", "aggregated", "rules"); !syncpkg.IsNotFound(err) {
		t.Fatalf("legacy collection must not gain an aggregate document (err=%v)", err)
	}
}

// =============================================================================
// AGGREGATED READS
// =============================================================================

func TestClient_LoadAggregated_NoDocumentMeansNil(t *testing.T) {
	// nil, nil is the signal to fall back to the legacy per-record path.
	client, _, _ := newTestClient(0)
	records, err := client.LoadAggregated(context.Background(), "employees", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if records != nil {
		t.Fatalf("want nil records, got %d", len(records))
	}
}

func TestClient_LoadAggregated_CacheHitSkipsStore(t *testing.T) {
	client, docs, _ := newTestClient(0)
	ctx := context.Background()

	if err := client.BatchReplace(ctx, "employees", testRecords(5)); err != nil {
		t.Fatalf("replace: %v", err)
	}

	// Store goes dark; the write-through cache entry must still serve.
	docs.FailReads = true
	records, err := client.LoadAggregated(ctx, "employees", true)
	if err != nil {
		t.Fatalf("cached load: %v", err)
	}
	sameRecords(t, testRecords(5), records)

	// Bypassing the cache hits the dark store.
	if _, err := client.LoadAggregated(ctx, "employees", false); err == nil {
		t.Fatal("uncached load should fail against a dark store")
	}
}

func TestClient_LoadAggregated_ExpiredCacheIgnored(t *testing.T) {
	client, _, kv := newTestClient(0)
	ctx := context.Background()

	// Hand-write an expired cache entry.
	entry := syncpkg.CacheEntry{
		Data:      []json.RawMessage{json.RawMessage(`{"id":"old"}`)},
		Timestamp: time.Now().Add(-25 * time.Hour),
	}
	raw, _ := json.Marshal(entry)
	if err := kv.Put(ctx, syncpkg.CacheKey("employees"), raw); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	// With no aggregate document either, the load reports nil (absent),
	// never the expired entry.
	records, err := client.LoadAggregated(ctx, "employees", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if records != nil {
		t.Fatalf("expired cache entry served: %v", records)
	}
}

// =============================================================================
// BATCH CREATE
// =============================================================================

func TestClient_BatchCreate_ManyGroups(t *testing.T) {
	docs := memstore.NewMemory()
	client := syncpkg.NewClient(docs, nil, syncpkg.ClientConfig{
		Tenant:     "org-1",
		BatchLimit: 10,
	})
	ctx := context.Background()

	if err := client.BatchCreate(ctx, "employees", testRecords(35)); err != nil {
		t.Fatalf("batch create: %v", err)
	}
	ids, err := docs.ListIDs(ctx, "org-1", "employees")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 35 {
		t.Fatalf("want 35 documents, got %d", len(ids))
	}
}

func TestClient_BatchCreate_FailureSurfacesCause(t *testing.T) {
	docs := memstore.NewMemory()
	docs.FailWrites = true
	client := syncpkg.NewClient(docs, nil, syncpkg.ClientConfig{Tenant: "org-1"})

	err := client.BatchCreate(context.Background(), "employees", testRecords(3))
	if !syncpkg.IsRetryable(err) {
		t.Fatalf("batch failure must be retryable, got %v", err)
	}
	var be *syncpkg.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("want *BatchError, got %T", err)
	}
	// The store's own error must stay matchable through the wrapper.
	if !errors.Is(err, memstore.ErrUnavailable) {
		t.Fatalf("store cause lost from error chain: %v", err)
	}
}

func TestClient_BatchReplace_OversizedDocumentRejected(t *testing.T) {
	client, _, _ := newTestClient(0)

	blob := make([]byte, syncpkg.MaxDocumentBytes)
	for i := range blob {
		blob[i] = 'x'
	}
	rec := syncpkg.Record{
		ID:   "big",
		Data: json.RawMessage(`{"id":"big","blob":"` + string(blob) + `"}`),
	}

	err := client.BatchReplace(context.Background(), "employees", []syncpkg.Record{rec})
	if !errors.Is(err, syncpkg.ErrDocumentTooLarge) {
		t.Fatalf("want ErrDocumentTooLarge, got %v", err)
	}
}
