package sync_test

import (
	"context"
	"sync"
	"testing"

	syncpkg "github.com/warp/schedule-sync/sync"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// delivery captures reconciled snapshots.
type delivery struct {
	mu    sync.Mutex
	calls [][]syncpkg.Record
}

func (d *delivery) fn(_ string, records []syncpkg.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, records)
}

func (d *delivery) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *delivery) last() []syncpkg.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.calls) == 0 {
		return nil
	}
	return d.calls[len(d.calls)-1]
}

// =============================================================================
// STATE MACHINE TESTS
// =============================================================================

func TestReconciler_EmptySnapshotSuppressedBeforeRealData(t *testing.T) {
	// GIVEN: a fresh subscription that has never seen data
	// WHEN: an empty aggregate snapshot arrives
	// THEN: it is suppressed and the state stays no-data-seen
	client, _, _ := newTestClient(0)
	rec := syncpkg.NewReconciler(client)
	ctx := context.Background()

	var d delivery
	unsub, err := rec.Subscribe(ctx, "employees", d.fn)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	// BatchReplace with nothing writes an empty aggregate document; the
	// watch fires, but no real data has ever been seen.
	if err := client.BatchReplace(ctx, "employees", nil); err != nil {
		t.Fatalf("replace: %v", err)
	}

	if d.count() != 0 {
		t.Fatalf("empty snapshot before real data must be suppressed, got %d deliveries", d.count())
	}
	if rec.State("employees") != syncpkg.StateNoDataSeen {
		t.Fatalf("state: want no-data-seen, got %v", rec.State("employees"))
	}
}

func TestReconciler_EmptySnapshotDeliveredAfterRealData(t *testing.T) {
	// The §8-style concrete scenario: one employee exists, a subscriber
	// observes it (entering data-seen), then the collection is replaced
	// with []. That empty snapshot is an authoritative deletion.
	client, _, _ := newTestClient(0)
	rec := syncpkg.NewReconciler(client)
	ctx := context.Background()

	if err := client.BatchReplace(ctx, "employees", testRecords(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var d delivery
	unsub, err := rec.Subscribe(ctx, "employees", d.fn)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	// Initial snapshot delivers the existing record and flips the state.
	if d.count() != 1 || len(d.last()) != 1 {
		t.Fatalf("initial snapshot: want 1 delivery of 1 record, got %d deliveries", d.count())
	}
	if rec.State("employees") != syncpkg.StateDataSeen {
		t.Fatalf("state after real data: want data-seen, got %v", rec.State("employees"))
	}

	if err := client.BatchReplace(ctx, "employees", nil); err != nil {
		t.Fatalf("empty replace: %v", err)
	}

	if d.count() != 2 {
		t.Fatalf("authoritative deletion not delivered: %d deliveries", d.count())
	}
	if len(d.last()) != 0 {
		t.Fatalf("deletion delivery: want 0 records, got %d", len(d.last()))
	}
}

func TestReconciler_StateNeverRegresses(t *testing.T) {
	client, _, _ := newTestClient(0)
	rec := syncpkg.NewReconciler(client)
	ctx := context.Background()

	var d delivery
	unsub, _ := rec.Subscribe(ctx, "employees", d.fn)
	defer unsub()

	if err := client.BatchReplace(ctx, "employees", testRecords(2)); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := client.BatchReplace(ctx, "employees", nil); err != nil {
		t.Fatalf("empty replace: %v", err)
	}

	// data-seen survives the deletion: a later empty snapshot is still
	// delivered, not suppressed.
	if err := client.BatchReplace(ctx, "employees", nil); err != nil {
		t.Fatalf("second empty replace: %v", err)
	}
	if rec.State("employees") != syncpkg.StateDataSeen {
		t.Fatalf("state must never regress, got %v", rec.State("employees"))
	}
	if d.count() != 3 {
		t.Fatalf("want 3 deliveries (2 records, [], []), got %d", d.count())
	}
}

func TestReconciler_AbsentDocumentFallsBackToLegacyOnce(t *testing.T) {
	// GIVEN: no aggregate document, but legacy per-record data exists
	// WHEN: the subscription starts
	// THEN: the legacy records are delivered and the state flips
	client, _, _ := newTestClient(0)
	ctx := context.Background()
	if err := client.BatchCreate(ctx, "employees", testRecords(2)); err != nil {
		t.Fatalf("legacy seed: %v", err)
	}

	rec := syncpkg.NewReconciler(client)
	var d delivery
	unsub, err := rec.Subscribe(ctx, "employees", d.fn)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	if d.count() != 1 || len(d.last()) != 2 {
		t.Fatalf("legacy fallback: want 1 delivery of 2 records, got %d deliveries", d.count())
	}
	if rec.State("employees") != syncpkg.StateDataSeen {
		t.Fatalf("state: want data-seen, got %v", rec.State("employees"))
	}
}

func TestReconciler_AbsentDocumentStaysSilentWhenLegacyEmptyToo(t *testing.T) {
	client, _, _ := newTestClient(0)
	rec := syncpkg.NewReconciler(client)

	var d delivery
	unsub, err := rec.Subscribe(context.Background(), "employees", d.fn)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	if d.count() != 0 {
		t.Fatalf("want silence when neither source has data, got %d deliveries", d.count())
	}
	if rec.State("employees") != syncpkg.StateNoDataSeen {
		t.Fatalf("state: want no-data-seen, got %v", rec.State("employees"))
	}
}

func TestReconciler_ChunkedSnapshotDelivered(t *testing.T) {
	client, _, _ := newTestClient(10)
	rec := syncpkg.NewReconciler(client)
	ctx := context.Background()

	var d delivery
	unsub, _ := rec.Subscribe(ctx, "employees", d.fn)
	defer unsub()

	records := testRecords(25)
	if err := client.BatchReplace(ctx, "employees", records); err != nil {
		t.Fatalf("replace: %v", err)
	}

	if d.count() == 0 {
		t.Fatal("chunked snapshot not delivered")
	}
	sameRecords(t, records, d.last())
}
