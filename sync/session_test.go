package sync_test

import (
	"context"
	"errors"
	"testing"

	memstore "github.com/warp/schedule-sync/sync/store"

	syncpkg "github.com/warp/schedule-sync/sync"
)

func newTestSession(t *testing.T) (*syncpkg.Session, *memstore.Memory) {
	t.Helper()
	docs := memstore.NewMemory()
	session := syncpkg.NewSession(docs, memstore.NewMemoryKV(), syncpkg.SessionConfig{Tenant: "org-1"}, nil)
	t.Cleanup(session.Close)
	return session, docs
}

func TestSession_ReplaceOrQueue(t *testing.T) {
	session, docs := newTestSession(t)
	ctx := context.Background()

	queued, err := session.ReplaceOrQueue(ctx, "employees", testRecords(2))
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if queued {
		t.Fatal("healthy store write must not queue")
	}

	// Dark store: the payload parks in the queue instead of failing.
	docs.FailWrites = true
	queued, err = session.ReplaceOrQueue(ctx, "employees", testRecords(3))
	if err != nil {
		t.Fatalf("replace while dark: %v", err)
	}
	if !queued {
		t.Fatal("failed write must be queued")
	}

	// Reconnect: NotifyOnline drains; the queued payload wins.
	docs.FailWrites = false
	if err := session.NotifyOnline(ctx); err != nil {
		t.Fatalf("notify online: %v", err)
	}
	records, err := session.Client().LoadAggregated(ctx, "employees", false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sameRecords(t, testRecords(3), records)
}

func TestSession_CloseTearsDownSubscriptions(t *testing.T) {
	session, _ := newTestSession(t)
	ctx := context.Background()

	if err := session.Client().BatchReplace(ctx, "employees", testRecords(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var d delivery
	if err := session.OnChange(ctx, "employees", d.fn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	before := d.count()

	session.Close()
	session.Close() // idempotent

	// Writes after Close reach the store but no longer the listener.
	if err := session.Client().BatchReplace(ctx, "employees", testRecords(2)); err != nil {
		t.Fatalf("replace after close: %v", err)
	}
	if d.count() != before {
		t.Fatalf("closed session delivered a change: %d -> %d", before, d.count())
	}

	if err := session.OnChange(ctx, "employees", d.fn); !errors.Is(err, syncpkg.ErrSessionClosed) {
		t.Fatalf("want ErrSessionClosed, got %v", err)
	}
}
