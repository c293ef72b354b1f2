/*
reconciler.go - Change subscriber with empty-snapshot suppression

PURPOSE:
  Keeps a session's entity store live by subscribing to each collection's
  aggregate document. The hard part is not delivery - it is deciding
  whether an incoming snapshot is trustworthy. A client that reconnects
  before the aggregate document has propagated sees "empty" or "absent"
  and must not interpret that as "everything was deleted."

STATE MACHINE (per collection):
  StateNoDataSeen --(non-empty snapshot)--> StateDataSeen
  The transition is one-way for the lifetime of the subscription.

  In StateNoDataSeen:  empty snapshots are suppressed, absent documents
                       trigger one legacy per-record fallback read, then
                       silence until real data appears.
  In StateDataSeen:    an empty snapshot is an authoritative deletion and
                       is delivered as [].

ORDERING:
  Deliveries for one collection are serialized; cross-collection ordering
  follows the store's own notification order and is NOT coordinated.

SEE ALSO:
  - client.go: Chunk loading and legacy reads
  - loader.go: The startup counterpart of this component
*/
package sync

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// =============================================================================
// STATE
// =============================================================================

// CollectionState tracks whether a subscription has ever seen real data.
type CollectionState int

const (
	// StateNoDataSeen: no non-empty snapshot observed yet. Empty updates
	// may be "not yet synced" artifacts and are suppressed.
	StateNoDataSeen CollectionState = iota

	// StateDataSeen: a non-empty snapshot was observed. Empty updates are
	// genuine deletions.
	StateDataSeen
)

func (s CollectionState) String() string {
	if s == StateDataSeen {
		return "data-seen"
	}
	return "no-data-seen"
}

// DeliverFunc receives reconciled collection snapshots. records is nil or
// empty for an authoritative deletion.
type DeliverFunc func(collection string, records []Record)

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler owns the per-collection state machines and subscriptions.
type Reconciler struct {
	client  *Client
	metrics *Metrics

	mu            sync.Mutex
	state         map[string]CollectionState
	legacyChecked map[string]bool
}

// NewReconciler builds a reconciler over the given client.
func NewReconciler(client *Client) *Reconciler {
	return &Reconciler{
		client:        client,
		metrics:       client.metrics,
		state:         make(map[string]CollectionState),
		legacyChecked: make(map[string]bool),
	}
}

// State returns the current state for a collection (StateNoDataSeen when
// never subscribed).
func (r *Reconciler) State(collection string) CollectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state[collection]
}

// Subscribe attaches a live subscription to one collection's aggregate
// document. deliver runs for every snapshot that survives reconciliation.
// The returned function cancels the subscription.
func (r *Reconciler) Subscribe(ctx context.Context, collection string, deliver DeliverFunc) (func(), error) {
	var deliverMu sync.Mutex
	return r.client.store.Watch(r.client.tenant, AggregatedCollection, collection,
		func(data json.RawMessage, exists bool) {
			// Serialize deliveries for this collection.
			deliverMu.Lock()
			defer deliverMu.Unlock()
			r.handle(ctx, collection, data, exists, deliver)
		})
}

// handle is the reconciliation core: one incoming document state in, at
// most one delivery out. Split from Subscribe so the state machine is
// directly testable.
func (r *Reconciler) handle(ctx context.Context, collection string, data json.RawMessage, exists bool, deliver DeliverFunc) {
	if !exists {
		r.handleAbsent(ctx, collection, deliver)
		return
	}

	var parent AggregateDocument
	if err := json.Unmarshal(data, &parent); err != nil {
		log.Printf("sync: %s: corrupt aggregate snapshot dropped: %v", collection, err)
		return
	}

	var (
		records []Record
		err     error
	)
	if parent.Chunked {
		chunks, cerr := r.client.loadChunks(ctx, collection, parent.ChunkCount)
		if cerr != nil {
			log.Printf("sync: %s: chunk fetch failed, snapshot dropped: %v", collection, cerr)
			return
		}
		records, err = r.client.codec.Decode(parent, chunks)
		if err != nil {
			// A partially decoded live snapshot must not overwrite a full
			// local collection.
			log.Printf("sync: %s: partial snapshot dropped: %v", collection, err)
			return
		}
	} else {
		records, _ = r.client.codec.Decode(parent, nil)
	}

	r.deliverReconciled(collection, records, deliver)
}

// handleAbsent covers "document does not exist yet": check the legacy
// per-record collection once; if that, too, is empty, stay silent.
func (r *Reconciler) handleAbsent(ctx context.Context, collection string, deliver DeliverFunc) {
	r.mu.Lock()
	if r.state[collection] == StateDataSeen {
		// Aggregate document deleted after real data: authoritative.
		r.mu.Unlock()
		r.metrics.snapshotApplied()
		deliver(collection, nil)
		return
	}
	checked := r.legacyChecked[collection]
	r.legacyChecked[collection] = true
	r.mu.Unlock()

	if checked {
		r.metrics.snapshotSuppressed()
		return
	}

	records, err := r.client.ReadAll(ctx, collection)
	if err != nil {
		log.Printf("sync: %s: legacy fallback read failed: %v", collection, err)
		return
	}
	if len(records) == 0 {
		// Neither source has produced real data; keep local state.
		r.metrics.snapshotSuppressed()
		return
	}
	r.deliverReconciled(collection, records, deliver)
}

// deliverReconciled applies the two-state machine to a decoded snapshot.
func (r *Reconciler) deliverReconciled(collection string, records []Record, deliver DeliverFunc) {
	r.mu.Lock()
	state := r.state[collection]
	if len(records) > 0 {
		r.state[collection] = StateDataSeen
	}
	r.mu.Unlock()

	if len(records) == 0 && state == StateNoDataSeen {
		// "Not yet populated" race, not a deletion. Suppress.
		r.metrics.snapshotSuppressed()
		return
	}

	r.metrics.snapshotApplied()
	deliver(collection, records)
}
