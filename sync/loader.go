/*
loader.go - Cache-first startup loader with snapshot fallback

PURPOSE:
  Populates the session's entity store at startup. Three tiers:
    1. Remote store, aggregated cache-first read, all collections in
       parallel (falling back per-collection to the legacy per-record
       path when no aggregate document exists).
    2. Local durable snapshot, when tier 1 fails outright.
    3. ErrNoDataAvailable - terminal, user-visible, not retried.

SUSPICIOUS-EMPTY GUARD:
  A freshly reconnected client can read a legitimately-formed but stale
  "everything empty" result from the remote store before its own writes
  have synced down. If every key collection comes back empty while the
  local snapshot holds real data, the snapshot wins and the dataset is
  flagged NeedsReconcile so the caller pushes it back to the remote
  store. Without this guard one bad startup read erases a tenant.

SEE ALSO:
  - client.go: LoadAggregated / ReadAll
  - reconciler.go: Keeps the loaded data live afterwards
*/
package sync

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// DATASET
// =============================================================================

// Dataset is the result of a full load: every collection, plus flags
// describing where it came from.
type Dataset struct {
	Collections map[string][]Record

	// FromSnapshot is true when the data came from the local durable
	// snapshot rather than the remote store.
	FromSnapshot bool

	// NeedsReconcile is true when local snapshot data was preferred over a
	// suspicious empty remote read and should be written back.
	NeedsReconcile bool
}

// Records returns one collection's records (nil when empty).
func (d *Dataset) Records(collection string) []Record {
	if d == nil || d.Collections == nil {
		return nil
	}
	return d.Collections[collection]
}

// =============================================================================
// LOADER
// =============================================================================

// Loader performs the tiered startup load.
type Loader struct {
	client *Client
	kv     KV
	ttl    time.Duration
	now    func() time.Time
}

// NewLoader builds a loader sharing the client's cache store.
func NewLoader(client *Client, kv KV) *Loader {
	return &Loader{client: client, kv: kv, ttl: client.ttl, now: time.Now}
}

// LoadAll loads every collection. See the file header for the tier order.
func (l *Loader) LoadAll(ctx context.Context) (*Dataset, error) {
	// Capture the snapshot before the remote fan-out. Successful remote
	// reads write through to the same cache keys, so an empty remote
	// result would otherwise overwrite the very evidence the
	// suspicious-empty guard needs. The capture ignores the snapshot
	// TTL: a stale snapshot is still evidence that real data existed,
	// and the NeedsReconcile push-back repairs the remote store either
	// way.
	prior, _ := l.loadSnapshot(ctx, true)

	ds := &Dataset{Collections: make(map[string][]Record)}

	var (
		mu      sync.Mutex
		loadErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultFanOut)
	for _, collection := range Collections() {
		collection := collection
		g.Go(func() error {
			records, err := l.loadCollection(gctx, collection)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Remember the failure but let sibling loads finish; a
				// single hard failure sends the whole load to tier 2.
				if loadErr == nil {
					loadErr = err
				}
				return nil
			}
			ds.Collections[collection] = records
			return nil
		})
	}
	_ = g.Wait()

	if loadErr != nil {
		log.Printf("sync: remote load failed, falling back to local snapshot: %v", loadErr)
		return l.loadSnapshot(ctx, false)
	}

	// Suspicious-empty guard, judged against the pre-load capture.
	if l.allKeyCollectionsEmpty(ds) && prior != nil && !l.allKeyCollectionsEmpty(prior) {
		log.Printf("sync: remote returned empty key collections, preferring local snapshot")
		prior.NeedsReconcile = true
		return prior, nil
	}

	l.persistSnapshot(ctx, ds)
	return ds, nil
}

// loadCollection reads one collection: aggregated cache-first, legacy
// per-record fallback when no aggregate document exists.
func (l *Loader) loadCollection(ctx context.Context, collection string) ([]Record, error) {
	records, err := l.client.LoadAggregated(ctx, collection, true)
	if err != nil {
		return nil, err
	}
	if records == nil {
		return l.client.ReadAll(ctx, collection)
	}
	return records, nil
}

func (l *Loader) allKeyCollectionsEmpty(ds *Dataset) bool {
	for _, collection := range KeyCollections() {
		if len(ds.Records(collection)) > 0 {
			return false
		}
	}
	return true
}

// =============================================================================
// LOCAL SNAPSHOT
// =============================================================================

// loadSnapshot reassembles a dataset from the hybrid cache entries.
// Entries older than the TTL are skipped as if absent unless
// ignoreExpired is set. When no collection has usable data the load
// fails with ErrNoDataAvailable.
func (l *Loader) loadSnapshot(ctx context.Context, ignoreExpired bool) (*Dataset, error) {
	if l.kv == nil {
		return nil, ErrNoDataAvailable
	}
	ds := &Dataset{Collections: make(map[string][]Record), FromSnapshot: true}
	found := false
	for _, collection := range Collections() {
		raw, ok, err := l.kv.Get(ctx, CacheKey(collection))
		if err != nil || !ok {
			continue
		}
		var entry CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if !ignoreExpired && l.now().Sub(entry.Timestamp) > l.ttl {
			continue
		}
		ds.Collections[collection] = toRecords(entry.Data)
		found = true
	}
	if !found {
		return nil, ErrNoDataAvailable
	}
	return ds, nil
}

// persistSnapshot writes fresh cache entries for every loaded collection.
// Failures are swallowed; the snapshot is a regenerable accelerator.
func (l *Loader) persistSnapshot(ctx context.Context, ds *Dataset) {
	if l.kv == nil {
		return
	}
	for collection, records := range ds.Collections {
		l.client.writeCache(ctx, collection, records)
	}
}
