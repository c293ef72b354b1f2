/*
types.go - Core types and storage interfaces for the sync engine

PURPOSE:
  Defines the contract between the sync engine and its storage backends.
  The engine itself is backend-agnostic: it talks to a remote document
  store and a local durable key-value cache through the interfaces here.

KEY INTERFACES:
  DocumentStore: Remote tenant-scoped document database
  KV:            Local durable key-value cache (hybrid cache + sync queue)

DOCUMENT ADDRESSING:
  Every document lives under tenants/{tenant}/{collection}/{id}.
  Aggregated documents live under the reserved "aggregated" collection:
    tenants/{tenant}/aggregated/{collection}           parent document
    tenants/{tenant}/aggregated/{collection}_chunk_{n} chunk siblings

RECORDS:
  A Record is one logical entity as the store sees it: an opaque JSON
  payload plus its id. The id is duplicated inside the payload (every
  entity marshals with an "id" field), which is what makes bulk replace
  idempotent and lets the aggregation codec recover ids on decode.

IMPLEMENTATIONS:
  - sync/store/memory.go: In-memory (tests, dev)
  - store/sqlite/sqlite.go: Production SQLite

SEE ALSO:
  - client.go: Remote store client built on DocumentStore
  - aggregate.go: Aggregation codec
  - loader.go: Cache-first loader built on KV
*/
package sync

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// =============================================================================
// COLLECTIONS
// =============================================================================

// Collection names exposed to external collaborators.
const (
	CollectionEmployees  = "employees"
	CollectionShiftTypes = "shiftTypes"
	CollectionJobRoles   = "jobRoles"
	CollectionSchedules  = "schedules"
	CollectionRules      = "rules"
)

// Collections lists every collection the engine manages, in load order.
func Collections() []string {
	return []string{
		CollectionEmployees,
		CollectionShiftTypes,
		CollectionJobRoles,
		CollectionSchedules,
		CollectionRules,
	}
}

// KeyCollections are the collections whose simultaneous emptiness marks a
// remote read as suspicious (see Loader).
func KeyCollections() []string {
	return []string{CollectionEmployees, CollectionShiftTypes, CollectionSchedules}
}

// =============================================================================
// RECORDS
// =============================================================================

// Record is one logical entity record: its id plus the full JSON payload.
// The payload always contains the id as well.
type Record struct {
	ID   string
	Data json.RawMessage
}

// RecordID extracts the "id" field from a raw record payload.
// Returns "" if the payload has no id.
func RecordID(data json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.ID
}

// =============================================================================
// REMOTE DOCUMENT STORE
// =============================================================================

// DocumentStore is the remote, tenant-scoped document database.
// All operations address tenants/{tenant}/{collection}/{id}.
type DocumentStore interface {
	// Get returns a single document. ErrNotFound if absent.
	Get(ctx context.Context, tenant, collection, id string) (json.RawMessage, error)

	// List returns every document in a collection, keyed by id.
	List(ctx context.Context, tenant, collection string) (map[string]json.RawMessage, error)

	// ListIDs returns the ids of every document in a collection.
	ListIDs(ctx context.Context, tenant, collection string) ([]string, error)

	// Set creates or overwrites a document.
	Set(ctx context.Context, tenant, collection, id string, data json.RawMessage) error

	// Delete removes a document. Deleting an absent document is not an error.
	Delete(ctx context.Context, tenant, collection, id string) error

	// Watch subscribes to changes of one document. The callback fires with
	// the current state (exists=false when the document is absent or was
	// deleted). The initial state is delivered once on subscribe.
	// The returned function cancels the subscription.
	Watch(tenant, collection, id string, fn WatchFunc) (func(), error)
}

// WatchFunc receives document change notifications.
type WatchFunc func(data json.RawMessage, exists bool)

// =============================================================================
// LOCAL DURABLE CACHE
// =============================================================================

// KV is the local durable key-value store backing the hybrid cache
// (hybrid_cache_{collection}) and the sync queue (sync_queue_{collection}).
// Cache entries are regenerable; queue entries hold writes not yet
// accepted by the remote store and must survive a restart.
type KV interface {
	// Get returns the value for key. ok=false when the key is absent.
	Get(ctx context.Context, key string) (value json.RawMessage, ok bool, err error)

	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value json.RawMessage) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns every key with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// CacheEntry is the stored form of one cached collection.
type CacheEntry struct {
	Data      []json.RawMessage `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

// CacheKey returns the hybrid cache key for a collection.
func CacheKey(collection string) string {
	return "hybrid_cache_" + collection
}

// QueueKey returns the sync queue key for a collection.
func QueueKey(collection string) string {
	return "sync_queue_" + collection
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultChunkSize is the per-chunk record cap. It exists because the
	// remote store enforces a maximum per-document byte size (~1MB).
	DefaultChunkSize = 3000

	// DefaultBatchLimit is the remote store's per-batch operation cap.
	DefaultBatchLimit = 500

	// MaxDocumentBytes is the remote store's per-document size cap.
	MaxDocumentBytes = 1 << 20

	// DefaultCacheTTL is the hybrid cache expiry window.
	DefaultCacheTTL = 24 * time.Hour

	// DefaultFanOut bounds concurrent per-collection requests.
	DefaultFanOut = 5

	// AggregatedCollection is the reserved collection holding aggregate
	// documents and their chunks.
	AggregatedCollection = "aggregated"
)

// sortRecords orders records by id so per-record listings are stable
// across calls (the underlying store returns maps).
func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}

// ChunkDocID returns the document id of chunk n for a collection, e.g.
// "employees_chunk_0".
func ChunkDocID(collection string, n int) string {
	return collection + "_chunk_" + strconv.Itoa(n)
}
