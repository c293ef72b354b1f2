/*
client.go - Remote store client: CRUD + batch over the document store

PURPOSE:
  The single gateway between the application and the remote document
  database. Scopes every operation to the session tenant, packs bulk
  writes through the aggregation codec (the fast path), and keeps the
  legacy one-document-per-record path alive for collections that were
  never migrated.

OPERATIONS:
  Create/Read/Update/Delete  single-record CRUD
  ReadAll                    full per-record collection
  BatchCreate                grouped writes, <= BatchLimit ops per group,
                             groups run concurrently
  BatchReplace               aggregated fast path (or legacy fallback)
  LoadAggregated             cache-first aggregate read; nil result means
                             "no aggregate document, use the legacy path"

FAILURE SEMANTICS:
  No hidden retries. Every failure wraps the underlying cause. A batch
  that fails partway may be partially applied and is NOT rolled back;
  it is idempotent by record id, so the caller retries wholesale
  (IsRetryable returns true for these).

CONSISTENCY NOTE:
  There is no multi-document atomicity beyond per-batch grouping. A
  BatchReplace of a chunked collection writes parent last so a reader
  never sees a parent pointing at chunks that don't exist yet; a crash
  between chunk and parent writes leaves the previous generation intact.

SEE ALSO:
  - aggregate.go: Codec used by the fast path
  - loader.go: Startup load built on this client
  - reconciler.go: Live updates built on this client
*/
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// CLIENT
// =============================================================================

// ClientConfig carries the tunables. Zero values select the defaults.
type ClientConfig struct {
	Tenant     string
	ChunkSize  int
	BatchLimit int
	CacheTTL   time.Duration

	// Legacy names collections that still live in one-document-per-record
	// form and must not be migrated to the aggregated format.
	Legacy []string
}

// Client is the tenant-scoped remote store client.
type Client struct {
	store   DocumentStore
	kv      KV
	codec   *Codec
	tenant  string
	batch   int
	ttl     time.Duration
	legacy  map[string]bool
	metrics *Metrics
	now     func() time.Time
}

// NewClient builds a client over a document store and the local durable
// cache. kv may be nil when no cache is available (cache lookups then
// always miss).
func NewClient(store DocumentStore, kv KV, cfg ClientConfig) *Client {
	batch := cfg.BatchLimit
	if batch <= 0 {
		batch = DefaultBatchLimit
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	legacy := make(map[string]bool, len(cfg.Legacy))
	for _, c := range cfg.Legacy {
		legacy[c] = true
	}
	return &Client{
		store:  store,
		kv:     kv,
		codec:  NewCodec(cfg.ChunkSize),
		tenant: cfg.Tenant,
		batch:  batch,
		ttl:    ttl,
		legacy: legacy,
		now:    time.Now,
	}
}

// WithMetrics attaches prometheus collectors. Returns the client for
// chaining at construction.
func (c *Client) WithMetrics(m *Metrics) *Client {
	c.metrics = m
	return c
}

// Tenant returns the tenant id the client is scoped to.
func (c *Client) Tenant() string {
	return c.tenant
}

// Codec exposes the aggregation codec (the reconciler shares it).
func (c *Client) Codec() *Codec {
	return c.codec
}

// =============================================================================
// SINGLE-RECORD CRUD
// =============================================================================

// Create writes a new record document. Overwrites silently if the id
// already exists; the remote store has no create-only primitive.
func (c *Client) Create(ctx context.Context, collection string, rec Record) error {
	if err := c.store.Set(ctx, c.tenant, collection, rec.ID, rec.Data); err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, rec.ID, err)
	}
	return nil
}

// Read returns one record. ErrNotFound when absent.
func (c *Client) Read(ctx context.Context, collection, id string) (Record, error) {
	data, err := c.store.Get(ctx, c.tenant, collection, id)
	if err != nil {
		return Record{}, fmt.Errorf("read %s/%s: %w", collection, id, err)
	}
	return Record{ID: id, Data: data}, nil
}

// Update overwrites one record.
func (c *Client) Update(ctx context.Context, collection string, rec Record) error {
	if err := c.store.Set(ctx, c.tenant, collection, rec.ID, rec.Data); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, rec.ID, err)
	}
	return nil
}

// Delete removes one record. Absent ids are not an error.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if err := c.store.Delete(ctx, c.tenant, collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// ReadAll returns the full per-record collection (the legacy path).
func (c *Client) ReadAll(ctx context.Context, collection string) ([]Record, error) {
	docs, err := c.store.List(ctx, c.tenant, collection)
	if err != nil {
		return nil, fmt.Errorf("read all %s: %w", collection, err)
	}
	records := make([]Record, 0, len(docs))
	for id, data := range docs {
		records = append(records, Record{ID: id, Data: data})
	}
	sortRecords(records)
	return records, nil
}

// =============================================================================
// BATCH OPERATIONS
// =============================================================================

// BatchCreate writes items in sub-groups of at most BatchLimit operations.
// Groups execute concurrently; the first error surfaces. Partial
// application is possible and not rolled back.
func (c *Client) BatchCreate(ctx context.Context, collection string, items []Record) error {
	return c.batchApply(ctx, collection, items, func(ctx context.Context, rec Record) error {
		return c.store.Set(ctx, c.tenant, collection, rec.ID, rec.Data)
	})
}

// BatchDelete removes the given ids in concurrent sub-groups.
func (c *Client) BatchDelete(ctx context.Context, collection string, ids []string) error {
	items := make([]Record, len(ids))
	for i, id := range ids {
		items[i] = Record{ID: id}
	}
	return c.batchApply(ctx, collection, items, func(ctx context.Context, rec Record) error {
		return c.store.Delete(ctx, c.tenant, collection, rec.ID)
	})
}

func (c *Client) batchApply(ctx context.Context, collection string, items []Record, op func(context.Context, Record) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for group := 0; group*c.batch < len(items); group++ {
		start := group * c.batch
		end := start + c.batch
		if end > len(items) {
			end = len(items)
		}
		group, slice := group, items[start:end]
		g.Go(func() error {
			for _, rec := range slice {
				if err := op(ctx, rec); err != nil {
					return &BatchError{Collection: collection, Group: group, Cause: err}
				}
			}
			c.metrics.batchGroup()
			return nil
		})
	}
	return g.Wait()
}

// BatchReplace replaces a collection's contents wholesale. Aggregated
// collections take the fast path: one parent document plus chunks instead
// of O(n) record documents. Collections configured Legacy fall back to
// read-ids -> batch-delete -> batch-create.
//
// Idempotent: replacing with the same items twice leaves the collection
// observably identical and the second call succeeds.
func (c *Client) BatchReplace(ctx context.Context, collection string, items []Record) error {
	if c.legacy[collection] {
		return c.legacyReplace(ctx, collection, items)
	}
	return c.aggregateReplace(ctx, collection, items)
}

func (c *Client) aggregateReplace(ctx context.Context, collection string, items []Record) error {
	parent, chunks := c.codec.Encode(collection, items)

	// Previous generation's chunk count, for stale-chunk cleanup.
	prevChunks := 0
	if prevData, err := c.store.Get(ctx, c.tenant, AggregatedCollection, collection); err == nil {
		var prev AggregateDocument
		if json.Unmarshal(prevData, &prev) == nil && prev.Chunked {
			prevChunks = prev.ChunkCount
		}
	}

	// Chunks first, parent last: a reader never sees a parent whose chunks
	// are not yet written.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultFanOut)
	for _, ch := range chunks {
		ch := ch
		g.Go(func() error {
			data, err := json.Marshal(ch)
			if err != nil {
				return fmt.Errorf("encode chunk %d of %s: %w", ch.Index, collection, err)
			}
			if len(data) > MaxDocumentBytes {
				return fmt.Errorf("chunk %d of %s is %d bytes: %w", ch.Index, collection, len(data), ErrDocumentTooLarge)
			}
			return c.store.Set(gctx, c.tenant, AggregatedCollection, ChunkDocID(collection, ch.Index), data)
		})
	}
	if err := g.Wait(); err != nil {
		return &BatchError{Collection: collection, Group: 0, Cause: err}
	}

	parentData, err := json.Marshal(parent)
	if err != nil {
		return fmt.Errorf("encode aggregate %s: %w", collection, err)
	}
	if len(parentData) > MaxDocumentBytes {
		return fmt.Errorf("aggregate %s is %d bytes: %w", collection, len(parentData), ErrDocumentTooLarge)
	}
	if err := c.store.Set(ctx, c.tenant, AggregatedCollection, collection, parentData); err != nil {
		return &BatchError{Collection: collection, Group: 0, Cause: err}
	}
	c.metrics.batchGroup()

	// Remove surplus chunks from a previously larger generation.
	for i := len(chunks); i < prevChunks; i++ {
		if err := c.store.Delete(ctx, c.tenant, AggregatedCollection, ChunkDocID(collection, i)); err != nil {
			return fmt.Errorf("prune stale chunk %d of %s: %w", i, collection, err)
		}
	}

	c.writeCache(ctx, collection, items)
	return nil
}

// legacyReplace is the slow path for unmigrated collections:
// read existing ids -> batch delete -> batch create.
func (c *Client) legacyReplace(ctx context.Context, collection string, items []Record) error {
	ids, err := c.store.ListIDs(ctx, c.tenant, collection)
	if err != nil {
		return fmt.Errorf("replace %s: list: %w", collection, err)
	}
	if err := c.BatchDelete(ctx, collection, ids); err != nil {
		return err
	}
	if err := c.BatchCreate(ctx, collection, items); err != nil {
		return err
	}
	c.writeCache(ctx, collection, items)
	return nil
}

// =============================================================================
// AGGREGATED READS (cache-first)
// =============================================================================

// LoadAggregated reads a collection's aggregate form, cache first.
// Returns (nil, nil) when no aggregate document exists at all - the signal
// to fall back to the legacy per-record query path.
func (c *Client) LoadAggregated(ctx context.Context, collection string, useCache bool) ([]Record, error) {
	if useCache {
		if records, ok := c.readCache(ctx, collection); ok {
			c.metrics.cacheHit()
			return records, nil
		}
		c.metrics.cacheMiss()
	}

	parentData, err := c.store.Get(ctx, c.tenant, AggregatedCollection, collection)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load aggregated %s: %w", collection, err)
	}

	var parent AggregateDocument
	if err := json.Unmarshal(parentData, &parent); err != nil {
		return nil, fmt.Errorf("load aggregated %s: corrupt parent: %w", collection, err)
	}

	var chunks []AggregateChunk
	if parent.Chunked {
		chunks, err = c.loadChunks(ctx, collection, parent.ChunkCount)
		if err != nil {
			return nil, err
		}
	}

	records, err := c.codec.Decode(parent, chunks)
	if err != nil {
		// Partial decode still returns usable records; surface both.
		return records, err
	}

	c.writeCache(ctx, collection, records)
	return records, nil
}

// loadChunks fetches all chunk siblings concurrently. A chunk that does
// not exist is simply omitted; Decode reports the gap.
func (c *Client) loadChunks(ctx context.Context, collection string, count int) ([]AggregateChunk, error) {
	chunks := make([]*AggregateChunk, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultFanOut)
	for i := 0; i < count; i++ {
		i := i
		g.Go(func() error {
			data, err := c.store.Get(gctx, c.tenant, AggregatedCollection, ChunkDocID(collection, i))
			if IsNotFound(err) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load chunk %d of %s: %w", i, collection, err)
			}
			var ch AggregateChunk
			if err := json.Unmarshal(data, &ch); err != nil {
				return fmt.Errorf("load chunk %d of %s: corrupt: %w", i, collection, err)
			}
			chunks[i] = &ch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []AggregateChunk
	for _, ch := range chunks {
		if ch != nil {
			out = append(out, *ch)
		}
	}
	return out, nil
}

// =============================================================================
// HYBRID CACHE
// =============================================================================

// readCache returns the cached records for a collection if present and
// unexpired.
func (c *Client) readCache(ctx context.Context, collection string) ([]Record, bool) {
	if c.kv == nil {
		return nil, false
	}
	raw, ok, err := c.kv.Get(ctx, CacheKey(collection))
	if err != nil || !ok {
		return nil, false
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	if c.now().Sub(entry.Timestamp) > c.ttl {
		// Left in place rather than deleted: the startup loader still
		// reads stale entries as disaster-recovery evidence, and the next
		// replace overwrites them.
		return nil, false
	}
	return toRecords(entry.Data), true
}

// writeCache persists a fresh cache entry. Cache failures are deliberately
// swallowed: the cache is an accelerator, never a source of truth.
func (c *Client) writeCache(ctx context.Context, collection string, records []Record) {
	if c.kv == nil {
		return
	}
	payloads := make([]json.RawMessage, len(records))
	for i, r := range records {
		payloads[i] = r.Data
	}
	entry := CacheEntry{Data: payloads, Timestamp: c.now().UTC()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = c.kv.Put(ctx, CacheKey(collection), raw)
}
