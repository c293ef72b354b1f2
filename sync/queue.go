/*
queue.go - Offline sync queue

PURPOSE:
  When a bulk write fails because the remote store is unreachable, the
  payload is appended to a per-collection durable queue
  (sync_queue_{collection}) instead of being lost. Once the collaborator
  reports that connectivity has returned, Drain replays the queued
  payloads through BatchReplace and clears the queue.

ORDERING:
  Entries within one collection replay oldest-first; BatchReplace is a
  wholesale replace, so the newest entry wins. Earlier entries are still
  replayed in order rather than skipped - replay is cheap and keeps the
  semantics trivially "apply what the user did, in the order they did it."

SEE ALSO:
  - client.go: BatchReplace (the replay target)
  - session.go: ReplaceOrQueue / NotifyOnline wiring
*/
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// QueueEntry is one queued bulk write.
type QueueEntry struct {
	Data      []json.RawMessage `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

// Queue is the per-collection offline write queue.
type Queue struct {
	kv      KV
	client  *Client
	metrics *Metrics
	now     func() time.Time
}

// NewQueue builds a queue over the durable KV, replaying through client.
func NewQueue(kv KV, client *Client) *Queue {
	return &Queue{kv: kv, client: client, metrics: client.metrics, now: time.Now}
}

// Enqueue appends records as a pending bulk write for collection.
func (q *Queue) Enqueue(ctx context.Context, collection string, records []Record) error {
	if q.kv == nil {
		return fmt.Errorf("enqueue %s: no durable store", collection)
	}
	entries, err := q.load(ctx, collection)
	if err != nil {
		return err
	}
	payloads := make([]json.RawMessage, len(records))
	for i, r := range records {
		payloads[i] = r.Data
	}
	entries = append(entries, QueueEntry{Data: payloads, Timestamp: q.now().UTC()})
	if err := q.save(ctx, collection, entries); err != nil {
		return err
	}
	q.updateDepth(ctx)
	return nil
}

// Pending returns the queued entries for a collection.
func (q *Queue) Pending(ctx context.Context, collection string) ([]QueueEntry, error) {
	return q.load(ctx, collection)
}

// Drain replays every queued payload oldest-first through BatchReplace
// and clears the drained keys. The first replay failure stops the drain;
// undrained entries stay queued for the next attempt.
func (q *Queue) Drain(ctx context.Context) error {
	if q.kv == nil {
		return nil
	}
	for _, collection := range Collections() {
		entries, err := q.load(ctx, collection)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			continue
		}
		for _, entry := range entries {
			if err := q.client.BatchReplace(ctx, collection, toRecords(entry.Data)); err != nil {
				return fmt.Errorf("drain %s: %w", collection, err)
			}
		}
		if err := q.kv.Delete(ctx, QueueKey(collection)); err != nil {
			return fmt.Errorf("drain %s: clear: %w", collection, err)
		}
	}
	q.updateDepth(ctx)
	return nil
}

func (q *Queue) load(ctx context.Context, collection string) ([]QueueEntry, error) {
	raw, ok, err := q.kv.Get(ctx, QueueKey(collection))
	if err != nil {
		return nil, fmt.Errorf("queue %s: %w", collection, err)
	}
	if !ok {
		return nil, nil
	}
	var entries []QueueEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("queue %s: corrupt: %w", collection, err)
	}
	return entries, nil
}

func (q *Queue) save(ctx context.Context, collection string, entries []QueueEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("queue %s: %w", collection, err)
	}
	return q.kv.Put(ctx, QueueKey(collection), raw)
}

func (q *Queue) updateDepth(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	depth := 0
	for _, collection := range Collections() {
		entries, err := q.load(ctx, collection)
		if err != nil {
			continue
		}
		depth += len(entries)
	}
	q.metrics.queueDepth(depth)
}
