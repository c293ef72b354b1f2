/*
aggregate.go - Aggregation codec: collections <-> size-bounded documents

PURPOSE:
  The remote store caps document size (~1MB) and bills per operation.
  Storing one document per record makes a 10k-record collection cost 10k
  reads. The codec packs a whole collection into one aggregate document,
  or - above ChunkSize records - into a metadata parent plus ordered chunk
  siblings, turning O(n) operations into O(few).

WIRE FORM:
  Small collection (count <= ChunkSize):
    aggregated/{collection} = {collection, chunked:false, count, records:[...]}
  Large collection:
    aggregated/{collection}           = {collection, chunked:true, chunkCount, count}
    aggregated/{collection}_chunk_{n} = {collection, index:n, records:[...]}

INVARIANTS:
  - Sum of chunk record counts == parent count.
  - Chunk indices are contiguous starting at 0.
  - Decode preserves record order.

MISSING CHUNKS:
  Decode sorts chunks by index, then verifies contiguity against the
  parent's chunkCount. A missing chunk yields the partial records plus a
  PartialDecodeError rather than silent data loss; callers that prefer
  the lenient behavior check errors.Is(err, ErrPartialDecode) and keep
  the partial slice.

SEE ALSO:
  - client.go: Writes and reads aggregate documents
  - reconciler.go: Decodes incoming aggregate snapshots
*/
package sync

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// AggregateDocument is the parent document of an aggregated collection.
// For non-chunked collections it carries the records inline.
type AggregateDocument struct {
	Collection string            `json:"collection"`
	Chunked    bool              `json:"chunked"`
	ChunkCount int               `json:"chunkCount,omitempty"`
	Count      int               `json:"count"`
	Records    []json.RawMessage `json:"records,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// AggregateChunk is one ordered slice of an oversized collection, stored
// as a sibling document of the parent.
type AggregateChunk struct {
	Collection string            `json:"collection"`
	Index      int               `json:"index"`
	Records    []json.RawMessage `json:"records"`
}

// =============================================================================
// CODEC
// =============================================================================

// Codec packs and unpacks collections. The zero value is not usable;
// construct with NewCodec.
type Codec struct {
	chunkSize int
	now       func() time.Time
}

// NewCodec returns a codec with the given per-chunk record cap.
// chunkSize <= 0 selects DefaultChunkSize.
func NewCodec(chunkSize int) *Codec {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Codec{chunkSize: chunkSize, now: time.Now}
}

// ChunkSize returns the per-chunk record cap.
func (c *Codec) ChunkSize() int {
	return c.chunkSize
}

// Encode packs records into a parent document and, when the collection
// exceeds the chunk size, sibling chunks. The parent of a chunked
// collection carries metadata only.
func (c *Codec) Encode(collection string, records []Record) (AggregateDocument, []AggregateChunk) {
	payloads := make([]json.RawMessage, len(records))
	for i, r := range records {
		payloads[i] = r.Data
	}

	parent := AggregateDocument{
		Collection: collection,
		Count:      len(payloads),
		UpdatedAt:  c.now().UTC(),
	}

	if len(payloads) <= c.chunkSize {
		parent.Records = payloads
		return parent, nil
	}

	var chunks []AggregateChunk
	for start := 0; start < len(payloads); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(payloads) {
			end = len(payloads)
		}
		chunks = append(chunks, AggregateChunk{
			Collection: collection,
			Index:      len(chunks),
			Records:    payloads[start:end],
		})
	}

	parent.Chunked = true
	parent.ChunkCount = len(chunks)
	return parent, chunks
}

// Decode reassembles a collection from its parent document and chunks.
// Chunks may arrive in any order; they are sorted by index first. When the
// parent declares more chunks than were supplied, Decode returns the
// records it could reassemble together with a PartialDecodeError.
func (c *Codec) Decode(parent AggregateDocument, chunks []AggregateChunk) ([]Record, error) {
	if !parent.Chunked {
		return toRecords(parent.Records), nil
	}

	sorted := make([]AggregateChunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var (
		payloads []json.RawMessage
		missing  []int
	)
	next := 0
	for _, ch := range sorted {
		if ch.Index < next {
			return nil, fmt.Errorf("%w: duplicate chunk %d in %s", ErrChunkIndex, ch.Index, parent.Collection)
		}
		for next < ch.Index {
			missing = append(missing, next)
			next++
		}
		payloads = append(payloads, ch.Records...)
		next = ch.Index + 1
	}
	for next < parent.ChunkCount {
		missing = append(missing, next)
		next++
	}

	if len(missing) > 0 {
		return toRecords(payloads), &PartialDecodeError{
			Collection: parent.Collection,
			Missing:    missing,
			Expected:   parent.ChunkCount,
		}
	}
	return toRecords(payloads), nil
}

func toRecords(payloads []json.RawMessage) []Record {
	records := make([]Record, len(payloads))
	for i, p := range payloads {
		records[i] = Record{ID: RecordID(p), Data: p}
	}
	return records
}
