/*
errors.go - Centralized error types for the sync engine

PURPOSE:
  All sync-level error types in one place. Callers match with errors.Is /
  errors.As; structured errors carry enough context to act on.

ERROR CATEGORIES:
  1. Store errors     - Remote document store failures
  2. Codec errors     - Aggregate encode/decode problems
  3. Loader errors    - Terminal "no data available" state

FAILURE SEMANTICS:
  The client performs no hidden retries. Every remote failure is surfaced
  with the underlying cause preserved via %w so the caller can decide
  whether to retry, queue, or give up.

SEE ALSO:
  - client.go: Wraps store errors
  - loader.go: Produces ErrNoDataAvailable
  - aggregate.go: Produces ErrPartialDecode
*/
package sync

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrNoDataAvailable is the terminal load failure: the remote store is
	// unreachable and no usable local snapshot exists. Not retried
	// automatically; surfaced to the user.
	ErrNoDataAvailable = errors.New("no data available")

	// ErrPartialDecode is returned when an aggregate document decodes with
	// one or more chunks missing. The partial records are still returned
	// alongside it so callers may choose to tolerate the loss.
	ErrPartialDecode = errors.New("aggregate decode incomplete")

	// ErrChunkIndex is returned when chunk indices are not contiguous from
	// zero after sorting, which indicates a corrupt aggregate write.
	ErrChunkIndex = errors.New("aggregate chunk indices not contiguous")

	// ErrBatchFailed is returned when a batch write fails partway. Partial
	// application is possible and is NOT rolled back; the operation is
	// idempotent by record id, so the caller retries wholesale.
	ErrBatchFailed = errors.New("batch write failed")

	// ErrDocumentTooLarge is returned when an encoded aggregate document
	// would exceed the remote store's per-document byte cap. It means the
	// chunk size is configured too large for the record payloads.
	ErrDocumentTooLarge = errors.New("document exceeds store size limit")

	// ErrSessionClosed is returned by operations on a torn-down session.
	ErrSessionClosed = errors.New("session closed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PartialDecodeError reports which chunks were missing from a decode.
type PartialDecodeError struct {
	Collection string
	Missing    []int // chunk indices that failed to load
	Expected   int   // chunkCount declared by the parent document
}

func (e *PartialDecodeError) Error() string {
	return fmt.Sprintf("aggregate decode incomplete: collection %s missing chunks %v of %d",
		e.Collection, e.Missing, e.Expected)
}

func (e *PartialDecodeError) Unwrap() error {
	return ErrPartialDecode
}

// BatchError reports a failed batch sub-group.
type BatchError struct {
	Collection string
	Group      int // index of the failed sub-group
	Cause      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch write failed: collection %s group %d: %v",
		e.Collection, e.Group, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying store cause, so
// errors.Is matches ErrBatchFailed as well as whatever the store returned.
func (e *BatchError) Unwrap() []error {
	return []error{ErrBatchFailed, e.Cause}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the failed operation is safe to re-invoke
// wholesale. Batch writes are idempotent by record id.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBatchFailed)
}
