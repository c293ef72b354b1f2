/*
dto.go - Request/response data structures for the collection API

PURPOSE:
  Wire shapes only. Entities travel as their JSON form from the schedule
  package; this file holds the envelopes around them.

SEE ALSO:
  - handlers.go: Producers and consumers of these shapes
*/
package api

import (
	"encoding/json"

	"github.com/warp/schedule-sync/validate"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListResponse wraps a full collection read.
type ListResponse struct {
	Collection string            `json:"collection"`
	Count      int               `json:"count"`
	Records    []json.RawMessage `json:"records"`
}

// ReplaceResponse reports the outcome of a bulk replace.
type ReplaceResponse struct {
	Collection string `json:"collection"`
	Count      int    `json:"count"`

	// Queued is true when the remote write failed and the payload was
	// parked in the offline sync queue for replay.
	Queued bool `json:"queued"`
}

// DeleteResponse reports a single-record delete and its cascade.
type DeleteResponse struct {
	Deleted           string `json:"deleted"`
	CascadedSchedules int    `json:"cascadedSchedules,omitempty"`
}

// ConsistencyResponse carries the validation report and, for the fix
// endpoint, what auto-fix changed.
type ConsistencyResponse struct {
	Report *validate.Report    `json:"report"`
	Fix    *validate.FixResult `json:"fix,omitempty"`
}
