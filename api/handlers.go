/*
handlers.go - HTTP API handlers for the collection surface

PURPOSE:
  Exposes the sync engine via REST. Handles HTTP request/response and
  JSON envelopes, delegates everything else to the entity store, the
  session's remote client, and the validator.

ENDPOINTS:
  Collections (employees | shiftTypes | jobRoles | schedules | rules):
    GET    /api/{collection}        Full collection (from entity store)
    POST   /api/{collection}        Create one record
    PUT    /api/{collection}        Bulk replace (offline-queued on failure)
    GET    /api/{collection}/{id}   One record
    PUT    /api/{collection}/{id}   Update one record
    DELETE /api/{collection}/{id}   Delete (with cascade)

  Consistency:
    POST   /api/consistency/check   Run validation
    POST   /api/consistency/fix     Validation + whitelisted auto-fix

  Connectivity:
    POST   /api/online              Drain the offline sync queue

WRITE PATH:
  Every mutation updates the entity store first, then pushes the whole
  affected collection through the aggregated bulk path. With aggregation
  that is an O(1)-document write, and it keeps single-record edits and
  bulk imports on one code path. Failed pushes land in the sync queue.

ERROR HANDLING:
  - 400: invalid input
  - 404: unknown collection / record not found
  - 503: terminal "no data available" (surfaced at startup, not here)
  - 500: everything else

SEE ALSO:
  - dto.go: Envelope shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/schedule-sync/schedule"
	syncpkg "github.com/warp/schedule-sync/sync"
	"github.com/warp/schedule-sync/validate"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Session   *syncpkg.Session
	Entities  *schedule.EntityStore
	Validator *validate.Validator
	Metrics   *syncpkg.Metrics
}

var knownCollections = map[string]bool{
	syncpkg.CollectionEmployees:  true,
	syncpkg.CollectionShiftTypes: true,
	syncpkg.CollectionJobRoles:   true,
	syncpkg.CollectionSchedules:  true,
	syncpkg.CollectionRules:      true,
}

// RequireCollection rejects requests for unknown collections.
func (h *Handler) RequireCollection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !knownCollections[chi.URLParam(r, "collection")] {
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown collection %q", chi.URLParam(r, "collection")))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// COLLECTION READS
// =============================================================================

// ListCollection returns the full collection from the entity store.
func (h *Handler) ListCollection(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	records, err := schedule.CollectionRecords(h.Entities.Snapshot(), collection)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	payloads := make([]json.RawMessage, len(records))
	for i, rec := range records {
		payloads[i] = rec.Data
	}
	writeJSON(w, http.StatusOK, ListResponse{Collection: collection, Count: len(payloads), Records: payloads})
}

// GetRecord returns one record by id.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")
	records, err := schedule.CollectionRecords(h.Entities.Snapshot(), collection)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, rec := range records {
		if rec.ID == id {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(rec.Data)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("%s/%s not found", collection, id))
}

// =============================================================================
// COLLECTION WRITES
// =============================================================================

// CreateRecord creates one record and pushes the collection.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	h.upsertRecord(w, r, "")
}

// UpdateRecord overwrites one record and pushes the collection.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	h.upsertRecord(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) upsertRecord(w http.ResponseWriter, r *http.Request, id string) {
	collection := chi.URLParam(r, "collection")
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stored, err := h.applyUpsert(collection, id, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h.pushCollections(r, collection)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(stored)
}

// applyUpsert validates the payload for its collection and stores it in
// the entity store, returning the stored JSON form.
func (h *Handler) applyUpsert(collection, id string, body json.RawMessage) (json.RawMessage, error) {
	switch collection {
	case syncpkg.CollectionEmployees:
		var e schedule.Employee
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("invalid employee: %w", err)
		}
		if id != "" {
			e.ID = id
		}
		if e.Name == "" {
			return nil, errors.New("employee name is required")
		}
		return json.Marshal(h.Entities.UpsertEmployee(e))

	case syncpkg.CollectionShiftTypes:
		var st schedule.ShiftType
		if err := json.Unmarshal(body, &st); err != nil {
			return nil, fmt.Errorf("invalid shift type: %w", err)
		}
		if id != "" {
			st.ID = id
		}
		if st.Name == "" {
			return nil, errors.New("shift type name is required")
		}
		return json.Marshal(h.Entities.UpsertShiftType(st))

	case syncpkg.CollectionJobRoles:
		var jr schedule.JobRole
		if err := json.Unmarshal(body, &jr); err != nil {
			return nil, fmt.Errorf("invalid job role: %w", err)
		}
		if id != "" {
			jr.ID = id
		}
		if jr.Name == "" {
			return nil, errors.New("job role name is required")
		}
		return json.Marshal(h.Entities.UpsertJobRole(jr))

	case syncpkg.CollectionSchedules:
		var sc schedule.Schedule
		if err := json.Unmarshal(body, &sc); err != nil {
			return nil, fmt.Errorf("invalid schedule: %w", err)
		}
		if id != "" {
			sc.ID = id
		}
		if sc.EmployeeID == "" || sc.ShiftID == "" {
			return nil, errors.New("schedule requires employeeId and shiftId")
		}
		stored, err := h.Entities.AssignSchedule(sc)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stored)

	default:
		// rules is bulk-only: it has no record-level schema.
		return nil, fmt.Errorf("collection %q does not support record-level writes", collection)
	}
}

// BatchReplace replaces the whole collection wholesale.
//
// Local-first, like every mutation here: the entity store is updated
// before the remote push, and ApplyRecords doubles as the typed
// validation gate. A 500 therefore means durability failed (both the
// remote write and the offline queue), not that the edit was rejected;
// the session keeps the local state and the caller retries the push.
func (h *Handler) BatchReplace(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	var payloads []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: expected a JSON array: %w", err))
		return
	}

	records := make([]syncpkg.Record, len(payloads))
	for i, p := range payloads {
		id := syncpkg.RecordID(p)
		if id == "" {
			// Mint ids so the replace stays idempotent on retry.
			id = schedule.NewID()
			withID, err := injectID(p, id)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			p = withID
			payloads[i] = p
		}
		records[i] = syncpkg.Record{ID: id, Data: p}
	}

	if err := schedule.ApplyRecords(h.Entities, collection, records); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	queued, err := h.Session.ReplaceOrQueue(r.Context(), collection, records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ReplaceResponse{Collection: collection, Count: len(records), Queued: queued})
}

// DeleteRecord deletes one record, cascading where the model requires it,
// and pushes every affected collection.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	id := chi.URLParam(r, "id")

	resp := DeleteResponse{Deleted: id}
	switch collection {
	case syncpkg.CollectionEmployees:
		resp.CascadedSchedules = h.Entities.DeleteEmployee(id)
		h.pushCollections(r, syncpkg.CollectionEmployees, syncpkg.CollectionSchedules)
	case syncpkg.CollectionShiftTypes:
		resp.CascadedSchedules = h.Entities.DeleteShiftType(id)
		h.pushCollections(r, syncpkg.CollectionShiftTypes, syncpkg.CollectionSchedules)
	case syncpkg.CollectionJobRoles:
		h.Entities.DeleteJobRole(id)
		h.pushCollections(r, syncpkg.CollectionJobRoles)
	case syncpkg.CollectionSchedules:
		h.Entities.DeleteSchedule(id)
		h.pushCollections(r, syncpkg.CollectionSchedules)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("collection %q does not support record-level deletes", collection))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// pushCollections bulk-writes the named collections from the entity
// store's current state, queueing on failure.
func (h *Handler) pushCollections(r *http.Request, collections ...string) {
	ds := h.Entities.Snapshot()
	for _, collection := range collections {
		records, err := schedule.CollectionRecords(ds, collection)
		if err != nil {
			log.Printf("api: push %s: %v", collection, err)
			continue
		}
		if queued, err := h.Session.ReplaceOrQueue(r.Context(), collection, records); err != nil {
			log.Printf("api: push %s failed: %v", collection, err)
		} else if queued {
			log.Printf("api: push %s queued for replay", collection)
		}
	}
}

// =============================================================================
// CONSISTENCY
// =============================================================================

// ConsistencyCheck runs one validation pass.
func (h *Handler) ConsistencyCheck(w http.ResponseWriter, r *http.Request) {
	report := h.Validator.Validate(h.Entities.Snapshot())
	writeJSON(w, http.StatusOK, ConsistencyResponse{Report: report})
}

// ConsistencyFix runs validation and applies the auto-fix whitelist; the
// repaired collections are written back through the bulk path.
func (h *Handler) ConsistencyFix(w http.ResponseWriter, r *http.Request) {
	ds := h.Entities.Snapshot()
	report := h.Validator.Validate(ds)
	if report.Skipped {
		writeJSON(w, http.StatusOK, ConsistencyResponse{Report: report})
		return
	}

	fixed, result, err := validate.AutoFix(r.Context(), ds, h.Session.Client(), h.Metrics)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if result.EmployeesChanged {
		h.Entities.ReplaceEmployees(fixed.Employees)
	}
	if result.SchedulesChanged {
		h.Entities.ReplaceSchedules(fixed.Schedules)
	}
	writeJSON(w, http.StatusOK, ConsistencyResponse{Report: report, Fix: &result})
}

// =============================================================================
// CONNECTIVITY / HEALTH
// =============================================================================

// NotifyOnline drains the offline sync queue.
func (h *Handler) NotifyOnline(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.NotifyOnline(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "drained"})
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "tenant": h.Session.Tenant()})
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBody(r *http.Request) (json.RawMessage, error) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return body, nil
}

func injectID(payload json.RawMessage, id string) (json.RawMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("invalid record payload: %w", err)
	}
	m["id"] = id
	return json.Marshal(m)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
