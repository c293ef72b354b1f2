/*
entitystore.go - Session-owned in-memory collections

PURPOSE:
  Holds the live collections for one application session. The remote
  store is the durable source of truth; this store is the working copy
  the handlers read and the reconciler keeps current.

CONCURRENCY:
  The reconciler's delivery callback and user-initiated writes run on
  different goroutines, so every access goes through an RWMutex. Readers
  get copies, never internal slices.

LIFECYCLE & CASCADE:
  Lives for the session. Deleting an Employee removes their Schedules;
  deleting a ShiftType removes Schedules referencing it. Assigning a
  Schedule replaces any existing Schedule for the same (employee, date)
  pair, which keeps the one-per-day invariant true by construction.

SEE ALSO:
  - sync/reconciler.go: Delivers collection snapshots into this store
  - validate/: Cross-collection integrity checks over Snapshot()
*/
package schedule

import (
	"fmt"
	"sort"
	"sync"
)

// Dataset is a point-in-time copy of every collection.
type Dataset struct {
	Employees  []Employee
	ShiftTypes []ShiftType
	JobRoles   []JobRole
	Schedules  []Schedule
	Rules      []map[string]any // passed through unvalidated
}

// EntityStore is the mutex-guarded session state.
type EntityStore struct {
	mu         sync.RWMutex
	employees  map[string]Employee
	shiftTypes map[string]ShiftType
	jobRoles   map[string]JobRole
	schedules  map[string]Schedule
	rules      []map[string]any
}

// NewEntityStore returns an empty store.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		employees:  make(map[string]Employee),
		shiftTypes: make(map[string]ShiftType),
		jobRoles:   make(map[string]JobRole),
		schedules:  make(map[string]Schedule),
	}
}

// =============================================================================
// SNAPSHOT / REPLACE
// =============================================================================

// Snapshot returns a deep copy of every collection, ordered by
// OrderIndex for employees and by id elsewhere.
func (s *EntityStore) Snapshot() Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Dataset{
		Employees:  sortedEmployees(s.employees),
		ShiftTypes: sortedByID(s.shiftTypes, func(v ShiftType) string { return v.ID }),
		JobRoles:   sortedByID(s.jobRoles, func(v JobRole) string { return v.ID }),
		Schedules:  sortedByID(s.schedules, func(v Schedule) string { return v.ID }),
		Rules:      append([]map[string]any(nil), s.rules...),
	}
}

// ReplaceEmployees swaps the whole collection (reconciler delivery path).
func (s *EntityStore) ReplaceEmployees(items []Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees = make(map[string]Employee, len(items))
	for _, e := range items {
		s.employees[e.ID] = e
	}
}

func (s *EntityStore) ReplaceShiftTypes(items []ShiftType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shiftTypes = make(map[string]ShiftType, len(items))
	for _, st := range items {
		s.shiftTypes[st.ID] = st
	}
}

func (s *EntityStore) ReplaceJobRoles(items []JobRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobRoles = make(map[string]JobRole, len(items))
	for _, r := range items {
		s.jobRoles[r.ID] = r
	}
}

func (s *EntityStore) ReplaceSchedules(items []Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = make(map[string]Schedule, len(items))
	for _, sc := range items {
		s.schedules[sc.ID] = sc
	}
}

func (s *EntityStore) ReplaceRules(items []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append([]map[string]any(nil), items...)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// UpsertEmployee inserts or updates an employee, minting an id when
// absent. Returns the stored value.
func (s *EntityStore) UpsertEmployee(e Employee) Employee {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = NewID()
	}
	if _, exists := s.employees[e.ID]; !exists && e.OrderIndex == 0 {
		e.OrderIndex = len(s.employees)
	}
	s.employees[e.ID] = e
	return e
}

// Employee returns one employee by id.
func (s *EntityStore) Employee(id string) (Employee, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	return e, ok
}

// DeleteEmployee removes an employee and cascades to their schedules.
// Returns the number of schedules removed.
func (s *EntityStore) DeleteEmployee(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.employees, id)
	removed := 0
	for sid, sc := range s.schedules {
		if sc.EmployeeID == id {
			delete(s.schedules, sid)
			removed++
		}
	}
	return removed
}

// =============================================================================
// SHIFT TYPES
// =============================================================================

func (s *EntityStore) UpsertShiftType(st ShiftType) ShiftType {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == "" {
		st.ID = NewID()
	}
	s.shiftTypes[st.ID] = st
	return st
}

func (s *EntityStore) ShiftType(id string) (ShiftType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.shiftTypes[id]
	return st, ok
}

// DeleteShiftType removes a shift type and cascades to schedules
// referencing it. Returns the number of schedules removed.
func (s *EntityStore) DeleteShiftType(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shiftTypes, id)
	removed := 0
	for sid, sc := range s.schedules {
		if sc.ShiftID == id {
			delete(s.schedules, sid)
			removed++
		}
	}
	return removed
}

// =============================================================================
// JOB ROLES
// =============================================================================

func (s *EntityStore) UpsertJobRole(r JobRole) JobRole {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = NewID()
	}
	s.jobRoles[r.ID] = r
	return r
}

func (s *EntityStore) JobRole(id string) (JobRole, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.jobRoles[id]
	return r, ok
}

// DeleteJobRole removes a role. Employees referencing it keep the
// dangling reference; the validator's auto-fix nulls it later (the role
// reference is soft).
func (s *EntityStore) DeleteJobRole(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobRoles, id)
}

// =============================================================================
// SCHEDULES
// =============================================================================

// AssignSchedule stores a schedule, enforcing the one-per-(employee, date)
// invariant by replacing any existing assignment for the pair. The
// employee's cached Day/Night class is refreshed from the shift type.
func (s *EntityStore) AssignSchedule(sc Schedule) (Schedule, error) {
	if !ValidDate(sc.Date) {
		return Schedule{}, fmt.Errorf("invalid schedule date %q", sc.Date)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == "" {
		sc.ID = NewID()
	}
	for sid, existing := range s.schedules {
		if existing.EmployeeID == sc.EmployeeID && existing.Date == sc.Date && sid != sc.ID {
			delete(s.schedules, sid)
		}
	}
	s.schedules[sc.ID] = sc

	if st, ok := s.shiftTypes[sc.ShiftID]; ok {
		if e, ok := s.employees[sc.EmployeeID]; ok {
			e.ShiftType = ClassifyShift(st.StartTime)
			s.employees[e.ID] = e
		}
	}
	return sc, nil
}

func (s *EntityStore) Schedule(id string) (Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	return sc, ok
}

func (s *EntityStore) DeleteSchedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func sortedEmployees(m map[string]Employee) []Employee {
	out := make([]Employee, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sortSlice(out, func(a, b Employee) bool {
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		return a.ID < b.ID
	})
	return out
}

func sortedByID[T any](m map[string]T, id func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sortSlice(out, func(a, b T) bool { return id(a) < id(b) })
	return out
}

func sortSlice[T any](s []T, less func(a, b T) bool) {
	sort.Slice(s, func(i, j int) bool { return less(s[i], s[j]) })
}
