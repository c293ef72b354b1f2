/*
Package validate runs schema and referential-integrity checks across all
collections and applies a narrow, whitelisted set of automatic repairs.

PURPOSE:
  Bulk mutations (import, reset, partially failed batches) can leave the
  dataset with dangling references or duplicates. A single on-demand
  validation pass catches them before they reach rendering code.

RULES AS DATA:
  Per-collection rules are declared in a table: required fields, unique
  fields, and field validators that may read the whole dataset for
  reference checks. New collections get rules, not code paths.

SEVERITY:
  Missing required field, duplicate unique field, Schedule->Employee and
  Schedule->ShiftType dangling references: Errors.
  Employee->JobRole dangling reference: Warning (a role is optional).

CROSS-COLLECTION PASS:
  Orphaned Schedules are detected again independently of the field rules,
  to catch states a partial batch failure can produce, and duplicate
  (employeeId, date) pairs are flagged.

SINGLE-FLIGHT:
  Validation is reentrancy-guarded: a boolean running flag plus a 5s
  cooldown. A concurrent or rapid repeat call returns a trivially-valid
  no-op report (Skipped=true) rather than running twice. The silent no-op
  shape is load-bearing: accidental repeated triggers must not cascade.

AUTO-FIX WHITELIST:
  (a) null an Employee's dangling RoleID
  (b) remove Schedules referencing a missing Employee or ShiftType
  Nothing else is repaired automatically; everything else stays an Error
  for a human. Fixed collections are written back through the remote
  store client's bulk path.

SEE ALSO:
  - schedule/: The typed dataset being validated
  - sync/client.go: Write-back path for auto-fixed collections
*/
package validate

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/warp/schedule-sync/schedule"
	syncpkg "github.com/warp/schedule-sync/sync"
)

// =============================================================================
// REPORT
// =============================================================================

// Severity of one finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding: which record, which field, what is wrong.
type Issue struct {
	Collection string `json:"collection"`
	RecordID   string `json:"recordId,omitempty"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
}

// CollectionStats summarizes one collection.
type CollectionStats struct {
	Count    int `json:"count"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// Report is the result of a validation pass.
type Report struct {
	IsValid   bool                       `json:"isValid"`
	Errors    []Issue                    `json:"errors"`
	Warnings  []Issue                    `json:"warnings"`
	Stats     map[string]CollectionStats `json:"stats"`
	Timestamp time.Time                  `json:"timestamp"`

	// Skipped is true when the single-flight guard answered without
	// running: the caller got a trivially-valid no-op.
	Skipped bool `json:"skipped,omitempty"`
}

func (r *Report) addError(i Issue) {
	r.Errors = append(r.Errors, i)
	stats := r.Stats[i.Collection]
	stats.Errors++
	r.Stats[i.Collection] = stats
}

func (r *Report) addWarning(i Issue) {
	r.Warnings = append(r.Warnings, i)
	stats := r.Stats[i.Collection]
	stats.Warnings++
	r.Stats[i.Collection] = stats
}

// =============================================================================
// RULE TABLE
// =============================================================================

// Collections is the generic view the rule table operates on: collection
// name -> record maps. Built from the typed dataset via JSON.
type Collections map[string][]map[string]any

// FieldRule validates one field with access to the whole dataset.
type FieldRule struct {
	Field    string
	Severity Severity
	Message  string
	Check    func(value any, all Collections) bool
}

// Rule is the declared rule set for one collection.
type Rule struct {
	Required   []string
	Unique     []string
	Validators []FieldRule
}

// DefaultRules returns the rule table for the scheduling collections.
func DefaultRules() map[string]Rule {
	existsIn := func(collection string) func(any, Collections) bool {
		return func(value any, all Collections) bool {
			id, _ := value.(string)
			if id == "" {
				return true // absence is handled by Required
			}
			for _, rec := range all[collection] {
				if rec["id"] == id {
					return true
				}
			}
			return false
		}
	}
	return map[string]Rule{
		syncpkg.CollectionEmployees: {
			Required: []string{"id", "name"},
			Unique:   []string{"id"},
			Validators: []FieldRule{
				{
					Field:    "roleId",
					Severity: SeverityWarning,
					Message:  "references a missing job role",
					Check:    existsIn(syncpkg.CollectionJobRoles),
				},
			},
		},
		syncpkg.CollectionShiftTypes: {
			Required: []string{"id", "name"},
			Unique:   []string{"id", "name"},
		},
		syncpkg.CollectionJobRoles: {
			Required: []string{"id", "name"},
			Unique:   []string{"id", "name"},
		},
		syncpkg.CollectionSchedules: {
			Required: []string{"id", "employeeId", "shiftId", "date"},
			Unique:   []string{"id"},
			Validators: []FieldRule{
				{
					Field:    "employeeId",
					Severity: SeverityError,
					Message:  "references a missing employee",
					Check:    existsIn(syncpkg.CollectionEmployees),
				},
				{
					Field:    "shiftId",
					Severity: SeverityError,
					Message:  "references a missing shift type",
					Check:    existsIn(syncpkg.CollectionShiftTypes),
				},
				{
					Field:    "date",
					Severity: SeverityError,
					Message:  "is not a valid calendar date",
					Check: func(value any, _ Collections) bool {
						date, _ := value.(string)
						return date == "" || schedule.ValidDate(date)
					},
				},
			},
		},
	}
}

// =============================================================================
// VALIDATOR
// =============================================================================

// DefaultCooldown is the minimum interval between validation passes.
const DefaultCooldown = 5 * time.Second

// Validator runs the rule table with a single-flight guard.
type Validator struct {
	rules    map[string]Rule
	cooldown time.Duration
	metrics  *syncpkg.Metrics
	now      func() time.Time

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// New returns a validator with the default rule table and cooldown.
func New() *Validator {
	return &Validator{
		rules:    DefaultRules(),
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
}

// WithCooldown overrides the repeat-call cooldown (tests).
func (v *Validator) WithCooldown(d time.Duration) *Validator {
	v.cooldown = d
	return v
}

// WithMetrics attaches prometheus collectors.
func (v *Validator) WithMetrics(m *syncpkg.Metrics) *Validator {
	v.metrics = m
	return v
}

// Validate runs one pass over the dataset. A call while another pass is
// running, or within the cooldown of the previous pass, returns a
// trivially-valid skipped report.
func (v *Validator) Validate(ds schedule.Dataset) *Report {
	v.mu.Lock()
	if v.running || v.now().Sub(v.lastRun) < v.cooldown {
		v.mu.Unlock()
		v.metrics.ValidatorSkip()
		return &Report{IsValid: true, Skipped: true, Stats: map[string]CollectionStats{}, Timestamp: v.now().UTC()}
	}
	v.running = true
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		v.running = false
		v.lastRun = v.now()
		v.mu.Unlock()
	}()

	v.metrics.ValidatorRun()
	return v.run(ds)
}

func (v *Validator) run(ds schedule.Dataset) *Report {
	all := toCollections(ds)
	report := &Report{Stats: make(map[string]CollectionStats), Timestamp: v.now().UTC()}

	for collection, records := range all {
		stats := report.Stats[collection]
		stats.Count = len(records)
		report.Stats[collection] = stats

		rule, ok := v.rules[collection]
		if !ok {
			continue // e.g. rules: passed through unvalidated
		}
		v.applyRule(report, collection, rule, records, all)
	}

	v.crossCollectionPass(report, all)

	report.IsValid = len(report.Errors) == 0
	return report
}

// applyRule runs required / unique / field validators for one collection.
func (v *Validator) applyRule(report *Report, collection string, rule Rule, records []map[string]any, all Collections) {
	seen := make(map[string]map[any]string) // field -> value -> first record id
	for _, field := range rule.Unique {
		seen[field] = make(map[any]string)
	}

	for _, rec := range records {
		id, _ := rec["id"].(string)

		for _, field := range rule.Required {
			if isAbsent(rec[field]) {
				report.addError(Issue{
					Collection: collection, RecordID: id, Field: field,
					Message: fmt.Sprintf("required field %q is missing", field),
				})
			}
		}

		for _, field := range rule.Unique {
			value := rec[field]
			if isAbsent(value) {
				continue
			}
			if firstID, dup := seen[field][value]; dup {
				report.addError(Issue{
					Collection: collection, RecordID: id, Field: field,
					Message: fmt.Sprintf("duplicate %q %v (already used by %s)", field, value, firstID),
				})
				continue
			}
			seen[field][value] = id
		}

		for _, fr := range rule.Validators {
			if fr.Check(rec[fr.Field], all) {
				continue
			}
			issue := Issue{
				Collection: collection, RecordID: id, Field: fr.Field,
				Message: fmt.Sprintf("%s %s", fr.Field, fr.Message),
			}
			if fr.Severity == SeverityError {
				report.addError(issue)
			} else {
				report.addWarning(issue)
			}
		}
	}
}

// crossCollectionPass re-detects orphaned Schedules independently of the
// field validators and flags duplicate (employeeId, date) pairs.
func (v *Validator) crossCollectionPass(report *Report, all Collections) {
	employees := idSet(all[syncpkg.CollectionEmployees])
	shiftTypes := idSet(all[syncpkg.CollectionShiftTypes])

	type pair struct{ employee, date string }
	firstByPair := make(map[pair]string)

	for _, rec := range all[syncpkg.CollectionSchedules] {
		id, _ := rec["id"].(string)
		employeeID, _ := rec["employeeId"].(string)
		shiftID, _ := rec["shiftId"].(string)
		date, _ := rec["date"].(string)

		if (employeeID != "" && !employees[employeeID]) || (shiftID != "" && !shiftTypes[shiftID]) {
			report.addError(Issue{
				Collection: syncpkg.CollectionSchedules, RecordID: id,
				Message: "orphaned schedule: employee or shift type no longer exists",
			})
		}

		if employeeID == "" || date == "" {
			continue
		}
		p := pair{employeeID, date}
		if firstID, dup := firstByPair[p]; dup {
			report.addError(Issue{
				Collection: syncpkg.CollectionSchedules, RecordID: id,
				Message: fmt.Sprintf("duplicate schedule for employee %s on %s (already assigned by %s)", employeeID, date, firstID),
			})
			continue
		}
		firstByPair[p] = id
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func toCollections(ds schedule.Dataset) Collections {
	all := Collections{
		syncpkg.CollectionEmployees:  toMaps(ds.Employees),
		syncpkg.CollectionShiftTypes: toMaps(ds.ShiftTypes),
		syncpkg.CollectionJobRoles:   toMaps(ds.JobRoles),
		syncpkg.CollectionSchedules:  toMaps(ds.Schedules),
	}
	if len(ds.Rules) > 0 {
		all[syncpkg.CollectionRules] = ds.Rules
	}
	return all
}

func toMaps[T any](items []T) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

func idSet(records []map[string]any) map[string]bool {
	set := make(map[string]bool, len(records))
	for _, rec := range records {
		if id, ok := rec["id"].(string); ok && id != "" {
			set[id] = true
		}
	}
	return set
}

func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
