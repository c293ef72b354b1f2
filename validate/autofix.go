/*
autofix.go - Whitelisted automatic repairs

PURPOSE:
  Applies the two repairs the system trusts itself to make without a
  human: nulling an employee's dangling role reference and removing
  schedules whose employee or shift type no longer exists. Anything else
  found by validation stays an Error.

WRITE-BACK:
  Collections that actually changed are pushed back through the remote
  store client's bulk path so every session converges on the repaired
  state. Write-back failure does not undo the in-memory repair; the
  caller sees the error and retries the bulk write (idempotent).

SEE ALSO:
  - validate.go: The validation pass that finds what this fixes
*/
package validate

import (
	"context"
	"fmt"

	"github.com/warp/schedule-sync/schedule"
	syncpkg "github.com/warp/schedule-sync/sync"
)

// FixResult reports what auto-fix changed.
type FixResult struct {
	RolesCleared     int  `json:"rolesCleared"`   // dangling Employee.RoleID nulled
	OrphansRemoved   int  `json:"orphansRemoved"` // Schedules removed
	EmployeesChanged bool `json:"employeesChanged"`
	SchedulesChanged bool `json:"schedulesChanged"`
}

// AutoFix repairs the dataset in place (on the returned copy) and writes
// changed collections back through client. client may be nil to fix
// without write-back (tests, dry runs).
func AutoFix(ctx context.Context, ds schedule.Dataset, client *syncpkg.Client, metrics *syncpkg.Metrics) (schedule.Dataset, FixResult, error) {
	var result FixResult

	roles := make(map[string]bool, len(ds.JobRoles))
	for _, r := range ds.JobRoles {
		roles[r.ID] = true
	}
	employees := make(map[string]bool, len(ds.Employees))

	// (a) Null dangling role references.
	fixedEmployees := make([]schedule.Employee, len(ds.Employees))
	for i, e := range ds.Employees {
		employees[e.ID] = true
		if e.RoleID != "" && !roles[e.RoleID] {
			e.RoleID = ""
			result.RolesCleared++
		}
		fixedEmployees[i] = e
	}
	result.EmployeesChanged = result.RolesCleared > 0

	shiftTypes := make(map[string]bool, len(ds.ShiftTypes))
	for _, st := range ds.ShiftTypes {
		shiftTypes[st.ID] = true
	}

	// (b) Remove orphaned schedules.
	fixedSchedules := make([]schedule.Schedule, 0, len(ds.Schedules))
	for _, sc := range ds.Schedules {
		if !employees[sc.EmployeeID] || !shiftTypes[sc.ShiftID] {
			result.OrphansRemoved++
			continue
		}
		fixedSchedules = append(fixedSchedules, sc)
	}
	result.SchedulesChanged = result.OrphansRemoved > 0

	fixed := ds
	fixed.Employees = fixedEmployees
	fixed.Schedules = fixedSchedules
	metrics.AutoFix(result.RolesCleared + result.OrphansRemoved)

	if client == nil {
		return fixed, result, nil
	}

	if result.EmployeesChanged {
		if err := client.BatchReplace(ctx, syncpkg.CollectionEmployees, schedule.EmployeesToRecords(fixed.Employees)); err != nil {
			return fixed, result, fmt.Errorf("write back employees: %w", err)
		}
	}
	if result.SchedulesChanged {
		if err := client.BatchReplace(ctx, syncpkg.CollectionSchedules, schedule.SchedulesToRecords(fixed.Schedules)); err != nil {
			return fixed, result, fmt.Errorf("write back schedules: %w", err)
		}
	}
	return fixed, result, nil
}
