package schedule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/schedule-sync/schedule"
)

func TestEntityStore_UpsertMintsIDAndOrderIndex(t *testing.T) {
	store := schedule.NewEntityStore()

	first := store.UpsertEmployee(schedule.Employee{Name: "Ada"})
	second := store.UpsertEmployee(schedule.Employee{Name: "Grace"})

	require.NotEmpty(t, first.ID)
	require.NotEmpty(t, second.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, first.OrderIndex)
	assert.Equal(t, 1, second.OrderIndex)

	// Updating in place keeps the id and the explicit order.
	first.Name = "Ada L."
	updated := store.UpsertEmployee(first)
	assert.Equal(t, first.ID, updated.ID)

	got, ok := store.Employee(first.ID)
	require.True(t, ok)
	assert.Equal(t, "Ada L.", got.Name)
}

func TestEntityStore_DeleteEmployeeCascadesSchedules(t *testing.T) {
	// GIVEN: an employee with two schedules and a colleague with one
	store := schedule.NewEntityStore()
	ada := store.UpsertEmployee(schedule.Employee{Name: "Ada"})
	grace := store.UpsertEmployee(schedule.Employee{Name: "Grace"})

	_, err := store.AssignSchedule(schedule.Schedule{EmployeeID: ada.ID, ShiftID: "day", Date: "2026-01-05"})
	require.NoError(t, err)
	_, err = store.AssignSchedule(schedule.Schedule{EmployeeID: ada.ID, ShiftID: "day", Date: "2026-01-06"})
	require.NoError(t, err)
	_, err = store.AssignSchedule(schedule.Schedule{EmployeeID: grace.ID, ShiftID: "day", Date: "2026-01-05"})
	require.NoError(t, err)

	// WHEN: deleting the first employee
	removed := store.DeleteEmployee(ada.ID)

	// THEN: both of their schedules go with them, the colleague's stays
	assert.Equal(t, 2, removed)
	snap := store.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, grace.ID, snap.Schedules[0].EmployeeID)
}

func TestEntityStore_DeleteShiftTypeCascadesSchedules(t *testing.T) {
	store := schedule.NewEntityStore()
	day := store.UpsertShiftType(schedule.ShiftType{Name: "Day", StartTime: "08:00"})
	night := store.UpsertShiftType(schedule.ShiftType{Name: "Night", StartTime: "20:00"})
	emp := store.UpsertEmployee(schedule.Employee{Name: "Ada"})

	_, err := store.AssignSchedule(schedule.Schedule{EmployeeID: emp.ID, ShiftID: day.ID, Date: "2026-01-05"})
	require.NoError(t, err)
	_, err = store.AssignSchedule(schedule.Schedule{EmployeeID: emp.ID, ShiftID: night.ID, Date: "2026-01-06"})
	require.NoError(t, err)

	removed := store.DeleteShiftType(day.ID)

	assert.Equal(t, 1, removed)
	snap := store.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, night.ID, snap.Schedules[0].ShiftID)
}

func TestEntityStore_DeleteJobRoleLeavesDanglingReference(t *testing.T) {
	// Role references are soft: the consistency fixer nulls them, the
	// store does not cascade.
	store := schedule.NewEntityStore()
	role := store.UpsertJobRole(schedule.JobRole{Name: "Nurse"})
	emp := store.UpsertEmployee(schedule.Employee{Name: "Ada", RoleID: role.ID})

	store.DeleteJobRole(role.ID)

	got, ok := store.Employee(emp.ID)
	require.True(t, ok)
	assert.Equal(t, role.ID, got.RoleID)
	_, ok = store.JobRole(role.ID)
	assert.False(t, ok)
}

func TestEntityStore_AssignScheduleReplacesSameDay(t *testing.T) {
	// GIVEN: an employee already scheduled on a date
	store := schedule.NewEntityStore()
	emp := store.UpsertEmployee(schedule.Employee{Name: "Ada"})
	first, err := store.AssignSchedule(schedule.Schedule{EmployeeID: emp.ID, ShiftID: "day", Date: "2026-01-05"})
	require.NoError(t, err)

	// WHEN: assigning a different shift on the same date
	second, err := store.AssignSchedule(schedule.Schedule{EmployeeID: emp.ID, ShiftID: "night", Date: "2026-01-05"})
	require.NoError(t, err)

	// THEN: the new assignment replaces the old one
	snap := store.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, second.ID, snap.Schedules[0].ID)
	assert.Equal(t, "night", snap.Schedules[0].ShiftID)
	_, ok := store.Schedule(first.ID)
	assert.False(t, ok)
}

func TestEntityStore_AssignScheduleRefreshesShiftClass(t *testing.T) {
	store := schedule.NewEntityStore()
	night := store.UpsertShiftType(schedule.ShiftType{Name: "Night", StartTime: "20:00", EndTime: "04:00"})
	emp := store.UpsertEmployee(schedule.Employee{Name: "Ada", ShiftType: schedule.ShiftDay})

	_, err := store.AssignSchedule(schedule.Schedule{EmployeeID: emp.ID, ShiftID: night.ID, Date: "2026-01-05"})
	require.NoError(t, err)

	got, ok := store.Employee(emp.ID)
	require.True(t, ok)
	assert.Equal(t, schedule.ShiftNight, got.ShiftType)
}

func TestEntityStore_AssignScheduleRejectsBadDate(t *testing.T) {
	store := schedule.NewEntityStore()
	_, err := store.AssignSchedule(schedule.Schedule{EmployeeID: "e1", ShiftID: "day", Date: "05/01/2026"})
	assert.Error(t, err)
}

func TestEntityStore_SnapshotOrdering(t *testing.T) {
	store := schedule.NewEntityStore()
	store.ReplaceEmployees([]schedule.Employee{
		{ID: "c", Name: "C", OrderIndex: 2},
		{ID: "a", Name: "A", OrderIndex: 0},
		{ID: "b", Name: "B", OrderIndex: 1},
	})

	snap := store.Snapshot()
	require.Len(t, snap.Employees, 3)
	assert.Equal(t, "a", snap.Employees[0].ID)
	assert.Equal(t, "b", snap.Employees[1].ID)
	assert.Equal(t, "c", snap.Employees[2].ID)

	// Snapshot hands out copies; mutating them must not touch the store.
	snap.Employees[0].Name = "mutated"
	got, _ := store.Employee("a")
	assert.Equal(t, "A", got.Name)
}

func TestClassifyShift(t *testing.T) {
	cases := []struct {
		start string
		want  string
	}{
		{"06:00", schedule.ShiftDay},
		{"08:30", schedule.ShiftDay},
		{"17:59", schedule.ShiftDay},
		{"18:00", schedule.ShiftNight},
		{"23:15", schedule.ShiftNight},
		{"05:59", schedule.ShiftNight},
		{"", schedule.ShiftDay},
		{"not-a-time", schedule.ShiftDay},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, schedule.ClassifyShift(tc.start), "start %q", tc.start)
	}
}
