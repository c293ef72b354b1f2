/*
types.go - Scheduling domain entities

PURPOSE:
  The typed data model the rest of the repository works with. The sync
  engine moves opaque JSON records; this package gives them shape and
  provides the conversions in both directions.

ENTITIES:
  Employee:  staff member; may reference a JobRole (nullable)
  ShiftType: named shift with color and optional start/end times
  JobRole:   named role with department and pay rate
  Schedule:  one assignment of an employee to a shift on a date

REFERENTIAL RULES (enforced by the validate package):
  Schedule.EmployeeID -> Employee   hard (Error when dangling)
  Schedule.ShiftID    -> ShiftType  hard (Error when dangling)
  Employee.RoleID     -> JobRole    soft (Warning; a role is optional)
  At most one Schedule per (EmployeeID, Date).
  ShiftType.Name and JobRole.Name unique within a tenant.

SEE ALSO:
  - entitystore.go: Session-owned mutable collections
  - validate/: Consistency rules and auto-fix
*/
package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	syncpkg "github.com/warp/schedule-sync/sync"
)

// =============================================================================
// ENTITIES
// =============================================================================

// Priority is the optional employee priority band.
type Priority string

const (
	PriorityA Priority = "A"
	PriorityB Priority = "B"
	PriorityC Priority = "C"
)

// ShiftClass is the derived day/night classification cached on employees.
type ShiftClass = string

const (
	ShiftDay   ShiftClass = "Day"
	ShiftNight ShiftClass = "Night"
)

// Employee is one staff member.
type Employee struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	RoleID     string   `json:"roleId,omitempty"`
	ShiftType  string   `json:"shiftType,omitempty"` // cached Day/Night classification
	Priority   Priority `json:"priority,omitempty"`
	OrderIndex int      `json:"orderIndex"` // stable import order
}

// ShiftType is a shift definition. Name is unique within a tenant.
type ShiftType struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	StartTime string `json:"startTime,omitempty"` // "HH:MM"
	EndTime   string `json:"endTime,omitempty"`
}

// JobRole is a staff role. Name is unique within a tenant.
type JobRole struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Color      string          `json:"color"`
	Department string          `json:"department"`
	PayRate    decimal.Decimal `json:"payRate"`
}

// DateLayout is the calendar-date wire form of Schedule.Date.
const DateLayout = "2006-01-02"

// Schedule assigns an employee to a shift on a calendar date.
// At most one Schedule exists per (EmployeeID, Date).
type Schedule struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employeeId"`
	ShiftID    string `json:"shiftId"`
	Date       string `json:"date"` // ISO form, DateLayout
}

// NewID mints an opaque unique id.
func NewID() string {
	return uuid.NewString()
}

// ValidDate reports whether date is a well-formed calendar date.
func ValidDate(date string) bool {
	_, err := time.Parse(DateLayout, date)
	return err == nil
}

// =============================================================================
// DAY/NIGHT CLASSIFICATION
// =============================================================================

// ClassifyShift derives the Day/Night class from a shift's start time.
// Shifts starting in [06:00, 18:00) are Day, the rest Night. An absent or
// unparseable start defaults to Day.
func ClassifyShift(startTime string) ShiftClass {
	if startTime == "" {
		return ShiftDay
	}
	t, err := time.Parse("15:04", startTime)
	if err != nil {
		return ShiftDay
	}
	if h := t.Hour(); h >= 6 && h < 18 {
		return ShiftDay
	}
	return ShiftNight
}

// =============================================================================
// RECORD CONVERSIONS
// =============================================================================

// Conversions between typed slices and the sync engine's opaque records.
// Marshal errors on these types are impossible in practice, so the To*
// direction panics on one (it would mean a programming error, not input).

func toRecords[T any](items []T, id func(T) string) []syncpkg.Record {
	records := make([]syncpkg.Record, len(items))
	for i, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			panic(fmt.Sprintf("schedule: marshal record: %v", err))
		}
		records[i] = syncpkg.Record{ID: id(item), Data: data}
	}
	return records
}

func fromRecords[T any](records []syncpkg.Record) ([]T, error) {
	items := make([]T, 0, len(records))
	for _, r := range records {
		var item T
		if err := json.Unmarshal(r.Data, &item); err != nil {
			return nil, fmt.Errorf("decode record %q: %w", r.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func EmployeesToRecords(items []Employee) []syncpkg.Record {
	return toRecords(items, func(e Employee) string { return e.ID })
}

func EmployeesFromRecords(records []syncpkg.Record) ([]Employee, error) {
	return fromRecords[Employee](records)
}

func ShiftTypesToRecords(items []ShiftType) []syncpkg.Record {
	return toRecords(items, func(s ShiftType) string { return s.ID })
}

func ShiftTypesFromRecords(records []syncpkg.Record) ([]ShiftType, error) {
	return fromRecords[ShiftType](records)
}

func JobRolesToRecords(items []JobRole) []syncpkg.Record {
	return toRecords(items, func(r JobRole) string { return r.ID })
}

func JobRolesFromRecords(records []syncpkg.Record) ([]JobRole, error) {
	return fromRecords[JobRole](records)
}

func SchedulesToRecords(items []Schedule) []syncpkg.Record {
	return toRecords(items, func(s Schedule) string { return s.ID })
}

func SchedulesFromRecords(records []syncpkg.Record) ([]Schedule, error) {
	return fromRecords[Schedule](records)
}
