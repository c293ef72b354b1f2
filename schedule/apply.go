package schedule

import (
	"encoding/json"
	"fmt"

	syncpkg "github.com/warp/schedule-sync/sync"
)

// ApplyRecords replaces one named collection in the entity store from
// sync-level records. This is the delivery path shared by the startup
// loader and the change reconciler.
func ApplyRecords(store *EntityStore, collection string, records []syncpkg.Record) error {
	switch collection {
	case syncpkg.CollectionEmployees:
		items, err := EmployeesFromRecords(records)
		if err != nil {
			return fmt.Errorf("apply %s: %w", collection, err)
		}
		store.ReplaceEmployees(items)
	case syncpkg.CollectionShiftTypes:
		items, err := ShiftTypesFromRecords(records)
		if err != nil {
			return fmt.Errorf("apply %s: %w", collection, err)
		}
		store.ReplaceShiftTypes(items)
	case syncpkg.CollectionJobRoles:
		items, err := JobRolesFromRecords(records)
		if err != nil {
			return fmt.Errorf("apply %s: %w", collection, err)
		}
		store.ReplaceJobRoles(items)
	case syncpkg.CollectionSchedules:
		items, err := SchedulesFromRecords(records)
		if err != nil {
			return fmt.Errorf("apply %s: %w", collection, err)
		}
		store.ReplaceSchedules(items)
	case syncpkg.CollectionRules:
		items := make([]map[string]any, 0, len(records))
		for _, r := range records {
			var m map[string]any
			if err := json.Unmarshal(r.Data, &m); err != nil {
				return fmt.Errorf("apply %s: %w", collection, err)
			}
			items = append(items, m)
		}
		store.ReplaceRules(items)
	default:
		return fmt.Errorf("apply: unknown collection %q", collection)
	}
	return nil
}

// CollectionRecords returns one named collection from a dataset snapshot
// as sync-level records (the write path counterpart of ApplyRecords).
func CollectionRecords(ds Dataset, collection string) ([]syncpkg.Record, error) {
	switch collection {
	case syncpkg.CollectionEmployees:
		return EmployeesToRecords(ds.Employees), nil
	case syncpkg.CollectionShiftTypes:
		return ShiftTypesToRecords(ds.ShiftTypes), nil
	case syncpkg.CollectionJobRoles:
		return JobRolesToRecords(ds.JobRoles), nil
	case syncpkg.CollectionSchedules:
		return SchedulesToRecords(ds.Schedules), nil
	case syncpkg.CollectionRules:
		records := make([]syncpkg.Record, 0, len(ds.Rules))
		for _, m := range ds.Rules {
			data, err := json.Marshal(m)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", collection, err)
			}
			id, _ := m["id"].(string)
			records = append(records, syncpkg.Record{ID: id, Data: data})
		}
		return records, nil
	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
}
