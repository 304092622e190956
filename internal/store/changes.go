package store

import (
	"encoding/json"
	"fmt"
)

// ChangeChannel is the NOTIFY channel fed by the kt_notify_change trigger.
const ChangeChannel = "kt_changes"

const (
	TableProjects       = "projects"
	TableProjectMembers = "project_members"
	TableSections       = "sections"
)

// ChangeEvent is one row change delivered on ChangeChannel. New is nil for
// DELETE and Old is nil for INSERT.
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  string          `json:"type"`
	New   json.RawMessage `json:"new"`
	Old   json.RawMessage `json:"old"`
}

func DecodeChangeEvent(payload string) (ChangeEvent, error) {
	var event ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if event.Table == "" || event.Type == "" {
		return ChangeEvent{}, fmt.Errorf("decode change event: missing table or type")
	}
	return event, nil
}

// ProjectID returns the id of the project the changed row belongs to, or ""
// when the payload does not carry one.
func (e ChangeEvent) ProjectID() string {
	row := e.New
	if isNull(row) {
		row = e.Old
	}
	if isNull(row) {
		return ""
	}

	switch e.Table {
	case TableProjects:
		var record projectRecord
		if err := json.Unmarshal(row, &record); err != nil {
			return ""
		}
		return record.ID
	case TableProjectMembers:
		var record memberRecord
		if err := json.Unmarshal(row, &record); err != nil {
			return ""
		}
		return record.ProjectID
	case TableSections:
		var record sectionRecord
		if err := json.Unmarshal(row, &record); err != nil {
			return ""
		}
		return record.ProjectID
	default:
		return ""
	}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
