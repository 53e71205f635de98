package models

import "time"

type ChangeType string

const (
	ChangeInsert     ChangeType = "INSERT"
	ChangeUpdate     ChangeType = "UPDATE"
	ChangeInactivate ChangeType = "INACTIVATE"
)

const InitialInsertion = "Initial Insertion"

// HistoryEntry is an immutable audit row. Nil pointers are stored as NULL.
type HistoryEntry struct {
	ID           int64      `json:"id,omitempty"`
	UniqueKey    string     `json:"unique_key"`
	ChangeType   ChangeType `json:"change_type"`
	FieldChanged *string    `json:"field_changed"`
	OldValue     *string    `json:"old_value"`
	NewValue     *string    `json:"new_value"`
	Timestamp    time.Time  `json:"timestamp"`
}
