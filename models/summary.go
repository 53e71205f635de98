package models

import "time"

type RunSummary struct {
	RunID            string         `json:"run_id"`
	AcademicYear     string         `json:"academic_year"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	Fetched          int            `json:"fetched"`
	Inserted         int            `json:"inserted"`
	Updated          int            `json:"updated"`
	Unchanged        int            `json:"unchanged"`
	Inactivated      int            `json:"inactivated"`
	SkippedInvalid   int            `json:"skipped_invalid"`
	SkippedDuplicate int            `json:"skipped_duplicate"`
	WriteErrors      int            `json:"write_errors"`
	DateWarnings     int            `json:"date_warnings"`
	DuplicateKeys    map[string]int `json:"duplicate_keys,omitempty"`
	TotalStored      int            `json:"total_stored"`
	History          []HistoryEntry `json:"-"`
}

func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
