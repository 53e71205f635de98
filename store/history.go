package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/SamuelLeutner/student-roster-sync/models"
)

// History returns the audit trail of one key, oldest first.
func (s *Store) History(ctx context.Context, uniqueKey string) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q.history, uniqueKey)
	if err != nil {
		return nil, fmt.Errorf("query history for '%s': %w", uniqueKey, err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var (
			e                 models.HistoryEntry
			changeType        string
			field, oldV, newV sql.NullString
			at                timeValue
		)
		if err := rows.Scan(&e.ID, &e.UniqueKey, &changeType, &field, &oldV, &newV, &at); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.ChangeType = models.ChangeType(changeType)
		e.FieldChanged = ptr(field)
		e.OldValue = ptr(oldV)
		e.NewValue = ptr(newV)
		e.Timestamp = at.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
