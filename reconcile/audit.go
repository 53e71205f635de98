package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/SamuelLeutner/student-roster-sync/models"
	"github.com/SamuelLeutner/student-roster-sync/utils"
)

// AuditWriter appends history entries through a Tx and remembers the ones
// written during the pass.
type AuditWriter struct {
	tx      Tx
	now     func() time.Time
	entries []models.HistoryEntry
}

func NewAuditWriter(tx Tx, now func() time.Time) *AuditWriter {
	if now == nil {
		now = time.Now
	}
	return &AuditWriter{tx: tx, now: now}
}

func (w *AuditWriter) Record(ctx context.Context, entry models.HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = w.now()
	}
	if err := w.tx.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append %s history for '%s': %w", entry.ChangeType, entry.UniqueKey, err)
	}
	w.entries = append(w.entries, entry)
	return nil
}

func (w *AuditWriter) Len() int { return len(w.entries) }

// Truncate forgets entries recorded after mark, used when their record scope rolled back.
func (w *AuditWriter) Truncate(mark int) {
	if mark >= 0 && mark < len(w.entries) {
		w.entries = w.entries[:mark]
	}
}

func (w *AuditWriter) Entries() []models.HistoryEntry {
	out := make([]models.HistoryEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

func InsertEntry(uniqueKey string) models.HistoryEntry {
	return models.HistoryEntry{
		UniqueKey:  uniqueKey,
		ChangeType: models.ChangeInsert,
		NewValue:   utils.StringPtr(models.InitialInsertion),
	}
}

func UpdateEntries(uniqueKey string, changes []models.FieldChange) []models.HistoryEntry {
	entries := make([]models.HistoryEntry, 0, len(changes))
	for _, c := range changes {
		field := c.Field
		entries = append(entries, models.HistoryEntry{
			UniqueKey:    uniqueKey,
			ChangeType:   models.ChangeUpdate,
			FieldChanged: &field,
			OldValue:     utils.StringPtr(c.OldValue),
			NewValue:     utils.StringPtr(c.NewValue),
		})
	}
	return entries
}

func InactivateEntry(uniqueKey, previousStatus string) models.HistoryEntry {
	field := "status"
	return models.HistoryEntry{
		UniqueKey:    uniqueKey,
		ChangeType:   models.ChangeInactivate,
		FieldChanged: &field,
		OldValue:     utils.StringPtr(previousStatus),
		NewValue:     utils.StringPtr(models.StatusInactive),
	}
}
