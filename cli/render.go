package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/SamuelLeutner/student-roster-sync/models"
	"github.com/SamuelLeutner/student-roster-sync/store"
)

var rule = strings.Repeat("=", 52)

func writeLine(b *strings.Builder, label string, value interface{}) {
	fmt.Fprintf(b, "%-22s %v\n", label+":", value)
}

// RenderSummary prints the end-of-run banner.
func RenderSummary(w io.Writer, s models.RunSummary) error {
	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString("Sync summary\n")
	b.WriteString(rule + "\n")
	writeLine(&b, "Run ID", s.RunID)
	writeLine(&b, "Academic year", s.AcademicYear)
	writeLine(&b, "Fetched", s.Fetched)
	writeLine(&b, "Inserted", s.Inserted)
	writeLine(&b, "Updated", s.Updated)
	writeLine(&b, "Unchanged", s.Unchanged)
	writeLine(&b, "Inactivated", s.Inactivated)
	writeLine(&b, "Skipped (invalid)", s.SkippedInvalid)
	writeLine(&b, "Skipped (duplicate)", s.SkippedDuplicate)
	writeLine(&b, "Write errors", s.WriteErrors)
	writeLine(&b, "Date warnings", s.DateWarnings)
	writeLine(&b, "History entries", len(s.History))
	writeLine(&b, "Total in database", s.TotalStored)
	writeLine(&b, "Duration", s.Duration().Round(time.Millisecond))

	if len(s.DuplicateKeys) > 0 {
		keys := make([]string, 0, len(s.DuplicateKeys))
		for k := range s.DuplicateKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Duplicate unique keys:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s (%d rows)\n", k, s.DuplicateKeys[k])
		}
	}
	b.WriteString(rule + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func orNull(s *string) string {
	if s == nil {
		return "NULL"
	}
	return *s
}

// RenderHistory prints the audit trail of one key, oldest first.
func RenderHistory(w io.Writer, uniqueKey string, entries []models.HistoryEntry) error {
	var b strings.Builder
	if len(entries) == 0 {
		fmt.Fprintf(&b, "No history for %s.\n", uniqueKey)
	} else {
		fmt.Fprintf(&b, "History for %s (%d entries)\n", uniqueKey, len(entries))
		for _, e := range entries {
			fmt.Fprintf(&b, "%s  %-10s  %s: %s -> %s\n",
				e.Timestamp.UTC().Format(time.RFC3339), e.ChangeType,
				orNull(e.FieldChanged), orNull(e.OldValue), orNull(e.NewValue))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func RenderRekey(w io.Writer, r store.RekeyResult, dryRun bool) error {
	var b strings.Builder
	if dryRun {
		fmt.Fprintf(&b, "Rekey plan (dry run, nothing written): %d rows scanned\n", r.Scanned)
	} else {
		fmt.Fprintf(&b, "Rekey applied: %d rows scanned\n", r.Scanned)
	}
	fmt.Fprintf(&b, "Rekeyed: %d\n", len(r.Rekeyed))
	for _, c := range r.Rekeyed {
		fmt.Fprintf(&b, "  %s -> %s\n", c.OldKey, c.NewKey)
	}
	fmt.Fprintf(&b, "Removed duplicates: %d\n", len(r.Removed))
	for _, k := range r.Removed {
		fmt.Fprintf(&b, "  %s\n", k)
	}
	fmt.Fprintf(&b, "Unkeyable rows: %d\n", r.Unkeyable)
	_, err := io.WriteString(w, b.String())
	return err
}
