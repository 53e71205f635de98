package services

import (
	"context"
	"fmt"
	"time"

	"github.com/SamuelLeutner/student-roster-sync/logger"
	"github.com/SamuelLeutner/student-roster-sync/models"
	"github.com/SamuelLeutner/student-roster-sync/utils"
)

const (
	RunsSheet    = "Sync Runs"
	ChangesSheet = "Roster Changes"
)

var (
	runHeaders = []string{
		"run_id", "academic_year", "started_at", "finished_at", "fetched", "inserted",
		"updated", "unchanged", "inactivated", "skipped_invalid", "skipped_duplicate",
		"write_errors", "total_stored",
	}
	changeHeaders = []string{
		"run_id", "change_timestamp", "unique_key", "change_type", "field_changed", "old_value", "new_value",
	}
)

// RunReporter mirrors each committed run into a spreadsheet: one summary row
// per run and one row per history entry.
type RunReporter struct {
	Writer SheetWriter
	Log    *logger.Logger
}

func NewRunReporter(writer SheetWriter, log *logger.Logger) *RunReporter {
	return &RunReporter{Writer: writer, Log: log}
}

func (r *RunReporter) Report(ctx context.Context, summary models.RunSummary) error {
	if err := r.prepareSheet(ctx, RunsSheet, runHeaders); err != nil {
		return err
	}
	if err := r.Writer.AppendRows(ctx, RunsSheet, [][]interface{}{SummaryRow(summary)}); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}

	if len(summary.History) == 0 {
		r.Log.Info("Report: run summary written, no changes to report", "run_id", summary.RunID)
		return nil
	}

	if err := r.prepareSheet(ctx, ChangesSheet, changeHeaders); err != nil {
		return err
	}
	rows := make([][]interface{}, 0, len(summary.History))
	for _, entry := range summary.History {
		rows = append(rows, ChangeRow(summary.RunID, entry))
	}
	if err := r.Writer.AppendRows(ctx, ChangesSheet, rows); err != nil {
		return fmt.Errorf("write change rows: %w", err)
	}
	r.Log.Info("Report: run written to spreadsheet", "run_id", summary.RunID, "changes", len(rows))
	return nil
}

func (r *RunReporter) prepareSheet(ctx context.Context, name string, headers []string) error {
	created, err := r.Writer.EnsureSheetExists(ctx, name)
	if err != nil {
		return fmt.Errorf("ensure sheet '%s': %w", name, err)
	}
	if !created {
		return nil
	}
	if err := r.Writer.SetHeaders(ctx, name, headers); err != nil {
		return fmt.Errorf("set headers on '%s': %w", name, err)
	}
	return nil
}

func SummaryRow(s models.RunSummary) []interface{} {
	return []interface{}{
		s.RunID, s.AcademicYear, s.StartedAt.UTC().Format(time.RFC3339), s.FinishedAt.UTC().Format(time.RFC3339),
		s.Fetched, s.Inserted, s.Updated, s.Unchanged, s.Inactivated,
		s.SkippedInvalid, s.SkippedDuplicate, s.WriteErrors, s.TotalStored,
	}
}

func ChangeRow(runID string, e models.HistoryEntry) []interface{} {
	return []interface{}{
		runID, e.Timestamp.UTC().Format(time.RFC3339), e.UniqueKey, string(e.ChangeType),
		utils.GetStringOrEmpty(e.FieldChanged), utils.GetStringOrEmpty(e.OldValue), utils.GetStringOrEmpty(e.NewValue),
	}
}
