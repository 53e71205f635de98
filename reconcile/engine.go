// Package reconcile classifies an incoming roster against the stored table
// and applies the resulting inserts, updates and inactivations in a single
// transaction, writing one history entry per mutation.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/SamuelLeutner/student-roster-sync/config"
	"github.com/SamuelLeutner/student-roster-sync/models"
	"github.com/SamuelLeutner/student-roster-sync/normalize"
)

type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type Engine struct {
	Config   config.SyncConfig
	Store    Store
	Log      Logger
	Now      func() time.Time
	NewRunID func() string
}

func NewEngine(cfg config.SyncConfig, store Store, log Logger) *Engine {
	return &Engine{
		Config:   cfg,
		Store:    store,
		Log:      log,
		Now:      time.Now,
		NewRunID: uuid.NewString,
	}
}

type prepared struct {
	index  int
	key    string
	rec    models.NormalizedRecord
	err    error
	dateOK bool
}

// Run reconciles one batch. Per-record failures are counted in the summary;
// the returned error is non-nil only for fatal conditions, in which case no
// write of the pass is durable.
func (e *Engine) Run(ctx context.Context, records []models.RawRecord) (models.RunSummary, error) {
	started := e.Now()
	summary := models.RunSummary{
		RunID:        e.NewRunID(),
		AcademicYear: normalize.AcademicYear(started),
		StartedAt:    started,
		Fetched:      len(records),
	}
	e.Log.Info("Reconciliation: starting pass", "run_id", summary.RunID, "academic_year", summary.AcademicYear, "records", len(records))

	batch, err := e.prepare(ctx, records, summary.AcademicYear)
	if err != nil {
		return summary, fmt.Errorf("prepare records: %w", err)
	}

	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return summary, &ConnectionError{Err: err}
	}

	existing, err := tx.SnapshotKeys(ctx, summary.AcademicYear)
	if err != nil {
		return summary, e.abort(tx, fmt.Errorf("snapshot existing keys for %s: %w", summary.AcademicYear, err))
	}
	e.Log.Info("Reconciliation: loaded existing keys", "academic_year", summary.AcademicYear, "count", len(existing))

	audit := NewAuditWriter(tx, e.Now)
	known := make(map[string]struct{}, len(existing))
	for k := range existing {
		known[k] = struct{}{}
	}
	seen := make(map[string]struct{}, len(batch))

	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			return summary, e.abort(tx, fmt.Errorf("reconciliation cancelled: %w", err))
		}
		if p.err != nil {
			summary.SkippedInvalid++
			e.Log.Warn("Reconciliation: skipping invalid record", "record", p.index+1, "error", p.err)
			continue
		}
		if !p.dateOK {
			summary.DateWarnings++
			e.Log.Warn("Reconciliation: invalid created_date, storing none", "record", p.index+1, "unique_key", p.key)
		}
		seen[p.key] = struct{}{}
		e.apply(ctx, tx, audit, p, known, &summary)
	}
	e.Log.Info("Reconciliation: processed incoming records",
		"inserted", summary.Inserted, "updated", summary.Updated, "unchanged", summary.Unchanged,
		"skipped_invalid", summary.SkippedInvalid, "skipped_duplicate", summary.SkippedDuplicate)

	if err := ctx.Err(); err != nil {
		return summary, e.abort(tx, fmt.Errorf("reconciliation cancelled: %w", err))
	}
	e.inactivate(ctx, tx, audit, existing, seen, &summary)

	dups, err := tx.DuplicateKeys(ctx)
	if err != nil {
		e.Log.Error("Reconciliation: duplicate key check failed", "error", err)
	} else if len(dups) > 0 {
		summary.DuplicateKeys = dups
		for key, count := range dups {
			e.Log.Warn("Reconciliation: duplicate unique_key rows found, unique constraint is not being enforced", "unique_key", key, "count", count)
		}
	} else {
		e.Log.Info("Reconciliation: no duplicate unique_key rows found")
	}

	if total, err := tx.CountRecords(ctx); err != nil {
		e.Log.Error("Reconciliation: counting stored records failed", "error", err)
	} else {
		summary.TotalStored = total
	}

	if err := ctx.Err(); err != nil {
		return summary, e.abort(tx, fmt.Errorf("reconciliation cancelled before commit: %w", err))
	}
	if err := tx.Commit(); err != nil {
		rbErr := tx.Rollback()
		e.Log.Error("Reconciliation: commit failed, batch rolled back", "error", err, "rollback_error", rbErr)
		return summary, &CommitError{Err: err, RollbackErr: rbErr}
	}

	summary.History = audit.Entries()
	summary.FinishedAt = e.Now()
	e.Log.Info("Reconciliation: pass committed", "run_id", summary.RunID, "inactivated", summary.Inactivated,
		"history_entries", len(summary.History), "duration", summary.Duration().String())
	return summary, nil
}

func (e *Engine) abort(tx Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		e.Log.Error("Reconciliation: rollback failed", "error", rbErr)
	}
	return err
}

// prepare validates, normalizes and keys every record on a bounded worker
// pool. Results keep input order.
func (e *Engine) prepare(ctx context.Context, records []models.RawRecord, academicYear string) ([]prepared, error) {
	out := make([]prepared, len(records))
	workers := e.Config.Workers
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = prepareRecord(i, records[i], academicYear, e.Config.DateLayout)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func prepareRecord(index int, raw models.RawRecord, academicYear, dateLayout string) prepared {
	p := prepared{index: index}
	if err := Validate(raw); err != nil {
		p.err = err
		return p
	}
	p.rec, p.dateOK = normalize.Record(raw, academicYear, dateLayout)
	key, err := Key(p.rec)
	if err != nil {
		p.err = err
		return p
	}
	p.key = key
	return p
}

func (e *Engine) apply(ctx context.Context, tx Tx, audit *AuditWriter, p prepared, known map[string]struct{}, summary *models.RunSummary) {
	if _, ok := known[p.key]; !ok {
		e.insert(ctx, tx, audit, p, known, summary)
		return
	}

	stored, err := tx.Get(ctx, p.key)
	if err != nil {
		summary.WriteErrors++
		e.Log.Error("Reconciliation: reading stored record failed", "unique_key", p.key, "error", err)
		return
	}
	if stored == nil {
		summary.WriteErrors++
		e.Log.Error("Reconciliation: stored record disappeared after snapshot", "unique_key", p.key)
		return
	}

	cs := Diff(p.rec, stored)
	if !cs.HasChanges() {
		summary.Unchanged++
		e.Log.Debug("Reconciliation: no changes", "unique_key", p.key)
		return
	}

	at := e.Now()
	mark := audit.Len()
	err = tx.RecordScope(ctx, func() error {
		if err := tx.Update(ctx, p.key, p.rec, at); err != nil {
			return err
		}
		for _, entry := range UpdateEntries(p.key, cs.Changes) {
			entry.Timestamp = at
			if err := audit.Record(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		audit.Truncate(mark)
		summary.WriteErrors++
		e.Log.Error("Reconciliation: update failed", "unique_key", p.key, "error", err)
		return
	}
	summary.Updated++
	fields := make([]string, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		fields = append(fields, c.Field)
	}
	e.Log.Info("Reconciliation: updated record", "unique_key", p.key, "fields", fields)
}

func (e *Engine) insert(ctx context.Context, tx Tx, audit *AuditWriter, p prepared, known map[string]struct{}, summary *models.RunSummary) {
	at := e.Now()
	mark := audit.Len()
	err := tx.RecordScope(ctx, func() error {
		if err := tx.Insert(ctx, models.StoredRecord{NormalizedRecord: p.rec, UniqueKey: p.key, LastModifiedAt: at}); err != nil {
			return err
		}
		entry := InsertEntry(p.key)
		entry.Timestamp = at
		return audit.Record(ctx, entry)
	})

	switch {
	case err == nil:
		known[p.key] = struct{}{}
		summary.Inserted++
		e.Log.Info("Reconciliation: inserted record", "unique_key", p.key, "school", p.rec.SchoolName, "student", p.rec.StudentName)
	case errors.Is(err, ErrDuplicateKey):
		audit.Truncate(mark)
		summary.SkippedDuplicate++
		conflict := &WriteConflictError{UniqueKey: p.key, Err: err}
		e.Log.Warn("Reconciliation: key inserted concurrently, skipping", "unique_key", p.key, "error", conflict)
	default:
		audit.Truncate(mark)
		summary.WriteErrors++
		e.Log.Error("Reconciliation: insert failed", "unique_key", p.key, "error", err)
	}
}

// inactivate marks every snapshot key absent from the batch as Inactive,
// leaving rows that already are untouched.
func (e *Engine) inactivate(ctx context.Context, tx Tx, audit *AuditWriter, existing, seen map[string]struct{}, summary *models.RunSummary) {
	vanished := make([]string, 0)
	for key := range existing {
		if _, ok := seen[key]; !ok {
			vanished = append(vanished, key)
		}
	}
	if len(vanished) == 0 {
		e.Log.Info("Reconciliation: no records to mark as Inactive")
		return
	}
	sort.Strings(vanished)
	e.Log.Info("Reconciliation: checking vanished records", "count", len(vanished))

	for _, key := range vanished {
		stored, err := tx.Get(ctx, key)
		if err != nil {
			summary.WriteErrors++
			e.Log.Error("Reconciliation: reading vanished record failed", "unique_key", key, "error", err)
			continue
		}
		if stored == nil || stored.Status == models.StatusInactive {
			e.Log.Debug("Reconciliation: already inactive or gone", "unique_key", key)
			continue
		}

		at := e.Now()
		mark := audit.Len()
		transitioned := false
		err = tx.RecordScope(ctx, func() error {
			changed, err := tx.Inactivate(ctx, key, at)
			if err != nil || !changed {
				return err
			}
			transitioned = true
			entry := InactivateEntry(key, stored.Status)
			entry.Timestamp = at
			return audit.Record(ctx, entry)
		})
		if err != nil {
			audit.Truncate(mark)
			summary.WriteErrors++
			e.Log.Error("Reconciliation: marking record Inactive failed", "unique_key", key, "error", err)
			continue
		}
		if transitioned {
			summary.Inactivated++
			e.Log.Info("Reconciliation: marked record Inactive", "unique_key", key, "previous_status", stored.Status)
		}
	}
}
