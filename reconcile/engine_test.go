package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SamuelLeutner/student-roster-sync/config"
	"github.com/SamuelLeutner/student-roster-sync/logger"
	"github.com/SamuelLeutner/student-roster-sync/models"
	"github.com/SamuelLeutner/student-roster-sync/utils"
)

var testNow = time.Date(2024, 9, 15, 10, 0, 0, 0, time.UTC)

func newTestEngine(store Store) (*Engine, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := NewEngine(config.SyncConfig{Workers: 3, DateLayout: "02/01/2006"}, store, logger.FromZap(zap.New(core)))
	e.Now = func() time.Time { return testNow }
	e.NewRunID = func() string { return "run-1" }
	return e, logs
}

func historyOf(entries []models.HistoryEntry, kind models.ChangeType) []models.HistoryEntry {
	var out []models.HistoryEntry
	for _, e := range entries {
		if e.ChangeType == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestRun_InsertsNewRecords(t *testing.T) {
	store := newMemStore()
	e, _ := newTestEngine(store)

	summary, err := e.Run(context.Background(), []models.RawRecord{
		rawRecord("Alpha  School", "s1", "GRADE iv"),
		rawRecord("Alpha School", "S2", "Jr.KG"),
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, "2024-2025", summary.AcademicYear)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, 2, summary.TotalStored)
	assert.Equal(t, []string{"ALPHA SCHOOL_S1_2024-2025", "ALPHA SCHOOL_S2_2024-2025"}, store.keys())

	got := store.rows["ALPHA SCHOOL_S1_2024-2025"]
	assert.Equal(t, "GRADE 4", got.GradeName)
	assert.Equal(t, "Jane Doe", got.StudentName)
	assert.Equal(t, models.GenderFemale, got.Gender)
	assert.Equal(t, "A", got.DivisionName)
	assert.Equal(t, "2024-06-15", got.CreatedDate)
	assert.Equal(t, testNow, got.LastModifiedAt)
	assert.Equal(t, "JR.KG", store.rows["ALPHA SCHOOL_S2_2024-2025"].GradeName)

	require.Len(t, store.history, 2)
	for _, h := range store.history {
		assert.Equal(t, models.ChangeInsert, h.ChangeType)
		assert.Nil(t, h.FieldChanged)
		assert.Nil(t, h.OldValue)
		assert.Equal(t, models.InitialInsertion, utils.GetStringOrEmpty(h.NewValue))
		assert.Equal(t, testNow, h.Timestamp)
	}
	assert.Len(t, summary.History, 2)
	assert.Equal(t, 1, store.commits)
}

func TestRun_Idempotent(t *testing.T) {
	store := newMemStore()
	e, _ := newTestEngine(store)
	batch := []models.RawRecord{rawRecord("Alpha", "S1", "GRADE 4"), rawRecord("Alpha", "S2", "GRADE 5")}

	_, err := e.Run(context.Background(), batch)
	require.NoError(t, err)
	rowsAfterFirst := cloneRows(store.rows)
	historyAfterFirst := len(store.history)

	summary, err := e.Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Inactivated)
	assert.Equal(t, 2, summary.Unchanged)
	assert.Equal(t, rowsAfterFirst, store.rows)
	assert.Equal(t, historyAfterFirst, len(store.history))
	assert.Empty(t, summary.History)
}

func TestRun_GradeChangeWritesOneHistoryEntry(t *testing.T) {
	store := newMemStore()
	e, _ := newTestEngine(store)

	_, err := e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "S1", "GRADE 4")})
	require.NoError(t, err)

	summary, err := e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "S1", "GRADE 5")})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, []string{"ALPHA_S1_2024-2025"}, store.keys())

	updates := historyOf(store.history, models.ChangeUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "grade_name", utils.GetStringOrEmpty(updates[0].FieldChanged))
	assert.Equal(t, "GRADE 4", utils.GetStringOrEmpty(updates[0].OldValue))
	assert.Equal(t, "GRADE 5", utils.GetStringOrEmpty(updates[0].NewValue))
	assert.Equal(t, "GRADE 5", store.rows["ALPHA_S1_2024-2025"].GradeName)
}

func TestRun_InactivatesOnlyVanishedKeys(t *testing.T) {
	store := newMemStore()
	e, _ := newTestEngine(store)

	_, err := e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "K1", "GRADE 1"), rawRecord("Alpha", "K2", "GRADE 1")})
	require.NoError(t, err)

	summary, err := e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "K1", "GRADE 1")})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inactivated)
	assert.Equal(t, 1, summary.Unchanged)
	assert.Equal(t, "Active", store.rows["ALPHA_K1_2024-2025"].Status)
	assert.Equal(t, models.StatusInactive, store.rows["ALPHA_K2_2024-2025"].Status)

	inactivations := historyOf(store.history, models.ChangeInactivate)
	require.Len(t, inactivations, 1)
	assert.Equal(t, "ALPHA_K2_2024-2025", inactivations[0].UniqueKey)
	assert.Equal(t, "status", utils.GetStringOrEmpty(inactivations[0].FieldChanged))
	assert.Equal(t, "Active", utils.GetStringOrEmpty(inactivations[0].OldValue))
	assert.Equal(t, models.StatusInactive, utils.GetStringOrEmpty(inactivations[0].NewValue))

	// Already inactive rows are left alone on the next pass.
	summary, err = e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "K1", "GRADE 1")})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inactivated)
	assert.Len(t, historyOf(store.history, models.ChangeInactivate), 1)
}

func TestRun_InactivationIgnoresOtherAcademicYears(t *testing.T) {
	store := newMemStore()
	store.rows["ALPHA_OLD_2023-2024"] = models.StoredRecord{
		NormalizedRecord: models.NormalizedRecord{SchoolName: "ALPHA", StudentID: "OLD", Status: "Active", AcademicYear: "2023-2024"},
		UniqueKey:        "ALPHA_OLD_2023-2024",
	}
	e, _ := newTestEngine(store)

	summary, err := e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "S1", "GRADE 1")})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inactivated)
	assert.Equal(t, "Active", store.rows["ALPHA_OLD_2023-2024"].Status)
}

func TestRun_SkipsInvalidRecords(t *testing.T) {
	store := newMemStore()
	e, logs := newTestEngine(store)

	bad := rawRecord("Alpha", "S1", "GRADE 1")
	bad.StudentID = utils.FlexString{}

	summary, err := e.Run(context.Background(), []models.RawRecord{bad, rawRecord("Alpha", "S2", "GRADE 1")})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SkippedInvalid)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, []string{"ALPHA_S2_2024-2025"}, store.keys())
	assert.Len(t, store.history, 1)

	warned := logs.FilterMessage("Reconciliation: skipping invalid record").All()
	require.Len(t, warned, 1)
	assert.Equal(t, zapcore.WarnLevel, warned[0].Level)
}

func TestRun_InvalidDateStillInserts(t *testing.T) {
	store := newMemStore()
	e, _ := newTestEngine(store)

	raw := rawRecord("Alpha", "S1", "GRADE 1")
	raw.CreatedDate = utils.Str("2024-13-45")

	summary, err := e.Run(context.Background(), []models.RawRecord{raw})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DateWarnings)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, "", store.rows["ALPHA_S1_2024-2025"].CreatedDate)
}

func TestRun_CommitFailureLeavesNothingDurable(t *testing.T) {
	store := newMemStore()
	store.commitErr = errors.New("disk full")
	e, _ := newTestEngine(store)

	summary, err := e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "S1", "GRADE 1")})
	require.Error(t, err)

	var cerr *CommitError
	require.True(t, errors.As(err, &cerr))
	assert.EqualError(t, cerr.Err, "disk full")
	assert.Empty(t, store.rows)
	assert.Empty(t, store.history)
	assert.Equal(t, 1, store.rollbacks)
	assert.Equal(t, 1, summary.Inserted)
	assert.Empty(t, summary.History)
}

func TestRun_BeginFailureIsConnectionError(t *testing.T) {
	store := newMemStore()
	store.beginErr = errors.New("connection refused")
	e, _ := newTestEngine(store)

	_, err := e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "S1", "GRADE 1")})
	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.ErrorContains(t, err, "connection refused")
}

func TestRun_DuplicateInsertIsBenign(t *testing.T) {
	store := newMemStore()
	store.insertErrs = map[string]error{
		"ALPHA_S1_2024-2025": fmt.Errorf("insert: %w", ErrDuplicateKey),
	}
	e, logs := newTestEngine(store)

	summary, err := e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "S1", "GRADE 1"), rawRecord("Alpha", "S2", "GRADE 1")})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SkippedDuplicate)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 0, summary.WriteErrors)
	assert.Equal(t, []string{"ALPHA_S2_2024-2025"}, store.keys())
	require.Len(t, store.history, 1)
	assert.Equal(t, "ALPHA_S2_2024-2025", store.history[0].UniqueKey)
	assert.Equal(t, 1, logs.FilterMessage("Reconciliation: key inserted concurrently, skipping").Len())
}

func TestRun_WriteErrorAffectsOnlyThatRecord(t *testing.T) {
	store := newMemStore()
	store.insertErrs = map[string]error{"ALPHA_S1_2024-2025": errors.New("value too long")}
	e, logs := newTestEngine(store)

	summary, err := e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "S1", "GRADE 1"), rawRecord("Alpha", "S2", "GRADE 1")})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.WriteErrors)
	assert.Equal(t, 1, summary.Inserted)
	assert.Len(t, summary.History, 1)
	assert.Equal(t, 1, logs.FilterMessage("Reconciliation: insert failed").FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestRun_RepeatedKeyInBatch(t *testing.T) {
	store := newMemStore()
	e, _ := newTestEngine(store)

	summary, err := e.Run(context.Background(), []models.RawRecord{
		rawRecord("Alpha", "S1", "GRADE 1"),
		rawRecord("ALPHA", "s1", "GRADE 2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, "GRADE 2", store.rows["ALPHA_S1_2024-2025"].GradeName)
	assert.Len(t, historyOf(store.history, models.ChangeUpdate), 1)
}

func TestRun_ReportsDuplicateKeyRows(t *testing.T) {
	store := newMemStore()
	store.dups = map[string]int{"ALPHA_S9_2024-2025": 2}
	e, logs := newTestEngine(store)

	summary, err := e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "S1", "GRADE 1")})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ALPHA_S9_2024-2025": 2}, summary.DuplicateKeys)

	warned := logs.FilterMessage("Reconciliation: duplicate unique_key rows found, unique constraint is not being enforced").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "ALPHA_S9_2024-2025", warned[0].ContextMap()["unique_key"])
}

func TestRun_CancelledContextCommitsNothing(t *testing.T) {
	store := newMemStore()
	e, _ := newTestEngine(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, []models.RawRecord{rawRecord("Alpha", "S1", "GRADE 1")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, store.commits)
	assert.Empty(t, store.rows)
}

func TestRun_EmptyBatchInactivatesEverything(t *testing.T) {
	store := newMemStore()
	e, _ := newTestEngine(store)
	_, err := e.Run(context.Background(), []models.RawRecord{rawRecord("Alpha", "S1", "GRADE 1")})
	require.NoError(t, err)

	summary, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inactivated)
}
