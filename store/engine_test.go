package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamuelLeutner/student-roster-sync/config"
	"github.com/SamuelLeutner/student-roster-sync/logger"
	"github.com/SamuelLeutner/student-roster-sync/models"
	"github.com/SamuelLeutner/student-roster-sync/reconcile"
	"github.com/SamuelLeutner/student-roster-sync/utils"
)

func feedRecord(id, grade string) models.RawRecord {
	return models.RawRecord{
		SchoolName:   utils.Str("Alpha School"),
		Status:       utils.Str("Active"),
		GradeName:    utils.Str(grade),
		StudentName:  utils.Str("john smith"),
		StudentID:    utils.Str(id),
		Gender:       utils.Str(" male "),
		DivisionName: utils.Str("12-B"),
		CreatedDate:  utils.Str("01/06/2024"),
	}
}

func sqliteEngine(store reconcile.Store) *reconcile.Engine {
	e := reconcile.NewEngine(config.SyncConfig{Workers: 2, DateLayout: "02/01/2006"}, store, logger.NewNop())
	e.Now = func() time.Time { return time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC) }
	return e
}

// failingCommitStore hands out transactions whose Commit always fails.
type failingCommitStore struct{ *Store }

type failingCommitTx struct{ reconcile.Tx }

func (s failingCommitStore) Begin(ctx context.Context) (reconcile.Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return failingCommitTx{tx}, nil
}

func (failingCommitTx) Commit() error { return errors.New("injected commit failure") }

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestEngineOnSQLite_FullCycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := sqliteEngine(s)

	summary, err := e.Run(ctx, []models.RawRecord{feedRecord("S1", "GRADE iv"), feedRecord("S2", "GRADE 1")})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, 2, summary.TotalStored)

	summary, err = e.Run(ctx, []models.RawRecord{feedRecord("S1", "GRADE V"), feedRecord("S2", "GRADE 1")})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Unchanged)

	summary, err = e.Run(ctx, []models.RawRecord{feedRecord("S1", "GRADE V")})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inactivated)

	history, err := s.History(ctx, "ALPHA SCHOOL_S1_2024-2025")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.ChangeInsert, history[0].ChangeType)
	assert.Equal(t, models.ChangeUpdate, history[1].ChangeType)
	assert.Equal(t, "GRADE 4", utils.GetStringOrEmpty(history[1].OldValue))
	assert.Equal(t, "GRADE 5", utils.GetStringOrEmpty(history[1].NewValue))

	history, err = s.History(ctx, "ALPHA SCHOOL_S2_2024-2025")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.ChangeInactivate, history[1].ChangeType)

	tx := begin(t, s)
	got, err := tx.Get(ctx, "ALPHA SCHOOL_S1_2024-2025")
	require.NoError(t, err)
	assert.Equal(t, models.GenderMale, got.Gender)
	assert.Equal(t, "B", got.DivisionName)
	assert.Equal(t, "John Smith", got.StudentName)
	assert.Equal(t, "2024-06-01", got.CreatedDate)
	require.NoError(t, tx.Rollback())
}

func TestEngineOnSQLite_IdempotentRerun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := sqliteEngine(s)
	batch := []models.RawRecord{feedRecord("S1", "GRADE 2"), feedRecord("S2", "Sr.KG")}

	_, err := e.Run(ctx, batch)
	require.NoError(t, err)
	historyBefore := countRows(t, s, "student_data_history")

	summary, err := e.Run(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Unchanged)
	assert.Equal(t, historyBefore, countRows(t, s, "student_data_history"))
}

func TestEngineOnSQLite_CommitFailureRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := sqliteEngine(failingCommitStore{s}).Run(ctx, []models.RawRecord{feedRecord("S1", "GRADE 1")})
	var cerr *reconcile.CommitError
	require.True(t, errors.As(err, &cerr))
	assert.NoError(t, cerr.RollbackErr)

	assert.Zero(t, countRows(t, s, "active_student_data"))
	assert.Zero(t, countRows(t, s, "student_data_history"))
}
