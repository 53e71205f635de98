package reconcile

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/SamuelLeutner/student-roster-sync/models"
)

// memStore is an in-memory Store whose transactions work on a copy that is
// published on Commit.
type memStore struct {
	rows    map[string]models.StoredRecord
	history []models.HistoryEntry

	beginErr   error
	commitErr  error
	insertErrs map[string]error
	dups       map[string]int

	commits   int
	rollbacks int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]models.StoredRecord)}
}

func (m *memStore) Begin(context.Context) (Tx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return &memTx{store: m, rows: cloneRows(m.rows), history: append([]models.HistoryEntry(nil), m.history...)}, nil
}

func (m *memStore) keys() []string {
	out := make([]string, 0, len(m.rows))
	for k := range m.rows {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cloneRows(in map[string]models.StoredRecord) map[string]models.StoredRecord {
	out := make(map[string]models.StoredRecord, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type memTx struct {
	store   *memStore
	rows    map[string]models.StoredRecord
	history []models.HistoryEntry
	done    bool
}

var errTxDone = errors.New("transaction already finished")

func (t *memTx) SnapshotKeys(_ context.Context, academicYear string) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	for k, r := range t.rows {
		if r.AcademicYear == academicYear {
			keys[k] = struct{}{}
		}
	}
	return keys, nil
}

func (t *memTx) Get(_ context.Context, uniqueKey string) (*models.StoredRecord, error) {
	r, ok := t.rows[uniqueKey]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *memTx) Insert(_ context.Context, rec models.StoredRecord) error {
	if err := t.store.insertErrs[rec.UniqueKey]; err != nil {
		return err
	}
	if _, ok := t.rows[rec.UniqueKey]; ok {
		return ErrDuplicateKey
	}
	t.rows[rec.UniqueKey] = rec
	return nil
}

func (t *memTx) Update(_ context.Context, uniqueKey string, rec models.NormalizedRecord, at time.Time) error {
	r, ok := t.rows[uniqueKey]
	if !ok {
		return errors.New("no row")
	}
	created := r.CreatedDate
	r.NormalizedRecord = rec
	r.CreatedDate = created
	r.LastModifiedAt = at
	t.rows[uniqueKey] = r
	return nil
}

func (t *memTx) Inactivate(_ context.Context, uniqueKey string, at time.Time) (bool, error) {
	r, ok := t.rows[uniqueKey]
	if !ok || r.Status == models.StatusInactive {
		return false, nil
	}
	r.Status = models.StatusInactive
	r.LastModifiedAt = at
	t.rows[uniqueKey] = r
	return true, nil
}

func (t *memTx) AppendHistory(_ context.Context, entry models.HistoryEntry) error {
	entry.ID = int64(len(t.history) + 1)
	t.history = append(t.history, entry)
	return nil
}

func (t *memTx) DuplicateKeys(context.Context) (map[string]int, error) {
	return t.store.dups, nil
}

func (t *memTx) CountRecords(context.Context) (int, error) {
	return len(t.rows), nil
}

func (t *memTx) RecordScope(_ context.Context, fn func() error) error {
	rows := cloneRows(t.rows)
	mark := len(t.history)
	if err := fn(); err != nil {
		t.rows = rows
		t.history = t.history[:mark]
		return err
	}
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return errTxDone
	}
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	t.done = true
	t.store.rows = t.rows
	t.store.history = t.history
	t.store.commits++
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.rollbacks++
	return nil
}
