package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SamuelLeutner/student-roster-sync/models"
)

// Tx implements reconcile.Tx over one database transaction.
type Tx struct {
	tx        *sql.Tx
	q         queries
	savepoint int
}

func (t *Tx) SnapshotKeys(ctx context.Context, academicYear string) (map[string]struct{}, error) {
	rows, err := t.tx.QueryContext(ctx, t.q.snapshotKeys, academicYear)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}

func (t *Tx) Get(ctx context.Context, uniqueKey string) (*models.StoredRecord, error) {
	var (
		rec                                models.StoredRecord
		status, grade, gender, createdDate sql.NullString
		modified                           timeValue
	)
	err := t.tx.QueryRowContext(ctx, t.q.get, uniqueKey).Scan(
		&rec.SchoolName, &status, &grade, &rec.StudentName, &rec.StudentID, &gender,
		&rec.DivisionName, &rec.AcademicYear, &createdDate, &rec.UniqueKey, &modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get '%s': %w", uniqueKey, err)
	}
	rec.Status = status.String
	rec.GradeName = grade.String
	rec.Gender = models.Gender(gender.String)
	rec.CreatedDate = createdDate.String
	rec.LastModifiedAt = modified.Time
	return &rec, nil
}

func (t *Tx) Insert(ctx context.Context, rec models.StoredRecord) error {
	_, err := t.tx.ExecContext(ctx, t.q.insert,
		rec.SchoolName, nullString(rec.Status), nullString(rec.GradeName), rec.StudentName,
		rec.StudentID, nullString(string(rec.Gender)), rec.DivisionName, rec.AcademicYear,
		nullString(rec.CreatedDate), rec.UniqueKey, rec.LastModifiedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert '%s': %w: %v", rec.UniqueKey, ErrDuplicateKey, err)
		}
		return fmt.Errorf("insert '%s': %w", rec.UniqueKey, err)
	}
	return nil
}

// Update rewrites the mutable columns. created_date keeps its inserted value.
func (t *Tx) Update(ctx context.Context, uniqueKey string, rec models.NormalizedRecord, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, t.q.update,
		nullString(rec.Status), nullString(rec.GradeName), rec.StudentName,
		nullString(string(rec.Gender)), rec.DivisionName, at.UTC(), uniqueKey,
	)
	if err != nil {
		return fmt.Errorf("update '%s': %w", uniqueKey, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update '%s': no row with that key", uniqueKey)
	}
	return nil
}

func (t *Tx) Inactivate(ctx context.Context, uniqueKey string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.q.inactivate, models.StatusInactive, at.UTC(), uniqueKey, models.StatusInactive)
	if err != nil {
		return false, fmt.Errorf("inactivate '%s': %w", uniqueKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inactivate '%s': rows affected: %w", uniqueKey, err)
	}
	return n > 0, nil
}

func (t *Tx) AppendHistory(ctx context.Context, entry models.HistoryEntry) error {
	_, err := t.tx.ExecContext(ctx, t.q.appendHistory,
		entry.UniqueKey, string(entry.ChangeType), nullPtr(entry.FieldChanged),
		nullPtr(entry.OldValue), nullPtr(entry.NewValue), entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (t *Tx) DuplicateKeys(ctx context.Context) (map[string]int, error) {
	rows, err := t.tx.QueryContext(ctx, t.q.duplicateKeys)
	if err != nil {
		return nil, fmt.Errorf("query duplicate keys: %w", err)
	}
	defer rows.Close()

	dups := make(map[string]int)
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan duplicate key: %w", err)
		}
		dups[key] = count
	}
	return dups, rows.Err()
}

func (t *Tx) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, t.q.countRecords).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// RecordScope wraps fn in a savepoint. On failure the savepoint is rolled
// back so the surrounding transaction stays usable.
func (t *Tx) RecordScope(ctx context.Context, fn func() error) error {
	t.savepoint++
	name := fmt.Sprintf("record_%d", t.savepoint)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("release savepoint: %w", relErr))
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback is a no-op once the transaction has already finished.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// timeValue scans timestamps that drivers return either as time.Time or as text.
type timeValue struct {
	Time time.Time
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (v *timeValue) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		v.Time = time.Time{}
		return nil
	case time.Time:
		v.Time = s
		return nil
	case []byte:
		return v.parse(string(s))
	case string:
		return v.parse(s)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (v *timeValue) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			v.Time = t
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
