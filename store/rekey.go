package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/SamuelLeutner/student-roster-sync/models"
	"github.com/SamuelLeutner/student-roster-sync/reconcile"
)

// KeyChange is one row whose stored key differs from the key its fields produce today.
type KeyChange struct {
	OldKey string
	NewKey string
}

type RekeyResult struct {
	Scanned int
	Rekeyed []KeyChange
	// Removed lists keys of older rows dropped because a more recent row
	// produces the same key.
	Removed []string
	// Unkeyable counts rows missing an identity field.
	Unkeyable int
}

type rekeyRow struct {
	id        int64
	rec       models.NormalizedRecord
	uniqueKey string
}

// Rekey recomputes every stored key with the current identity rule. When
// several rows collapse onto one key the most recent row is kept and the
// others are deleted; their history follows the new key. With dryRun the
// plan is computed and nothing is written.
func (s *Store) Rekey(ctx context.Context, dryRun bool) (RekeyResult, error) {
	var result RekeyResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, s.q.rekeyRows)
	if err != nil {
		return result, fmt.Errorf("query stored rows: %w", err)
	}
	var all []rekeyRow
	for rows.Next() {
		var r rekeyRow
		if err := rows.Scan(&r.id, &r.rec.SchoolName, &r.rec.StudentID, &r.rec.AcademicYear, &r.uniqueKey); err != nil {
			rows.Close()
			return result, fmt.Errorf("scan stored row: %w", err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return result, fmt.Errorf("iterate stored rows: %w", err)
	}
	rows.Close()
	result.Scanned = len(all)

	// Rows arrive most recent first, so the first row seen for a key wins.
	kept := make(map[string]rekeyRow)
	var deletions []rekeyRow
	var updates []rekeyRow
	newKeys := make(map[int64]string)
	for _, r := range all {
		key, err := reconcile.Key(r.rec)
		if err != nil {
			result.Unkeyable++
			continue
		}
		newKeys[r.id] = key
		if _, ok := kept[key]; ok {
			deletions = append(deletions, r)
			continue
		}
		kept[key] = r
		if r.uniqueKey != key {
			updates = append(updates, r)
		}
	}

	for _, r := range deletions {
		result.Removed = append(result.Removed, r.uniqueKey)
	}
	for _, r := range updates {
		result.Rekeyed = append(result.Rekeyed, KeyChange{OldKey: r.uniqueKey, NewKey: newKeys[r.id]})
	}
	sort.Strings(result.Removed)
	sort.Slice(result.Rekeyed, func(i, j int) bool { return result.Rekeyed[i].OldKey < result.Rekeyed[j].OldKey })

	if dryRun {
		return result, nil
	}

	for _, r := range deletions {
		if _, err := tx.ExecContext(ctx, s.q.rekeyDelete, r.id); err != nil {
			return result, fmt.Errorf("delete superseded row '%s': %w", r.uniqueKey, err)
		}
		if err := repointHistory(ctx, tx, s.q.rekeyHistory, r.uniqueKey, newKeys[r.id]); err != nil {
			return result, err
		}
	}
	for _, r := range updates {
		newKey := newKeys[r.id]
		if _, err := tx.ExecContext(ctx, s.q.rekeyUpdate, newKey, r.id); err != nil {
			return result, fmt.Errorf("rekey '%s' to '%s': %w", r.uniqueKey, newKey, err)
		}
		if err := repointHistory(ctx, tx, s.q.rekeyHistory, r.uniqueKey, newKey); err != nil {
			return result, err
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit rekey: %w", err)
	}
	return result, nil
}

func repointHistory(ctx context.Context, tx *sql.Tx, query, oldKey, newKey string) error {
	if oldKey == newKey {
		return nil
	}
	if _, err := tx.ExecContext(ctx, query, newKey, oldKey); err != nil {
		return fmt.Errorf("move history of '%s' to '%s': %w", oldKey, newKey, err)
	}
	return nil
}
