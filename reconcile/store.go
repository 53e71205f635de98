package reconcile

import (
	"context"
	"time"

	"github.com/SamuelLeutner/student-roster-sync/models"
)

// Store opens the single transaction a reconciliation pass runs in.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the store gateway seen by the engine. Get returns nil, nil for an
// unknown key; Insert returns an error wrapping ErrDuplicateKey when the key
// is already taken.
type Tx interface {
	SnapshotKeys(ctx context.Context, academicYear string) (map[string]struct{}, error)
	Get(ctx context.Context, uniqueKey string) (*models.StoredRecord, error)
	Insert(ctx context.Context, rec models.StoredRecord) error
	Update(ctx context.Context, uniqueKey string, rec models.NormalizedRecord, at time.Time) error
	// Inactivate reports whether the row actually transitioned.
	Inactivate(ctx context.Context, uniqueKey string, at time.Time) (bool, error)
	AppendHistory(ctx context.Context, entry models.HistoryEntry) error
	DuplicateKeys(ctx context.Context) (map[string]int, error)
	CountRecords(ctx context.Context) (int, error)
	// RecordScope runs fn so that a failure undoes only the writes fn made.
	RecordScope(ctx context.Context, fn func() error) error
	Commit() error
	Rollback() error
}
