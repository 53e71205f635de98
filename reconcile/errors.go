package reconcile

import (
	"errors"
	"fmt"
)

// ErrDuplicateKey is returned by a Tx when an insert violates the unique key constraint.
var ErrDuplicateKey = errors.New("duplicate unique key")

type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing or empty required field '%s'", e.Field)
}

type IdentityError struct {
	Field string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("cannot derive unique key: '%s' is absent", e.Field)
}

// WriteConflictError reports an insert that lost a race with another writer.
type WriteConflictError struct {
	UniqueKey string
	Err       error
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("write conflict on unique key '%s': %v", e.UniqueKey, e.Err)
}

func (e *WriteConflictError) Unwrap() error { return e.Err }

type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("store connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommitError is fatal: every write of the pass has been rolled back.
type CommitError struct {
	Err         error
	RollbackErr error
}

func (e *CommitError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("commit failed: %v (rollback also failed: %v)", e.Err, e.RollbackErr)
	}
	return fmt.Sprintf("commit failed, batch rolled back: %v", e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
