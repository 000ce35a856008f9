package coherence

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTransactionContext is returned when an action is registered without a
	// unit of work.
	ErrMissingTransactionContext = errors.New("coherence: missing transaction context")

	// ErrUnitOfWorkClosed is returned when a finished unit of work is used again.
	ErrUnitOfWorkClosed = errors.New("coherence: unit of work is closed")

	// ErrDataNotFound matches every *DataNotFoundError.
	ErrDataNotFound = errors.New("coherence: data not found")

	// ErrUnknownDimension is returned by index and count reads on fields that are not
	// configured as cache fields, since their entries would never be invalidated.
	ErrUnknownDimension = errors.New("coherence: field is not a configured cache dimension")
)

// DataNotFoundError reports a required lookup that resolved to nothing.
type DataNotFoundError struct {
	Entity string
	Title  string
	ID     string
}

func (e *DataNotFoundError) Error() string {
	return fmt.Sprintf("%s %q does not exist", e.Title, e.ID)
}

// Is makes errors.Is(err, ErrDataNotFound) hold.
func (e *DataNotFoundError) Is(target error) bool {
	return target == ErrDataNotFound
}

// InvalidationError reports cache invalidation that failed after the data write was
// applied. The write itself is not undone; stale entries live until their TTL or the next
// invalidation of the same keys.
type InvalidationError struct {
	Entity string
	Err    error
}

func (e *InvalidationError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("coherence: cache invalidation failed: %v", e.Err)
	}
	return fmt.Sprintf("coherence: cache invalidation failed for %s: %v", e.Entity, e.Err)
}

func (e *InvalidationError) Unwrap() error { return e.Err }
