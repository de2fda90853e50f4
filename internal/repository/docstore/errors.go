package docstore

import "errors"

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConflict marks a commit that lost against a concurrent writer. Stores
	// retry on it; it only escapes wrapped in ErrAborted.
	ErrConflict = errors.New("write conflict")

	// ErrAborted is returned when a transaction could not commit within the
	// store's retry budget. Nothing was written.
	ErrAborted = errors.New("transaction aborted")

	// ErrReadAfterWrite is returned when a transaction reads after writing.
	ErrReadAfterWrite = errors.New("transaction read issued after a write")
)

// IsRetryable reports whether a conflict may succeed on a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
