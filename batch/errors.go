package batch

import "errors"

var (
	// ErrEmptyBatch is returned when a batch is dispatched with no requests.
	ErrEmptyBatch = errors.New("cannot submit a batch with no requests")

	// ErrNotFound is returned by lookups for a batch that does not exist.
	ErrNotFound = errors.New("batch not found")

	// ErrDuplicateKey is returned when two requests in the same batch share
	// a key.
	ErrDuplicateKey = errors.New("duplicate request key in batch")
)
