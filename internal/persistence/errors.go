package persistence

import "github.com/go-faster/errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrBatchTooLarge is returned when a batch exceeds the store's operation limit.
	ErrBatchTooLarge = errors.New("persistence: batch too large")
	// ErrInvalidOperation is returned for write operations the store cannot apply.
	ErrInvalidOperation = errors.New("persistence: invalid operation")
)
