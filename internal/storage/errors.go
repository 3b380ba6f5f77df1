package storage

// Sentinel errors shared by every store implementation. Callers match with
// errors.Is; implementations wrap them with context.

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already
	// exists. Trades and instruments are insert-once; only candles are
	// rewritten, and only through Upsert.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when a record fails validation before it
	// reaches the backend.
	ErrInvalidInput = errors.New("invalid input")
)
