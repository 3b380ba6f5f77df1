package domain

import "errors"

// Error taxonomy. None of these terminates the process; each failure is
// scoped to one instrument's pipeline.
var (
	// ErrUnknownInstrument: event references an unregistered instrument.
	// The event is dropped and logged.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrSequenceGap: a book delta arrived ahead of the expected sequence.
	// The book desyncs and a fresh snapshot is requested.
	ErrSequenceGap = errors.New("book sequence gap")

	// ErrInvalidEvent: malformed or out-of-range event value. Dropped and
	// logged.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrBackfillConflict: a historical block disagrees with live-derived
	// state in a way that cannot be reconciled. The live stream wins.
	ErrBackfillConflict = errors.New("backfill conflict")

	// ErrCapacityExceeded: a retention window was configured with a
	// non-positive bound. Fatal to that configuration only.
	ErrCapacityExceeded = errors.New("retention capacity must be positive")
)
