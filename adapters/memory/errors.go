package memory

import (
	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Sentinel errors for the memory adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	// ErrAdapterClosed is returned when an operation is attempted on a closed adapter.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrEmptyAggregateID is returned when an empty aggregate ID is provided.
	ErrEmptyAggregateID = adapters.ErrEmptyAggregateID

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = adapters.ErrNoEvents

	// ErrConcurrencyConflict is returned when optimistic concurrency check fails.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrInvalidVersion is returned when an invalid version is specified.
	ErrInvalidVersion = adapters.ErrInvalidVersion
)

// ConcurrencyError is an alias for adapters.ConcurrencyError.
type ConcurrencyError = adapters.ConcurrencyError

// NewConcurrencyError is an alias for adapters.NewConcurrencyError.
var NewConcurrencyError = adapters.NewConcurrencyError
