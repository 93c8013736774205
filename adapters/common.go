// Package adapters provides interfaces and shared utilities for loan event store backends.
package adapters

import (
	"fmt"
)

// Version constants for optimistic concurrency control.
// These constants define special expected-version values used in Append operations.
const (
	// AnyVersion skips version checking. Use when you don't care about concurrent modifications.
	AnyVersion int64 = -1

	// NoAggregate requires the aggregate to not exist yet. Use when creating a new loan.
	NoAggregate int64 = 0
)

// ConcurrencyError provides details about a concurrency conflict.
// It is returned when an optimistic concurrency check fails during Append operations.
type ConcurrencyError struct {
	AggregateID     string
	ExpectedVersion int64
	ActualVersion   int64
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(aggregateID string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{
		AggregateID:     aggregateID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("loanmaster: concurrency conflict on aggregate %q: expected version %d, got %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// Is implements errors.Is compatibility.
// Returns true when compared with ErrConcurrencyConflict.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrencyConflict
}

// CheckVersion validates the expected version against the current version.
// This implements the optimistic concurrency control logic shared by all adapters.
//
// Parameters:
//   - aggregateID: the aggregate identifier (used for error messages)
//   - expected: the expected version (AnyVersion, NoAggregate, or a positive version)
//   - current: the current version of the aggregate stream
//
// Returns nil if the version check passes, or an appropriate error otherwise.
func CheckVersion(aggregateID string, expected, current int64) error {
	switch {
	case expected == AnyVersion:
		return nil
	case expected < AnyVersion:
		return ErrInvalidVersion
	case current != expected:
		return NewConcurrencyError(aggregateID, expected, current)
	default:
		return nil
	}
}

// CopyIdempotencyRecord creates a deep copy of an IdempotencyRecord.
// This is useful to avoid external mutations of stored records.
func CopyIdempotencyRecord(record *IdempotencyRecord) *IdempotencyRecord {
	if record == nil {
		return nil
	}
	return &IdempotencyRecord{
		Key:         record.Key,
		CommandType: record.CommandType,
		AggregateID: record.AggregateID,
		Version:     record.Version,
		Response:    record.Response,
		Success:     record.Success,
		Error:       record.Error,
		ProcessedAt: record.ProcessedAt,
		ExpiresAt:   record.ExpiresAt,
	}
}

// DefaultLimit returns a default limit value if the provided limit is invalid.
// Used for pagination in LoadFromPosition and similar methods.
func DefaultLimit(limit, defaultValue int) int {
	if limit <= 0 {
		return defaultValue
	}
	return limit
}
