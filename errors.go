// Package loanmaster provides event-sourced persistence, audit, and
// time-travel primitives for loan aggregates. Every state change is
// recorded as an immutable event; current and historical loan state is
// derived by replaying those events.
package loanmaster

import (
	"errors"
	"fmt"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
// Several are aliases to the adapters package errors for compatibility.
var (
	// ErrAggregateNotFound indicates no events and no snapshot exist for the loan.
	ErrAggregateNotFound = adapters.ErrAggregateNotFound

	// ErrConcurrencyConflict indicates an optimistic concurrency violation.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("loanmaster: not found")

	// ErrAlreadyExists indicates a record with the same key already exists.
	ErrAlreadyExists = errors.New("loanmaster: already exists")

	// ErrSerializationFailed indicates event serialization/deserialization failed.
	ErrSerializationFailed = errors.New("loanmaster: serialization failed")

	// ErrEventTypeNotRegistered indicates an unknown event type was encountered.
	ErrEventTypeNotRegistered = errors.New("loanmaster: event type not registered")

	// ErrNilAggregate indicates a nil aggregate was passed.
	ErrNilAggregate = errors.New("loanmaster: nil aggregate")

	// ErrEmptyAggregateID indicates an empty aggregate ID was provided.
	ErrEmptyAggregateID = adapters.ErrEmptyAggregateID

	// ErrNoEvents indicates no events were provided for append.
	ErrNoEvents = adapters.ErrNoEvents

	// ErrInvalidVersion indicates an invalid version number was provided.
	ErrInvalidVersion = adapters.ErrInvalidVersion

	// ErrAdapterClosed indicates the adapter has been closed.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrSnapshotRegression indicates a snapshot save would lower the stored version.
	ErrSnapshotRegression = adapters.ErrSnapshotRegression

	// Domain errors

	// ErrInvalidTransition indicates a loan status change that the status
	// machine does not permit.
	ErrInvalidTransition = errors.New("loanmaster: invalid status transition")

	// ErrInvalidAmount indicates a non-positive monetary amount.
	ErrInvalidAmount = errors.New("loanmaster: amount must be positive")

	// ErrOverpayment indicates a payment exceeding the outstanding balance.
	ErrOverpayment = errors.New("loanmaster: payment exceeds outstanding balance")

	// ErrProjectionDrift indicates a read model that disagrees with the event log.
	ErrProjectionDrift = errors.New("loanmaster: projection drift detected")

	// ErrFutureTimestamp indicates a point-in-time query beyond the last event.
	ErrFutureTimestamp = errors.New("loanmaster: point in time is in the future")

	// Command and handler related errors

	// ErrHandlerNotFound indicates no handler is registered for a command type.
	ErrHandlerNotFound = errors.New("loanmaster: handler not found")

	// ErrValidationFailed indicates command validation failed.
	ErrValidationFailed = errors.New("loanmaster: validation failed")

	// ErrCommandAlreadyProcessed indicates an idempotent command was already processed.
	ErrCommandAlreadyProcessed = errors.New("loanmaster: command already processed")

	// ErrNilCommand indicates a nil command was passed.
	ErrNilCommand = errors.New("loanmaster: nil command")

	// ErrHandlerPanicked indicates a handler panicked during execution.
	ErrHandlerPanicked = errors.New("loanmaster: handler panicked")

	// ErrCommandBusClosed indicates the command bus has been closed.
	ErrCommandBusClosed = errors.New("loanmaster: command bus closed")

	// ErrNilHandler indicates a nil handler was registered.
	ErrNilHandler = errors.New("loanmaster: nil handler")

	// ErrEmptyCommandType indicates a handler reported an empty command type.
	ErrEmptyCommandType = errors.New("loanmaster: empty command type")

	// ErrHandlerAlreadyRegistered indicates a handler for the command type
	// is already registered.
	ErrHandlerAlreadyRegistered = errors.New("loanmaster: handler already registered")

	// ErrSubscriptionNotSupported indicates the adapter does not support
	// position-based subscription reads.
	ErrSubscriptionNotSupported = errors.New("loanmaster: adapter does not support subscriptions")

	// ErrAuditNotSupported indicates the adapter does not support
	// time- or type-indexed audit reads.
	ErrAuditNotSupported = errors.New("loanmaster: adapter does not support audit queries")

	// ErrSnapshotNotSupported indicates the adapter does not support snapshots.
	ErrSnapshotNotSupported = errors.New("loanmaster: adapter does not support snapshots")
)

// ConcurrencyError is an alias for adapters.ConcurrencyError.
// It carries the aggregate ID plus the expected and actual versions.
type ConcurrencyError = adapters.ConcurrencyError

// NewConcurrencyError creates a new ConcurrencyError.
var NewConcurrencyError = adapters.NewConcurrencyError

// InvalidTransitionError provides detailed information about a rejected
// loan status change.
type InvalidTransitionError struct {
	LoanID string
	From   LoanStatus
	To     LoanStatus
}

// Error returns the error message.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("loanmaster: loan %q cannot transition from %q to %q",
		e.LoanID, e.From, e.To)
}

// Is reports whether this error matches the target error.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewInvalidTransitionError creates a new InvalidTransitionError.
func NewInvalidTransitionError(loanID string, from, to LoanStatus) *InvalidTransitionError {
	return &InvalidTransitionError{LoanID: loanID, From: from, To: to}
}

// ValidationError represents a command or business-method validation failure.
type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("loanmaster: validation failed for field %q: %s: %v", e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("loanmaster: validation failed for field %q: %s", e.Field, e.Message)
}

// Is reports whether this error matches the target error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Unwrap returns the underlying cause, or ErrValidationFailed.
func (e *ValidationError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrValidationFailed
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("loanmaster: failed to %s event type %q: %v",
		e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{
		EventType: eventType,
		Operation: operation,
		Cause:     cause,
	}
}

// EventTypeNotRegisteredError provides detailed information about an unregistered event type.
type EventTypeNotRegisteredError struct {
	EventType string
}

// Error returns the error message.
func (e *EventTypeNotRegisteredError) Error() string {
	return fmt.Sprintf("loanmaster: event type %q not registered", e.EventType)
}

// Is reports whether this error matches the target error.
func (e *EventTypeNotRegisteredError) Is(target error) bool {
	return target == ErrEventTypeNotRegistered
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *EventTypeNotRegisteredError) Unwrap() error {
	return ErrEventTypeNotRegistered
}

// NewEventTypeNotRegisteredError creates a new EventTypeNotRegisteredError.
func NewEventTypeNotRegisteredError(eventType string) *EventTypeNotRegisteredError {
	return &EventTypeNotRegisteredError{EventType: eventType}
}

// ProjectionDriftError reports a read model row that disagrees with the
// state derived from the event log.
type ProjectionDriftError struct {
	Projection string
	LoanID     string
	Detail     string
}

// Error returns the error message.
func (e *ProjectionDriftError) Error() string {
	return fmt.Sprintf("loanmaster: projection %q drifted for loan %q: %s",
		e.Projection, e.LoanID, e.Detail)
}

// Is reports whether this error matches the target error.
func (e *ProjectionDriftError) Is(target error) bool {
	return target == ErrProjectionDrift
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *ProjectionDriftError) Unwrap() error {
	return ErrProjectionDrift
}

// NewProjectionDriftError creates a new ProjectionDriftError.
func NewProjectionDriftError(projection, loanID, detail string) *ProjectionDriftError {
	return &ProjectionDriftError{Projection: projection, LoanID: loanID, Detail: detail}
}

// HandlerNotFoundError provides detailed information about a missing handler.
type HandlerNotFoundError struct {
	CommandType string
}

// Error returns the error message.
func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("loanmaster: no handler registered for command type %q", e.CommandType)
}

// Is reports whether this error matches the target error.
func (e *HandlerNotFoundError) Is(target error) bool {
	return target == ErrHandlerNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *HandlerNotFoundError) Unwrap() error {
	return ErrHandlerNotFound
}

// NewHandlerNotFoundError creates a new HandlerNotFoundError.
func NewHandlerNotFoundError(cmdType string) *HandlerNotFoundError {
	return &HandlerNotFoundError{CommandType: cmdType}
}

// PanicError provides detailed information about a handler panic.
type PanicError struct {
	CommandType string
	Value       interface{}
	Stack       string
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("loanmaster: handler panicked while processing %q: %v", e.CommandType, e.Value)
}

// Is reports whether this error matches the target error.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanicked
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *PanicError) Unwrap() error {
	return ErrHandlerPanicked
}

// NewPanicError creates a new PanicError.
func NewPanicError(cmdType string, value interface{}, stack string) *PanicError {
	return &PanicError{
		CommandType: cmdType,
		Value:       value,
		Stack:       stack,
	}
}
