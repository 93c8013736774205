package loanmaster

import (
	"context"
)

// Command represents an intent to change state in the system.
// Commands are the write side of CQRS and are validated before execution.
type Command interface {
	// CommandType returns the type identifier for this command
	// (e.g., "SubmitLoanApplication").
	CommandType() string

	// Validate checks if the command is valid.
	Validate() error
}

// AggregateCommand is a command that targets a specific loan.
type AggregateCommand interface {
	Command

	// AggregateID returns the ID of the loan this command targets.
	// Returns empty string for commands that create new loans.
	AggregateID() string
}

// IdempotentCommand is a command that supports deduplication.
type IdempotentCommand interface {
	Command

	// IdempotencyKey returns a unique key for deduplication.
	// Commands with the same key are processed at most once.
	IdempotencyKey() string
}

// CommandBase provides a default partial implementation of Command plus the
// audit context recorded in event metadata.
type CommandBase struct {
	// CommandID is an optional unique identifier for this command instance.
	CommandID string `json:"commandId,omitempty"`

	// CorrelationID links related commands and events.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the event or command that caused this command.
	CausationID string `json:"causationId,omitempty"`

	// ActorID identifies the user or system issuing the command.
	ActorID string `json:"actorId,omitempty"`

	// IPAddress is the remote address of the originating request.
	IPAddress string `json:"ipAddress,omitempty"`

	// UserAgent is the client user agent of the originating request.
	UserAgent string `json:"userAgent,omitempty"`
}

// WithCommandID returns a copy of CommandBase with the command ID set.
func (c CommandBase) WithCommandID(id string) CommandBase {
	c.CommandID = id
	return c
}

// WithCorrelationID returns a copy of CommandBase with the correlation ID set.
func (c CommandBase) WithCorrelationID(id string) CommandBase {
	c.CorrelationID = id
	return c
}

// WithActor returns a copy of CommandBase with the actor context set.
func (c CommandBase) WithActor(actorID, ipAddress, userAgent string) CommandBase {
	c.ActorID = actorID
	c.IPAddress = ipAddress
	c.UserAgent = userAgent
	return c
}

// EventMetadata builds the audit metadata recorded with events produced by
// this command.
func (c CommandBase) EventMetadata() Metadata {
	return Metadata{
		ActorID:       c.ActorID,
		CorrelationID: c.CorrelationID,
		CausationID:   c.CausationID,
		IPAddress:     c.IPAddress,
		UserAgent:     c.UserAgent,
	}
}

// CommandResult represents the result of command execution.
type CommandResult struct {
	// Success indicates whether the command executed successfully.
	Success bool

	// AggregateID is the loan affected by the command. For create commands
	// this is the newly assigned ID.
	AggregateID string

	// Version is the loan version after command execution.
	Version int64

	// Data contains any additional result data.
	Data interface{}

	// Error contains the error if the command failed.
	Error error
}

// NewSuccessResult creates a successful CommandResult.
func NewSuccessResult(aggregateID string, version int64) CommandResult {
	return CommandResult{
		Success:     true,
		AggregateID: aggregateID,
		Version:     version,
	}
}

// NewErrorResult creates a failed CommandResult.
func NewErrorResult(err error) CommandResult {
	return CommandResult{
		Success: false,
		Error:   err,
	}
}

// IsSuccess returns true if the command executed successfully.
func (r CommandResult) IsSuccess() bool {
	return r.Success && r.Error == nil
}

// IsError returns true if the command failed.
func (r CommandResult) IsError() bool {
	return !r.Success || r.Error != nil
}

// CommandDispatcher can dispatch commands to handlers.
type CommandDispatcher interface {
	// Dispatch sends a command to its handler and returns the result.
	Dispatch(ctx context.Context, cmd Command) (CommandResult, error)
}
