package loanmaster

import (
	"fmt"
	"time"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Version constants for optimistic concurrency control.
const (
	// AnyVersion skips version checking, allowing append regardless of current version.
	AnyVersion = adapters.AnyVersion

	// NoAggregate indicates the aggregate must not exist (for creating new loans).
	NoAggregate = adapters.NoAggregate
)

// Metadata carries the audit context recorded with every event.
type Metadata = adapters.Metadata

// StoredEvent represents a persisted event with all storage metadata.
type StoredEvent = adapters.StoredEvent

// EventData represents an event to be stored.
// It contains the event type, serialized payload, and optional metadata.
type EventData struct {
	// Type is the event type identifier (e.g., "LoanFunded").
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains optional audit context.
	Metadata Metadata
}

// NewEventData creates a new EventData with the given type and data.
func NewEventData(eventType string, data []byte) EventData {
	return EventData{
		Type: eventType,
		Data: data,
	}
}

// WithMetadata returns a copy of EventData with the metadata set.
func (e EventData) WithMetadata(m Metadata) EventData {
	e.Metadata = m
	return e
}

// Validate checks if the EventData is valid.
func (e EventData) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("loanmaster: event type is required")
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("loanmaster: event data is required")
	}
	return nil
}

// Record converts the EventData to the adapter-level representation.
func (e EventData) Record() adapters.EventRecord {
	return adapters.EventRecord{
		Type:     e.Type,
		Data:     e.Data,
		Metadata: e.Metadata,
	}
}

// Event represents a deserialized event with its data as a Go type.
// This is the high-level representation used by applications.
type Event struct {
	// ID is the globally unique event identifier.
	ID string

	// AggregateID identifies the loan this event belongs to.
	AggregateID string

	// Type is the event type identifier.
	Type string

	// Data is the deserialized event payload.
	Data interface{}

	// Metadata contains the audit context.
	Metadata Metadata

	// Version is the position within the aggregate stream (1-based).
	Version int64

	// GlobalPosition is the position across all aggregates.
	GlobalPosition uint64

	// OccurredAt is when the event was stored.
	OccurredAt time.Time
}

// EventFromStored creates an Event from a StoredEvent with deserialized data.
func EventFromStored(stored StoredEvent, data interface{}) Event {
	return Event{
		ID:             stored.ID,
		AggregateID:    stored.AggregateID,
		Type:           stored.Type,
		Data:           data,
		Metadata:       stored.Metadata,
		Version:        stored.Version,
		GlobalPosition: stored.GlobalPosition,
		OccurredAt:     stored.OccurredAt,
	}
}
