package loanmaster

// Aggregate defines the interface for event-sourced aggregates.
// An aggregate is a domain object whose state is derived from a sequence of events.
type Aggregate interface {
	// AggregateID returns the unique identifier for this aggregate instance.
	AggregateID() string

	// AggregateType returns the aggregate family (e.g., "Loan").
	AggregateType() string

	// Version returns the current version of the aggregate.
	// This is the number of events that have been applied.
	Version() int64

	// ApplyEvent applies an event to update the aggregate's state.
	// This method must be deterministic and free of side effects.
	ApplyEvent(event interface{}) error

	// UncommittedEvents returns events that have been applied but not yet persisted.
	UncommittedEvents() []interface{}

	// ClearUncommittedEvents removes all uncommitted events after successful persistence.
	ClearUncommittedEvents()
}

// VersionSetter is implemented by aggregates whose version can be set directly.
// AggregateBase implements this; it is used when restoring from snapshots.
type VersionSetter interface {
	SetVersion(v int64)
}

// VersionedAggregate exposes the version observed at load time, used for
// optimistic concurrency when saving.
type VersionedAggregate interface {
	Aggregate

	// OriginalVersion returns the version when the aggregate was loaded.
	OriginalVersion() int64
}

// AggregateBase provides a default partial implementation of the Aggregate interface.
// Embed this struct in your aggregate types to get default behavior.
type AggregateBase struct {
	id                string
	aggregateType     string
	version           int64
	originalVersion   int64
	uncommittedEvents []interface{}
}

// NewAggregateBase creates a new AggregateBase with the given ID and type.
func NewAggregateBase(id, aggregateType string) AggregateBase {
	return AggregateBase{
		id:            id,
		aggregateType: aggregateType,
	}
}

// AggregateID returns the aggregate's unique identifier.
func (a *AggregateBase) AggregateID() string {
	return a.id
}

// SetID sets the aggregate's ID.
func (a *AggregateBase) SetID(id string) {
	a.id = id
}

// AggregateType returns the aggregate type.
func (a *AggregateBase) AggregateType() string {
	return a.aggregateType
}

// SetType sets the aggregate type.
func (a *AggregateBase) SetType(t string) {
	a.aggregateType = t
}

// Version returns the current version of the aggregate.
func (a *AggregateBase) Version() int64 {
	return a.version
}

// SetVersion sets the aggregate version.
func (a *AggregateBase) SetVersion(v int64) {
	a.version = v
}

// IncrementVersion increments the aggregate version by 1.
func (a *AggregateBase) IncrementVersion() {
	a.version++
}

// OriginalVersion returns the version observed when the aggregate was loaded.
func (a *AggregateBase) OriginalVersion() int64 {
	return a.originalVersion
}

// MarkLoaded records the version at which the aggregate was loaded.
// Save uses this as the expected version for optimistic concurrency.
func (a *AggregateBase) MarkLoaded() {
	a.originalVersion = a.version
}

// UncommittedEvents returns events that haven't been persisted yet.
func (a *AggregateBase) UncommittedEvents() []interface{} {
	return a.uncommittedEvents
}

// ClearUncommittedEvents removes all uncommitted events.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.uncommittedEvents = nil
}

// Apply records an event as uncommitted.
// This should be called by the aggregate after creating a new event.
// The aggregate should also update its internal state based on the event.
func (a *AggregateBase) Apply(event interface{}) {
	a.uncommittedEvents = append(a.uncommittedEvents, event)
}

// HasUncommittedEvents returns true if there are events waiting to be persisted.
func (a *AggregateBase) HasUncommittedEvents() bool {
	return len(a.uncommittedEvents) > 0
}

// AggregateFactory creates new aggregate instances.
type AggregateFactory func(id string) Aggregate
