package loanmaster

import (
	"context"
	"fmt"
	"time"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Logger defines the logging interface used across the module.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() Logger { return &noopLogger{} }

// EventStore is the main entry point for event persistence.
// It serializes domain events, appends them through the configured adapter
// with optimistic concurrency, and rebuilds aggregates by replay.
type EventStore struct {
	adapter    adapters.EventStoreAdapter
	serializer Serializer
	logger     Logger
}

// Option configures an EventStore.
type Option func(*EventStore)

// WithSerializer sets a custom serializer.
func WithSerializer(s Serializer) Option {
	return func(es *EventStore) {
		es.serializer = s
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(es *EventStore) {
		es.logger = l
	}
}

// New creates a new EventStore with the given adapter and options.
// Loan event types and their upcasters are registered automatically when
// the default JSON serializer is used.
func New(adapter adapters.EventStoreAdapter, opts ...Option) *EventStore {
	es := &EventStore{
		adapter:    adapter,
		serializer: NewJSONSerializer(),
		logger:     &noopLogger{},
	}

	for _, opt := range opts {
		opt(es)
	}

	if js, ok := es.serializer.(*JSONSerializer); ok {
		RegisterLoanEvents(js.Registry())
	}

	return es
}

// Serializer returns the event store's serializer.
func (s *EventStore) Serializer() Serializer {
	return s.serializer
}

// Adapter returns the underlying adapter.
func (s *EventStore) Adapter() adapters.EventStoreAdapter {
	return s.adapter
}

// RegisterEvents registers additional event types with the serializer.
func (s *EventStore) RegisterEvents(events ...interface{}) {
	if js, ok := s.serializer.(*JSONSerializer); ok {
		js.RegisterAll(events...)
	}
}

// AppendOption configures an append operation.
type AppendOption func(*appendConfig)

type appendConfig struct {
	metadata           Metadata
	expectedVersion    int64
	expectedVersionSet bool
}

// ExpectVersion sets the expected aggregate version for optimistic concurrency.
func ExpectVersion(v int64) AppendOption {
	return func(c *appendConfig) {
		c.expectedVersion = v
		c.expectedVersionSet = true
	}
}

// WithAppendMetadata sets metadata for all events in the append operation.
func WithAppendMetadata(m Metadata) AppendOption {
	return func(c *appendConfig) {
		c.metadata = m
	}
}

// Append serializes and stores events for the given aggregate.
func (s *EventStore) Append(ctx context.Context, aggregateID string, events []interface{}, opts ...AppendOption) ([]StoredEvent, error) {
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	config := &appendConfig{
		expectedVersion: AnyVersion,
	}
	for _, opt := range opts {
		opt(config)
	}

	records, err := s.toRecords(events, config.metadata)
	if err != nil {
		return nil, err
	}

	stored, err := s.adapter.Append(ctx, aggregateID, records, config.expectedVersion)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("events appended", "aggregateId", aggregateID, "count", len(stored))
	return stored, nil
}

// Load retrieves all events for an aggregate, deserialized.
func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]Event, error) {
	return s.LoadFrom(ctx, aggregateID, 0)
}

// LoadFrom retrieves deserialized events with version > fromVersion.
func (s *EventStore) LoadFrom(ctx context.Context, aggregateID string, fromVersion int64) ([]Event, error) {
	stored, err := s.LoadRaw(ctx, aggregateID, fromVersion)
	if err != nil {
		return nil, err
	}

	events := make([]Event, len(stored))
	for i, se := range stored {
		event, err := DeserializeEvent(s.serializer, se)
		if err != nil {
			return nil, fmt.Errorf("loanmaster: failed to deserialize event %d: %w", i, err)
		}
		events[i] = event
	}
	return events, nil
}

// LoadRaw retrieves raw (non-deserialized) events for an aggregate.
func (s *EventStore) LoadRaw(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}
	return s.adapter.Load(ctx, aggregateID, fromVersion)
}

// loadMarker is implemented by AggregateBase to record the load version
// used as the expected version on save.
type loadMarker interface {
	MarkLoaded()
}

// SaveAggregate persists uncommitted events from an aggregate.
// The version observed at load time is the expected version for optimistic
// concurrency; ExpectVersion overrides it. A conflict surfaces as
// ErrConcurrencyConflict and is never retried here.
func (s *EventStore) SaveAggregate(ctx context.Context, agg Aggregate, opts ...AppendOption) ([]StoredEvent, error) {
	if agg == nil {
		return nil, ErrNilAggregate
	}

	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil, nil
	}

	config := &appendConfig{}
	for _, opt := range opts {
		opt(config)
	}

	records, err := s.toRecords(events, config.metadata)
	if err != nil {
		return nil, err
	}

	expectedVersion := agg.Version() - int64(len(events))
	if va, ok := agg.(VersionedAggregate); ok {
		expectedVersion = va.OriginalVersion()
	}
	if config.expectedVersionSet {
		expectedVersion = config.expectedVersion
	}

	stored, err := s.adapter.Append(ctx, agg.AggregateID(), records, expectedVersion)
	if err != nil {
		return nil, err
	}

	if setter, ok := agg.(VersionSetter); ok {
		setter.SetVersion(expectedVersion + int64(len(events)))
	}
	if marker, ok := agg.(loadMarker); ok {
		marker.MarkLoaded()
	}
	agg.ClearUncommittedEvents()

	s.logger.Debug("aggregate saved",
		"aggregateId", agg.AggregateID(), "version", agg.Version(), "events", len(stored))
	return stored, nil
}

// LoadAggregate rebuilds an aggregate's state by replaying its full stream.
// The aggregate should be a new instance with its ID and type already set.
// Returns ErrAggregateNotFound if the stream is empty.
func (s *EventStore) LoadAggregate(ctx context.Context, agg Aggregate) error {
	return s.LoadAggregateFrom(ctx, agg, 0)
}

// LoadAggregateFrom replays events with version > fromVersion into the
// aggregate. Use a non-zero fromVersion when the aggregate was seeded from
// a snapshot at that version.
func (s *EventStore) LoadAggregateFrom(ctx context.Context, agg Aggregate, fromVersion int64) error {
	if agg == nil {
		return ErrNilAggregate
	}

	stored, err := s.adapter.Load(ctx, agg.AggregateID(), fromVersion)
	if err != nil {
		return err
	}
	if len(stored) == 0 && fromVersion == 0 {
		return ErrAggregateNotFound
	}

	var lastVersion int64 = fromVersion
	for i, se := range stored {
		data, err := s.serializer.Deserialize(se.Data, se.Type)
		if err != nil {
			return fmt.Errorf("loanmaster: failed to deserialize event %d: %w", i, err)
		}
		if err := agg.ApplyEvent(data); err != nil {
			return fmt.Errorf("loanmaster: failed to apply event %d: %w", i, err)
		}
		lastVersion = se.Version
	}

	if setter, ok := agg.(VersionSetter); ok {
		setter.SetVersion(lastVersion)
	}
	if marker, ok := agg.(loadMarker); ok {
		marker.MarkLoaded()
	}
	return nil
}

// GetLastVersion returns the current version of an aggregate stream.
func (s *EventStore) GetLastVersion(ctx context.Context, aggregateID string) (int64, error) {
	if aggregateID == "" {
		return 0, ErrEmptyAggregateID
	}
	return s.adapter.GetLastVersion(ctx, aggregateID)
}

// GetLastPosition returns the global position of the last stored event.
func (s *EventStore) GetLastPosition(ctx context.Context) (uint64, error) {
	return s.adapter.GetLastPosition(ctx)
}

// LoadEventsByType retrieves raw events of the given type since a timestamp.
// Returns ErrAuditNotSupported if the adapter has no audit index.
func (s *EventStore) LoadEventsByType(ctx context.Context, eventType string, since time.Time, limit int) ([]StoredEvent, error) {
	audit, ok := s.adapter.(adapters.AuditQueryAdapter)
	if !ok {
		return nil, ErrAuditNotSupported
	}
	return audit.LoadByType(ctx, eventType, since, limit)
}

// LoadEventsByTimeRange retrieves raw events within [since, until], ordered
// by occurrence time. Returns ErrAuditNotSupported if the adapter has no
// audit index.
func (s *EventStore) LoadEventsByTimeRange(ctx context.Context, aggregateID string, since, until time.Time, limit int) ([]StoredEvent, error) {
	audit, ok := s.adapter.(adapters.AuditQueryAdapter)
	if !ok {
		return nil, ErrAuditNotSupported
	}
	return audit.LoadByTimeRange(ctx, aggregateID, since, until, limit)
}

// LoadEventsFromPosition loads raw events with global position > fromPosition.
// Returns ErrSubscriptionNotSupported if the adapter does not implement
// position-based reads. Used by the projection engine and rebuilder.
func (s *EventStore) LoadEventsFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]StoredEvent, error) {
	sub, ok := s.adapter.(adapters.SubscriptionAdapter)
	if !ok {
		return nil, ErrSubscriptionNotSupported
	}
	return sub.LoadFromPosition(ctx, fromPosition, limit)
}

// SubscribeAll streams raw events across all aggregates with global
// position > fromPosition. Historical events are delivered first, then the
// channel follows new appends until ctx is cancelled and the channel closes.
// Returns ErrSubscriptionNotSupported if the adapter cannot stream.
func (s *EventStore) SubscribeAll(ctx context.Context, fromPosition uint64) (<-chan StoredEvent, error) {
	streaming, ok := s.adapter.(adapters.StreamingAdapter)
	if !ok {
		return nil, ErrSubscriptionNotSupported
	}
	return streaming.SubscribeAll(ctx, fromPosition)
}

// SubscribeAggregate streams raw events for one aggregate with
// version > fromVersion, with the same delivery semantics as SubscribeAll.
func (s *EventStore) SubscribeAggregate(ctx context.Context, aggregateID string, fromVersion int64) (<-chan StoredEvent, error) {
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}
	streaming, ok := s.adapter.(adapters.StreamingAdapter)
	if !ok {
		return nil, ErrSubscriptionNotSupported
	}
	return streaming.SubscribeAggregate(ctx, aggregateID, fromVersion)
}

// Initialize sets up the required storage schema.
func (s *EventStore) Initialize(ctx context.Context) error {
	return s.adapter.Initialize(ctx)
}

// Close releases resources held by the event store.
func (s *EventStore) Close() error {
	return s.adapter.Close()
}

func (s *EventStore) toRecords(events []interface{}, metadata Metadata) ([]adapters.EventRecord, error) {
	records := make([]adapters.EventRecord, len(events))
	for i, event := range events {
		eventData, err := SerializeEvent(s.serializer, event, metadata)
		if err != nil {
			return nil, fmt.Errorf("loanmaster: failed to serialize event %d: %w", i, err)
		}
		records[i] = eventData.Record()
	}
	return records, nil
}
