// Package memory provides an in-memory implementation of the loan event store adapter.
// This adapter is primarily intended for testing and development purposes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Version constants for optimistic concurrency control.
// These are re-exported from the adapters package for convenience.
const (
	AnyVersion  = adapters.AnyVersion
	NoAggregate = adapters.NoAggregate
)

// Ensure MemoryAdapter implements all required interfaces.
var (
	_ adapters.EventStoreAdapter   = (*MemoryAdapter)(nil)
	_ adapters.AuditQueryAdapter   = (*MemoryAdapter)(nil)
	_ adapters.SubscriptionAdapter = (*MemoryAdapter)(nil)
	_ adapters.StreamingAdapter    = (*MemoryAdapter)(nil)
	_ adapters.SnapshotAdapter     = (*MemoryAdapter)(nil)
	_ adapters.CheckpointAdapter   = (*MemoryAdapter)(nil)
	_ adapters.HealthChecker       = (*MemoryAdapter)(nil)
)

// MemoryAdapter is an in-memory implementation of EventStoreAdapter.
// It is thread-safe and suitable for unit testing.
type MemoryAdapter struct {
	mu             sync.RWMutex
	streams        map[string][]adapters.StoredEvent
	globalEvents   []adapters.StoredEvent
	globalPosition uint64
	snapshots      map[string]*adapters.SnapshotRecord
	checkpoints    map[string]uint64
	aggregateType  string
	clock          func() time.Time
	closed         bool
}

// Option configures a MemoryAdapter.
type Option func(*MemoryAdapter)

// WithAggregateType sets the aggregate family recorded on stored events.
func WithAggregateType(t string) Option {
	return func(a *MemoryAdapter) {
		a.aggregateType = t
	}
}

// WithClock sets the time source used for occurred_at timestamps.
// Useful for deterministic time-travel tests.
func WithClock(clock func() time.Time) Option {
	return func(a *MemoryAdapter) {
		a.clock = clock
	}
}

// NewAdapter creates a new in-memory event store adapter.
func NewAdapter(opts ...Option) *MemoryAdapter {
	adapter := &MemoryAdapter{
		streams:       make(map[string][]adapters.StoredEvent),
		globalEvents:  make([]adapters.StoredEvent, 0),
		snapshots:     make(map[string]*adapters.SnapshotRecord),
		checkpoints:   make(map[string]uint64),
		aggregateType: "Loan",
		clock:         time.Now,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Initialize is a no-op for the memory adapter.
func (a *MemoryAdapter) Initialize(ctx context.Context) error {
	return nil
}

// Append stores events for the aggregate with optimistic concurrency control.
func (a *MemoryAdapter) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	if len(events) == 0 {
		return nil, adapters.ErrNoEvents
	}

	stream := a.streams[aggregateID]
	currentVersion := int64(len(stream))

	if err := adapters.CheckVersion(aggregateID, expectedVersion, currentVersion); err != nil {
		return nil, err
	}

	now := a.clock().Truncate(time.Microsecond)
	stored := make([]adapters.StoredEvent, len(events))
	for i, event := range events {
		currentVersion++
		a.globalPosition++

		stored[i] = adapters.StoredEvent{
			ID:             uuid.NewString(),
			AggregateID:    aggregateID,
			AggregateType:  a.aggregateType,
			Type:           event.Type,
			Data:           event.Data,
			Metadata:       event.Metadata,
			Version:        currentVersion,
			GlobalPosition: a.globalPosition,
			OccurredAt:     now,
		}
	}

	a.streams[aggregateID] = append(stream, stored...)
	a.globalEvents = append(a.globalEvents, stored...)

	return stored, nil
}

// Load retrieves events for an aggregate with version > fromVersion.
func (a *MemoryAdapter) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	stream := a.streams[aggregateID]
	result := make([]adapters.StoredEvent, 0, len(stream))
	for _, event := range stream {
		if event.Version > fromVersion {
			result = append(result, event)
		}
	}

	return result, nil
}

// GetLastVersion returns the current version of an aggregate stream.
func (a *MemoryAdapter) GetLastVersion(ctx context.Context, aggregateID string) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	if aggregateID == "" {
		return 0, adapters.ErrEmptyAggregateID
	}

	return int64(len(a.streams[aggregateID])), nil
}

// GetLastPosition returns the global position of the last stored event.
func (a *MemoryAdapter) GetLastPosition(ctx context.Context) (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	return a.globalPosition, nil
}

// LoadByType retrieves events of the given type with occurred_at >= since.
func (a *MemoryAdapter) LoadByType(ctx context.Context, eventType string, since time.Time, limit int) ([]adapters.StoredEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	var result []adapters.StoredEvent
	for _, event := range a.globalEvents {
		if event.Type != eventType {
			continue
		}
		if !since.IsZero() && event.OccurredAt.Before(since) {
			continue
		}
		result = append(result, event)
	}

	// Sort before truncating so the limit keeps the earliest events even
	// when the clock is not monotonic across appends.
	sortByOccurredAt(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// LoadByTimeRange retrieves events in the closed window [since, until].
func (a *MemoryAdapter) LoadByTimeRange(ctx context.Context, aggregateID string, since, until time.Time, limit int) ([]adapters.StoredEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	var result []adapters.StoredEvent
	for _, event := range a.globalEvents {
		if aggregateID != "" && event.AggregateID != aggregateID {
			continue
		}
		if !since.IsZero() && event.OccurredAt.Before(since) {
			continue
		}
		if !until.IsZero() && event.OccurredAt.After(until) {
			continue
		}
		result = append(result, event)
	}

	sortByOccurredAt(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// LoadFromPosition loads events with global position > fromPosition.
func (a *MemoryAdapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	limit = adapters.DefaultLimit(limit, 100)

	var result []adapters.StoredEvent
	for _, event := range a.globalEvents {
		if event.GlobalPosition <= fromPosition {
			continue
		}
		result = append(result, event)
		if len(result) >= limit {
			break
		}
	}

	return result, nil
}

// SaveSnapshot upserts the latest snapshot for the aggregate.
// Snapshot versions never regress; stale writers get ErrSnapshotRegression.
func (a *MemoryAdapter) SaveSnapshot(ctx context.Context, aggregateID, aggregateType string, version int64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	if aggregateID == "" {
		return adapters.ErrEmptyAggregateID
	}

	if existing, ok := a.snapshots[aggregateID]; ok && existing.Version > version {
		return adapters.ErrSnapshotRegression
	}

	a.snapshots[aggregateID] = &adapters.SnapshotRecord{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		Data:          data,
		CreatedAt:     a.clock(),
	}

	return nil
}

// LoadSnapshot retrieves the latest snapshot for the aggregate.
func (a *MemoryAdapter) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	snapshot, ok := a.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}

	copied := *snapshot
	return &copied, nil
}

// DeleteSnapshot removes the snapshot for the aggregate.
func (a *MemoryAdapter) DeleteSnapshot(ctx context.Context, aggregateID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	delete(a.snapshots, aggregateID)
	return nil
}

// GetCheckpoint returns the last processed position for a projection.
func (a *MemoryAdapter) GetCheckpoint(ctx context.Context, projectionName string) (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	return a.checkpoints[projectionName], nil
}

// SetCheckpoint stores the last processed position for a projection.
func (a *MemoryAdapter) SetCheckpoint(ctx context.Context, projectionName string, position uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	a.checkpoints[projectionName] = position
	return nil
}

// DeleteCheckpoint removes the checkpoint for a projection.
func (a *MemoryAdapter) DeleteCheckpoint(ctx context.Context, projectionName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	delete(a.checkpoints, projectionName)
	return nil
}

// Ping reports whether the adapter is usable.
func (a *MemoryAdapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}
	return nil
}

// Close marks the adapter as closed.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	return nil
}

// sortByOccurredAt orders events by occurred_at, breaking ties by global position.
func sortByOccurredAt(events []adapters.StoredEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].GlobalPosition < events[j].GlobalPosition
		}
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}
