// Package adapters provides interfaces for loan event store backends.
package adapters

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrConcurrencyConflict is returned when the optimistic concurrency check fails on append.
	ErrConcurrencyConflict = errors.New("loanmaster: concurrency conflict")

	// ErrAggregateNotFound is returned when no events and no snapshot exist for an aggregate.
	ErrAggregateNotFound = errors.New("loanmaster: aggregate not found")

	// ErrEmptyAggregateID is returned when an empty aggregate ID is provided.
	ErrEmptyAggregateID = errors.New("loanmaster: aggregate ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("loanmaster: no events to append")

	// ErrInvalidVersion is returned when an invalid expected version is specified.
	ErrInvalidVersion = errors.New("loanmaster: invalid version")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("loanmaster: adapter is closed")

	// ErrSnapshotRegression is returned when a snapshot save would lower the stored version.
	ErrSnapshotRegression = errors.New("loanmaster: snapshot version regression")

	// ErrOutboxMessageNotFound indicates the referenced outbox message does not exist.
	ErrOutboxMessageNotFound = errors.New("loanmaster: outbox message not found")
)

// Metadata carries the audit context recorded with every event.
// The fields mirror what compliance reporting needs: who acted, from where,
// and how the event correlates with the command that produced it.
type Metadata struct {
	// ActorID identifies the user or system that triggered the event.
	ActorID string `json:"actorId,omitempty"`

	// CorrelationID links related events across requests.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the command or event that caused this event.
	CausationID string `json:"causationId,omitempty"`

	// IPAddress is the remote address of the originating request.
	IPAddress string `json:"ipAddress,omitempty"`

	// UserAgent is the client user agent of the originating request.
	UserAgent string `json:"userAgent,omitempty"`

	// Custom holds any additional metadata.
	Custom map[string]string `json:"custom,omitempty"`
}

// WithActorID returns a copy of Metadata with the actor ID set.
func (m Metadata) WithActorID(id string) Metadata {
	m.ActorID = id
	return m
}

// WithCorrelationID returns a copy of Metadata with the correlation ID set.
func (m Metadata) WithCorrelationID(id string) Metadata {
	m.CorrelationID = id
	return m
}

// WithCausationID returns a copy of Metadata with the causation ID set.
func (m Metadata) WithCausationID(id string) Metadata {
	m.CausationID = id
	return m
}

// WithIPAddress returns a copy of Metadata with the IP address set.
func (m Metadata) WithIPAddress(addr string) Metadata {
	m.IPAddress = addr
	return m
}

// WithUserAgent returns a copy of Metadata with the user agent set.
func (m Metadata) WithUserAgent(ua string) Metadata {
	m.UserAgent = ua
	return m
}

// WithCustom returns a copy of Metadata with a custom key-value pair added.
func (m Metadata) WithCustom(key, value string) Metadata {
	newCustom := make(map[string]string, len(m.Custom)+1)
	for k, v := range m.Custom {
		newCustom[k] = v
	}
	newCustom[key] = value
	m.Custom = newCustom
	return m
}

// IsEmpty reports whether the Metadata has no values set.
func (m Metadata) IsEmpty() bool {
	return m.ActorID == "" &&
		m.CorrelationID == "" &&
		m.CausationID == "" &&
		m.IPAddress == "" &&
		m.UserAgent == "" &&
		len(m.Custom) == 0
}

// EventRecord represents an event to be appended to an aggregate stream.
// This is the adapter-level representation of an event.
type EventRecord struct {
	// Type is the event type identifier (e.g. "LoanFunded").
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains the audit context.
	Metadata Metadata
}

// StoredEvent represents a persisted event with its storage metadata.
// This is returned when loading events from the store.
type StoredEvent struct {
	// ID is the unique event identifier.
	ID string

	// AggregateID is the aggregate this event belongs to.
	AggregateID string

	// AggregateType is the aggregate family (e.g. "Loan").
	AggregateType string

	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains the audit context.
	Metadata Metadata

	// Version is the position within the aggregate stream (1-based, contiguous).
	Version int64

	// GlobalPosition is the ordering position across all aggregates.
	GlobalPosition uint64

	// OccurredAt is when the event was committed, with microsecond precision.
	OccurredAt time.Time
}

// EventStoreAdapter is the interface that storage backends must implement.
// Append is the single write path; everything else only reads.
type EventStoreAdapter interface {
	// Append stores events for the aggregate with optimistic concurrency control.
	// expectedVersion specifies the expected current version of the aggregate:
	//   - AnyVersion (-1): skip the version check
	//   - NoAggregate (0): the aggregate must not exist yet
	//   - any positive number: the aggregate must be at exactly this version
	// Events are assigned contiguous versions starting at expectedVersion+1.
	// Either all events commit or none do.
	Append(ctx context.Context, aggregateID string, events []EventRecord, expectedVersion int64) ([]StoredEvent, error)

	// Load retrieves events for an aggregate with version > fromVersion,
	// ordered by version ascending. Use fromVersion=0 to load the full stream.
	Load(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error)

	// GetLastVersion returns the current version of an aggregate stream.
	// Returns 0 if the aggregate has no events.
	GetLastVersion(ctx context.Context, aggregateID string) (int64, error)

	// GetLastPosition returns the global position of the last stored event.
	// Returns 0 if no events exist.
	GetLastPosition(ctx context.Context) (uint64, error)

	// Initialize sets up the required storage schema.
	Initialize(ctx context.Context) error

	// Close releases any resources held by the adapter.
	Close() error
}

// AuditQueryAdapter provides the time- and type-indexed reads used by the
// audit service. Results are ordered by occurred_at ascending.
type AuditQueryAdapter interface {
	// LoadByType retrieves events of the given type with occurred_at >= since.
	// limit caps the result size (0 for unlimited).
	LoadByType(ctx context.Context, eventType string, since time.Time, limit int) ([]StoredEvent, error)

	// LoadByTimeRange retrieves events in the closed window [since, until].
	// aggregateID narrows the query to one aggregate; empty matches all.
	// Zero since/until leave the respective bound open.
	LoadByTimeRange(ctx context.Context, aggregateID string, since, until time.Time, limit int) ([]StoredEvent, error)
}

// SubscriptionAdapter provides position-based reads for projection engines.
type SubscriptionAdapter interface {
	// LoadFromPosition loads events with global position > fromPosition,
	// ordered by global position ascending. limit caps the batch size.
	LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]StoredEvent, error)
}

// StreamingAdapter provides continuous event delivery over channels.
// Historical events are delivered first, then the channel follows new
// appends until the context is cancelled, at which point it is closed.
type StreamingAdapter interface {
	// SubscribeAll streams events across all aggregates with
	// global position > fromPosition.
	SubscribeAll(ctx context.Context, fromPosition uint64) (<-chan StoredEvent, error)

	// SubscribeAggregate streams events for one aggregate with
	// version > fromVersion.
	SubscribeAggregate(ctx context.Context, aggregateID string, fromVersion int64) (<-chan StoredEvent, error)
}

// SnapshotRecord represents a stored aggregate snapshot.
type SnapshotRecord struct {
	// AggregateID is the aggregate identifier (one snapshot per aggregate).
	AggregateID string

	// AggregateType is the aggregate family (e.g. "Loan").
	AggregateType string

	// Version is the committed event version the snapshot reflects.
	Version int64

	// Data is the serialized snapshot payload.
	Data []byte

	// CreatedAt is when the snapshot was written.
	CreatedAt time.Time
}

// SnapshotAdapter stores aggregate snapshots for faster loading.
// Snapshots are a disposable cache: losing them only costs replay time.
type SnapshotAdapter interface {
	// SaveSnapshot upserts the latest snapshot for the aggregate.
	// Returns ErrSnapshotRegression if version is lower than the stored one.
	SaveSnapshot(ctx context.Context, aggregateID, aggregateType string, version int64, data []byte) error

	// LoadSnapshot retrieves the latest snapshot for the aggregate.
	// Returns nil, nil if no snapshot exists.
	LoadSnapshot(ctx context.Context, aggregateID string) (*SnapshotRecord, error)

	// DeleteSnapshot removes the snapshot for the aggregate.
	DeleteSnapshot(ctx context.Context, aggregateID string) error
}

// CheckpointAdapter manages projection checkpoints.
type CheckpointAdapter interface {
	// GetCheckpoint returns the last processed position for a projection.
	// Returns 0 if no checkpoint exists.
	GetCheckpoint(ctx context.Context, projectionName string) (uint64, error)

	// SetCheckpoint stores the last processed position for a projection.
	SetCheckpoint(ctx context.Context, projectionName string, position uint64) error

	// DeleteCheckpoint removes the checkpoint for a projection.
	DeleteCheckpoint(ctx context.Context, projectionName string) error
}

// HealthChecker provides health check capabilities.
type HealthChecker interface {
	// Ping checks if the adapter can connect to its backend.
	Ping(ctx context.Context) error
}

// Migrator provides schema migration capabilities.
type Migrator interface {
	// Migrate runs pending database migrations.
	Migrate(ctx context.Context) error

	// MigrationVersion returns the current migration version.
	MigrationVersion(ctx context.Context) (int, error)
}

// OutboxStatus represents the current status of an outbox message.
type OutboxStatus int

const (
	// OutboxPending indicates the message is waiting to be delivered.
	OutboxPending OutboxStatus = iota

	// OutboxProcessing indicates the message has been claimed by a processor.
	OutboxProcessing

	// OutboxCompleted indicates the message was delivered successfully.
	OutboxCompleted

	// OutboxFailed indicates the last delivery attempt failed.
	OutboxFailed

	// OutboxDeadLetter indicates the message exceeded its delivery attempts.
	OutboxDeadLetter
)

// String returns the string representation of the outbox status.
func (s OutboxStatus) String() string {
	switch s {
	case OutboxPending:
		return "pending"
	case OutboxProcessing:
		return "processing"
	case OutboxCompleted:
		return "completed"
	case OutboxFailed:
		return "failed"
	case OutboxDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// OutboxMessage represents a committed event scheduled for external delivery.
type OutboxMessage struct {
	// ID is the unique message identifier.
	ID string `json:"id"`

	// AggregateID is the aggregate that produced the event.
	AggregateID string `json:"aggregateId"`

	// EventType is the domain event type.
	EventType string `json:"eventType"`

	// Destination is the delivery target (e.g. "kafka:loan-events", "sns:arn:...").
	Destination string `json:"destination"`

	// Payload is the serialized event payload.
	Payload []byte `json:"payload"`

	// Headers contains transport headers attached to the message.
	Headers map[string]string `json:"headers,omitempty"`

	// Status is the current delivery status.
	Status OutboxStatus `json:"status"`

	// Attempts is the number of delivery attempts so far.
	Attempts int `json:"attempts"`

	// MaxAttempts is the attempt ceiling before dead-lettering.
	MaxAttempts int `json:"maxAttempts"`

	// LastError holds the last delivery error message.
	LastError string `json:"lastError,omitempty"`

	// ScheduledAt is when the message becomes eligible for delivery.
	ScheduledAt time.Time `json:"scheduledAt"`

	// LastAttemptAt is when delivery was last attempted.
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`

	// ProcessedAt is when delivery completed.
	ProcessedAt *time.Time `json:"processedAt,omitempty"`

	// CreatedAt is when the message was scheduled.
	CreatedAt time.Time `json:"createdAt"`
}

// OutboxStore defines the interface for outbox message persistence.
type OutboxStore interface {
	// Schedule stores outbox messages for later processing.
	Schedule(ctx context.Context, messages []*OutboxMessage) error

	// FetchPending atomically claims up to limit pending messages for processing.
	FetchPending(ctx context.Context, limit int) ([]*OutboxMessage, error)

	// MarkCompleted marks messages as successfully delivered.
	MarkCompleted(ctx context.Context, ids []string) error

	// MarkFailed marks a message as failed with an error description.
	// Returns ErrOutboxMessageNotFound if the message does not exist.
	MarkFailed(ctx context.Context, id string, lastErr error) error

	// RetryFailed resets eligible failed messages (below maxAttempts) to pending.
	// Returns the number of messages reset.
	RetryFailed(ctx context.Context, maxAttempts int) (int64, error)

	// MoveToDeadLetter transitions messages that exceeded maxAttempts to dead letter.
	// Returns the number of messages moved.
	MoveToDeadLetter(ctx context.Context, maxAttempts int) (int64, error)

	// CleanupCompleted removes completed messages older than the given age.
	// Returns the number of messages removed.
	CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error)

	// CountPending returns the number of messages waiting for delivery.
	CountPending(ctx context.Context) (int64, error)
}

// OutboxAppender appends events and schedules outbox messages atomically.
// Adapters may implement this to make the event commit and the outbox
// scheduling a single transaction.
type OutboxAppender interface {
	AppendWithOutbox(ctx context.Context, aggregateID string, events []EventRecord, expectedVersion int64, messages []*OutboxMessage) ([]StoredEvent, error)
}

// IdempotencyStore tracks processed commands to prevent duplicate processing.
type IdempotencyStore interface {
	// Exists checks if a command with the given key was already processed.
	Exists(ctx context.Context, key string) (bool, error)

	// Store records that a command was processed.
	Store(ctx context.Context, record *IdempotencyRecord) error

	// Get retrieves the idempotency record for a key.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)

	// Delete removes an idempotency record.
	Delete(ctx context.Context, key string) error

	// Cleanup removes expired records.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyRecord stores information about a processed command.
type IdempotencyRecord struct {
	// Key is the idempotency key.
	Key string `json:"key"`

	// CommandType is the type of the processed command.
	CommandType string `json:"commandType"`

	// AggregateID is the ID of the affected loan (if any).
	AggregateID string `json:"aggregateId,omitempty"`

	// Version is the aggregate version after processing (if any).
	Version int64 `json:"version,omitempty"`

	// Response contains serialized response data (optional).
	Response []byte `json:"response,omitempty"`

	// Error contains the error message if the command failed.
	Error string `json:"error,omitempty"`

	// Success indicates if the command was processed successfully.
	Success bool `json:"success"`

	// ProcessedAt is when the command was processed.
	ProcessedAt time.Time `json:"processedAt"`

	// ExpiresAt is when the record should expire.
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired returns true if the record has expired.
func (r *IdempotencyRecord) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}
