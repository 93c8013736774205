package loanmaster

import (
	"context"
	"errors"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// EventSubscriber receives committed events after a successful save.
// The projection handler and the outbox relay implement this.
type EventSubscriber interface {
	// HandleEvent processes one committed event. Errors are logged by the
	// repository but never fail the save: the event log is already durable.
	HandleEvent(ctx context.Context, event StoredEvent) error
}

// EventSubscriberFunc adapts a function to the EventSubscriber interface.
type EventSubscriberFunc func(ctx context.Context, event StoredEvent) error

// HandleEvent calls the underlying function.
func (f EventSubscriberFunc) HandleEvent(ctx context.Context, event StoredEvent) error {
	return f(ctx, event)
}

// LoanRepository loads and saves Loan aggregates. It is the only component
// that turns an event stream into a usable aggregate and the only one that
// commits new events for it.
//
// Load seeds from the latest snapshot when one exists and folds the tail of
// the stream on top. Save appends the uncommitted events at the version
// observed at load time; a concurrency conflict propagates to the caller,
// who must reload and re-run the business operation.
type LoanRepository struct {
	store       *EventStore
	snapshots   adapters.SnapshotAdapter
	codec       SnapshotCodec
	cadence     int64
	subscribers []EventSubscriber
	logger      Logger
}

// RepositoryOption configures a LoanRepository.
type RepositoryOption func(*LoanRepository)

// WithSnapshotCadence sets how many committed events pass between snapshots.
// Zero disables snapshotting.
func WithSnapshotCadence(n int64) RepositoryOption {
	return func(r *LoanRepository) {
		r.cadence = n
	}
}

// WithSnapshotCodec sets the snapshot encoding.
func WithSnapshotCodec(c SnapshotCodec) RepositoryOption {
	return func(r *LoanRepository) {
		r.codec = c
	}
}

// WithSubscribers registers subscribers notified of committed events.
func WithSubscribers(subs ...EventSubscriber) RepositoryOption {
	return func(r *LoanRepository) {
		r.subscribers = append(r.subscribers, subs...)
	}
}

// WithRepositoryLogger sets the repository logger.
func WithRepositoryLogger(l Logger) RepositoryOption {
	return func(r *LoanRepository) {
		r.logger = l
	}
}

// NewLoanRepository creates a repository backed by the given event store.
// Snapshotting activates automatically when the store's adapter implements
// adapters.SnapshotAdapter.
func NewLoanRepository(store *EventStore, opts ...RepositoryOption) *LoanRepository {
	r := &LoanRepository{
		store:   store,
		codec:   JSONSnapshotCodec{},
		cadence: DefaultSnapshotCadence,
		logger:  &noopLogger{},
	}
	if sa, ok := store.Adapter().(adapters.SnapshotAdapter); ok {
		r.snapshots = sa
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers an additional subscriber after construction.
func (r *LoanRepository) Subscribe(sub EventSubscriber) {
	r.subscribers = append(r.subscribers, sub)
}

// Store returns the underlying event store.
func (r *LoanRepository) Store() *EventStore {
	return r.store
}

// Load rebuilds a loan by replaying its event stream, seeded from the
// latest snapshot when one exists. Returns ErrAggregateNotFound when the
// loan has neither events nor a snapshot.
func (r *LoanRepository) Load(ctx context.Context, id string) (*Loan, error) {
	if id == "" {
		return nil, ErrEmptyAggregateID
	}

	loan := NewLoan(id)
	var snapshotVersion int64

	if r.snapshots != nil {
		record, err := r.snapshots.LoadSnapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		if record != nil {
			if err := r.codec.Unmarshal(record.Data, loan); err != nil {
				// A corrupt snapshot is disposable; fall back to full replay.
				r.logger.Warn("snapshot unreadable, replaying full stream",
					"aggregateId", id, "version", record.Version, "error", err)
				loan = NewLoan(id)
			} else {
				loan.SetVersion(record.Version)
				snapshotVersion = record.Version
			}
		}
	}

	if err := r.store.LoadAggregateFrom(ctx, loan, snapshotVersion); err != nil {
		return nil, err
	}
	return loan, nil
}

// Save appends the loan's uncommitted events at the version observed at
// load time. On success the committed events are published to subscribers
// and a snapshot is written when the cadence boundary was crossed.
//
// ErrConcurrencyConflict propagates unmodified: the caller owns the
// reload-and-retry loop, since re-running business logic against stale
// preconditions is a domain decision, not a persistence one.
func (r *LoanRepository) Save(ctx context.Context, loan *Loan, opts ...AppendOption) error {
	if loan == nil {
		return ErrNilAggregate
	}

	pending := int64(len(loan.UncommittedEvents()))
	if pending == 0 {
		return nil
	}

	stored, err := r.store.SaveAggregate(ctx, loan, opts...)
	if err != nil {
		return err
	}

	r.publish(ctx, stored)
	r.maybeSnapshot(ctx, loan, pending)
	return nil
}

// publish delivers committed events to subscribers. Failures are logged
// and never propagate: the log is authoritative, projections are rebuildable.
func (r *LoanRepository) publish(ctx context.Context, events []StoredEvent) {
	for _, sub := range r.subscribers {
		for _, event := range events {
			if err := sub.HandleEvent(ctx, event); err != nil {
				r.logger.Error("event subscriber failed",
					"aggregateId", event.AggregateID, "eventType", event.Type,
					"version", event.Version, "error", err)
			}
		}
	}
}

// maybeSnapshot writes a snapshot when the save crossed a cadence boundary.
// Snapshot failures are logged, not returned; losing one only costs replay time.
func (r *LoanRepository) maybeSnapshot(ctx context.Context, loan *Loan, appended int64) {
	if r.snapshots == nil || r.cadence <= 0 {
		return
	}

	version := loan.Version()
	if version/r.cadence == (version-appended)/r.cadence {
		return
	}

	data, err := r.codec.Marshal(loan)
	if err != nil {
		r.logger.Error("snapshot encode failed", "aggregateId", loan.AggregateID(), "error", err)
		return
	}
	err = r.snapshots.SaveSnapshot(ctx, loan.AggregateID(), loan.AggregateType(), version, data)
	if err != nil && !errors.Is(err, adapters.ErrSnapshotRegression) {
		r.logger.Error("snapshot save failed",
			"aggregateId", loan.AggregateID(), "version", version, "error", err)
		return
	}
	r.logger.Debug("snapshot written", "aggregateId", loan.AggregateID(), "version", version)
}

// DeleteSnapshot drops the cached snapshot for a loan, forcing the next
// Load to replay the full stream.
func (r *LoanRepository) DeleteSnapshot(ctx context.Context, id string) error {
	if r.snapshots == nil {
		return ErrSnapshotNotSupported
	}
	return r.snapshots.DeleteSnapshot(ctx, id)
}
