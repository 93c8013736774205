package loanmaster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dahovitech/loanmaster-sub001/adapters"
	"github.com/dahovitech/loanmaster-sub001/adapters/memory"
)

func newTestStore(t *testing.T) *EventStore {
	t.Helper()
	store := New(memory.NewAdapter())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNew(t *testing.T) {
	t.Run("registers loan events on default serializer", func(t *testing.T) {
		store := newTestStore(t)
		serializer, ok := store.Serializer().(*JSONSerializer)
		require.True(t, ok)

		_, found := serializer.Registry().Lookup("LoanPaymentReceived")
		assert.True(t, found)
		_, found = serializer.Registry().LookupUpcaster("LoanPaymentReceived", 1)
		assert.True(t, found)
	})

	t.Run("accepts custom serializer", func(t *testing.T) {
		serializer := NewJSONSerializer()
		store := New(memory.NewAdapter(), WithSerializer(serializer))
		defer store.Close()

		assert.Same(t, serializer, store.Serializer())
	})
}

func TestEventStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("appends and loads events in order", func(t *testing.T) {
		store := newTestStore(t)

		stored, err := store.Append(ctx, "loan-1", []interface{}{
			LoanApplicationSubmitted{LoanID: "loan-1", Applicant: "alice", RequestedAmount: 500_000, Currency: "USD"},
			LoanRiskAssessed{LoanID: "loan-1", Score: 720, Grade: "A"},
		})
		require.NoError(t, err)
		require.Len(t, stored, 2)

		loaded, err := store.Load(ctx, "loan-1")
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.Equal(t, int64(1), loaded[0].Version)
		assert.Equal(t, int64(2), loaded[1].Version)
		assert.Equal(t, "LoanApplicationSubmitted", loaded[0].Type)

		submitted, ok := loaded[0].Data.(LoanApplicationSubmitted)
		require.True(t, ok)
		assert.Equal(t, "alice", submitted.Applicant)
	})

	t.Run("rejects empty aggregate id", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.Append(ctx, "", []interface{}{LoanApplicationSubmitted{}})
		assert.ErrorIs(t, err, ErrEmptyAggregateID)
	})

	t.Run("rejects empty event batch", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.Append(ctx, "loan-1", nil)
		assert.ErrorIs(t, err, ErrNoEvents)
	})

	t.Run("detects concurrent writers", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.Append(ctx, "loan-1", []interface{}{
			LoanApplicationSubmitted{LoanID: "loan-1", Applicant: "alice"},
		}, ExpectVersion(0))
		require.NoError(t, err)

		// A second writer that also observed the empty stream loses the race.
		_, err = store.Append(ctx, "loan-1", []interface{}{
			LoanRiskAssessed{LoanID: "loan-1", Score: 700},
			LoanStatusChanged{LoanID: "loan-1", To: StatusCancelled},
		}, ExpectVersion(0))
		assert.ErrorIs(t, err, ErrConcurrencyConflict)

		// The failed batch leaves the stream untouched, with no partial write.
		events, err := store.LoadRaw(ctx, "loan-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, int64(1), events[0].Version)
		assert.Equal(t, "LoanApplicationSubmitted", events[0].Type)

		// The loser can retry against the version it actually observed.
		_, err = store.Append(ctx, "loan-1", []interface{}{
			LoanRiskAssessed{LoanID: "loan-1", Score: 700},
			LoanStatusChanged{LoanID: "loan-1", To: StatusCancelled},
		}, ExpectVersion(1))
		require.NoError(t, err)

		events, err = store.LoadRaw(ctx, "loan-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, event := range events {
			assert.Equal(t, int64(i+1), event.Version)
		}
	})

	t.Run("any version skips the check", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.Append(ctx, "loan-1", []interface{}{
			LoanApplicationSubmitted{LoanID: "loan-1", Applicant: "alice"},
		})
		require.NoError(t, err)
		_, err = store.Append(ctx, "loan-1", []interface{}{
			LoanStatusChanged{LoanID: "loan-1", To: StatusCancelled},
		})
		require.NoError(t, err)

		version, err := store.GetLastVersion(ctx, "loan-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
	})

	t.Run("stores append metadata on every event", func(t *testing.T) {
		store := newTestStore(t)
		metadata := Metadata{ActorID: "alice", CorrelationID: "corr-1", IPAddress: "10.0.0.1"}

		_, err := store.Append(ctx, "loan-1", []interface{}{
			LoanApplicationSubmitted{LoanID: "loan-1", Applicant: "alice"},
			LoanStatusChanged{LoanID: "loan-1", To: StatusCancelled},
		}, WithAppendMetadata(metadata))
		require.NoError(t, err)

		loaded, err := store.Load(ctx, "loan-1")
		require.NoError(t, err)
		for _, event := range loaded {
			assert.Equal(t, "alice", event.Metadata.ActorID)
			assert.Equal(t, "corr-1", event.Metadata.CorrelationID)
		}
	})
}

func TestEventStore_LoadFrom(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Append(ctx, "loan-1", []interface{}{
		LoanApplicationSubmitted{LoanID: "loan-1", Applicant: "alice"},
		LoanRiskAssessed{LoanID: "loan-1", Score: 700},
		LoanStatusChanged{LoanID: "loan-1", To: StatusApproved},
	})
	require.NoError(t, err)

	events, err := store.LoadFrom(ctx, "loan-1", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Version)
	assert.Equal(t, int64(3), events[1].Version)
}

func TestEventStore_SaveAggregate(t *testing.T) {
	ctx := context.Background()

	t.Run("persists and reloads aggregate", func(t *testing.T) {
		store := newTestStore(t)
		loan := activeLoan(t)
		stored, err := store.SaveAggregate(ctx, loan)
		require.NoError(t, err)
		assert.Len(t, stored, 5)
		assert.False(t, loan.HasUncommittedEvents())

		reloaded := NewLoan("loan-1")
		require.NoError(t, store.LoadAggregate(ctx, reloaded))
		assert.Equal(t, StatusActive, reloaded.Status)
		assert.Equal(t, loan.Version(), reloaded.Version())
		assert.Equal(t, loan.CurrentBalance, reloaded.CurrentBalance)
	})

	t.Run("incremental save uses loaded version", func(t *testing.T) {
		store := newTestStore(t)
		loan := submittedLoan(t)
		_, err := store.SaveAggregate(ctx, loan)
		require.NoError(t, err)

		require.NoError(t, loan.AssessRisk(700, "B", 0.4, ""))
		_, err = store.SaveAggregate(ctx, loan)
		require.NoError(t, err)

		version, err := store.GetLastVersion(ctx, "loan-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
	})

	t.Run("stale aggregate conflicts", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.SaveAggregate(ctx, submittedLoan(t))
		require.NoError(t, err)

		first := NewLoan("loan-1")
		require.NoError(t, store.LoadAggregate(ctx, first))
		second := NewLoan("loan-1")
		require.NoError(t, store.LoadAggregate(ctx, second))

		require.NoError(t, first.AssessRisk(700, "B", 0.4, ""))
		_, err = store.SaveAggregate(ctx, first)
		require.NoError(t, err)

		require.NoError(t, second.Cancel("withdrawn"))
		_, err = store.SaveAggregate(ctx, second)
		assert.ErrorIs(t, err, ErrConcurrencyConflict)
	})

	t.Run("explicit expected version overrides the load version", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.SaveAggregate(ctx, submittedLoan(t))
		require.NoError(t, err)

		loan := NewLoan("loan-1")
		require.NoError(t, store.LoadAggregate(ctx, loan))
		require.NoError(t, loan.AssessRisk(700, "B", 0.4, ""))

		// A wrong override loses even though the load version matches.
		_, err = store.SaveAggregate(ctx, loan, ExpectVersion(5))
		assert.ErrorIs(t, err, ErrConcurrencyConflict)

		// The right override commits, and versions stay contiguous.
		_, err = store.SaveAggregate(ctx, loan, ExpectVersion(1))
		require.NoError(t, err)
		assert.Equal(t, int64(2), loan.Version())

		version, err := store.GetLastVersion(ctx, "loan-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
	})

	t.Run("nothing pending is a no-op", func(t *testing.T) {
		store := newTestStore(t)
		stored, err := store.SaveAggregate(ctx, NewLoan("loan-1"))
		require.NoError(t, err)
		assert.Empty(t, stored)
	})

	t.Run("nil aggregate", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.SaveAggregate(ctx, nil)
		assert.ErrorIs(t, err, ErrNilAggregate)
	})
}

func TestEventStore_LoadAggregate(t *testing.T) {
	ctx := context.Background()

	t.Run("missing aggregate", func(t *testing.T) {
		store := newTestStore(t)
		err := store.LoadAggregate(ctx, NewLoan("missing"))
		assert.ErrorIs(t, err, ErrAggregateNotFound)
	})

	t.Run("partial replay from version", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.SaveAggregate(ctx, activeLoan(t))
		require.NoError(t, err)

		// Seed the aggregate as if a snapshot restored it to version 2,
		// then fold only the remainder of the stream.
		seeded := NewLoan("loan-1")
		stream, err := store.Load(ctx, "loan-1")
		require.NoError(t, err)
		for _, event := range stream[:2] {
			require.NoError(t, seeded.ApplyEvent(event.Data))
		}

		require.NoError(t, store.LoadAggregateFrom(ctx, seeded, 2))
		assert.Equal(t, StatusActive, seeded.Status)
		assert.Equal(t, int64(len(stream)), seeded.Version())
	})
}

func TestEventStore_GetLastPosition(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	position, err := store.GetLastPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), position)

	_, err = store.Append(ctx, "loan-1", []interface{}{
		LoanApplicationSubmitted{LoanID: "loan-1", Applicant: "alice"},
		LoanRiskAssessed{LoanID: "loan-1", Score: 700},
	})
	require.NoError(t, err)

	position, err = store.GetLastPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), position)
}

func TestEventStore_AuditQueries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.SaveAggregate(ctx, submittedLoan(t))
	require.NoError(t, err)
	other := NewLoan("loan-2")
	require.NoError(t, other.Submit("bob", 200_000, "USD", 24, "", time.Now()))
	_, err = store.SaveAggregate(ctx, other)
	require.NoError(t, err)

	t.Run("by type", func(t *testing.T) {
		events, err := store.LoadEventsByType(ctx, "LoanApplicationSubmitted", time.Time{}, 0)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("by time range", func(t *testing.T) {
		events, err := store.LoadEventsByTimeRange(ctx, "loan-1", time.Now().Add(-time.Minute), time.Now().Add(time.Minute), 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("from position", func(t *testing.T) {
		events, err := store.LoadEventsFromPosition(ctx, 1, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "loan-2", events[0].AggregateID)
	})
}

// coreOnlyAdapter implements just the core adapter surface, without the
// audit, subscription or streaming extensions.
type coreOnlyAdapter struct{}

func (coreOnlyAdapter) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	return nil, nil
}

func (coreOnlyAdapter) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	return nil, nil
}

func (coreOnlyAdapter) GetLastVersion(ctx context.Context, aggregateID string) (int64, error) {
	return 0, nil
}

func (coreOnlyAdapter) GetLastPosition(ctx context.Context) (uint64, error) { return 0, nil }

func (coreOnlyAdapter) Initialize(ctx context.Context) error { return nil }

func (coreOnlyAdapter) Close() error { return nil }

func TestEventStore_Subscriptions(t *testing.T) {
	ctx := context.Background()

	recv := func(t *testing.T, ch <-chan StoredEvent) StoredEvent {
		t.Helper()
		select {
		case event, ok := <-ch:
			require.True(t, ok, "channel closed before delivering an event")
			return event
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for an event")
			return StoredEvent{}
		}
	}

	t.Run("streams committed events", func(t *testing.T) {
		store := newTestStore(t)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		_, err := store.SaveAggregate(ctx, submittedLoan(t))
		require.NoError(t, err)

		ch, err := store.SubscribeAll(subCtx, 0)
		require.NoError(t, err)

		event := recv(t, ch)
		assert.Equal(t, "LoanApplicationSubmitted", event.Type)
		assert.Equal(t, "loan-1", event.AggregateID)

		// Events committed after subscribing are delivered too.
		loan := NewLoan("loan-1")
		require.NoError(t, store.LoadAggregate(ctx, loan))
		require.NoError(t, loan.AssessRisk(700, "B", 0.4, ""))
		_, err = store.SaveAggregate(ctx, loan)
		require.NoError(t, err)

		assert.Equal(t, "LoanRiskAssessed", recv(t, ch).Type)
	})

	t.Run("streams a single aggregate", func(t *testing.T) {
		store := newTestStore(t)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		_, err := store.SaveAggregate(ctx, submittedLoan(t))
		require.NoError(t, err)
		other := NewLoan("loan-2")
		require.NoError(t, other.Submit("bob", 200_000, "USD", 24, "", time.Now()))
		_, err = store.SaveAggregate(ctx, other)
		require.NoError(t, err)

		ch, err := store.SubscribeAggregate(subCtx, "loan-2", 0)
		require.NoError(t, err)

		event := recv(t, ch)
		assert.Equal(t, "loan-2", event.AggregateID)
		assert.Equal(t, int64(1), event.Version)
	})

	t.Run("empty aggregate id", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.SubscribeAggregate(ctx, "", 0)
		assert.ErrorIs(t, err, ErrEmptyAggregateID)
	})

	t.Run("adapter without streaming", func(t *testing.T) {
		store := New(coreOnlyAdapter{})
		defer store.Close()

		_, err := store.SubscribeAll(ctx, 0)
		assert.ErrorIs(t, err, ErrSubscriptionNotSupported)
		_, err = store.SubscribeAggregate(ctx, "loan-1", 0)
		assert.ErrorIs(t, err, ErrSubscriptionNotSupported)
	})
}
