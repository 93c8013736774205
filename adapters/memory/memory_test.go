package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

func record(eventType string) adapters.EventRecord {
	return adapters.EventRecord{
		Type: eventType,
		Data: []byte(`{"loanId":"loan-1"}`),
	}
}

func TestMemoryAdapter_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns versions and global positions", func(t *testing.T) {
		adapter := NewAdapter()
		defer adapter.Close()

		first, err := adapter.Append(ctx, "loan-1", []adapters.EventRecord{record("A"), record("B")}, adapters.AnyVersion)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, int64(1), first[0].Version)
		assert.Equal(t, int64(2), first[1].Version)
		assert.Equal(t, uint64(1), first[0].GlobalPosition)
		assert.Equal(t, uint64(2), first[1].GlobalPosition)
		assert.NotEmpty(t, first[0].ID)
		assert.False(t, first[0].OccurredAt.IsZero())

		// Positions are global across aggregates.
		second, err := adapter.Append(ctx, "loan-2", []adapters.EventRecord{record("A")}, adapters.AnyVersion)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), second[0].GlobalPosition)
		assert.Equal(t, int64(1), second[0].Version)
	})

	t.Run("version check", func(t *testing.T) {
		adapter := NewAdapter()
		defer adapter.Close()

		_, err := adapter.Append(ctx, "loan-1", []adapters.EventRecord{record("A")}, 0)
		require.NoError(t, err)

		_, err = adapter.Append(ctx, "loan-1", []adapters.EventRecord{record("B")}, 0)
		assert.ErrorIs(t, err, ErrConcurrencyConflict)

		var conflict *ConcurrencyError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "loan-1", conflict.AggregateID)
		assert.Equal(t, int64(0), conflict.ExpectedVersion)
		assert.Equal(t, int64(1), conflict.ActualVersion)
	})

	t.Run("input validation", func(t *testing.T) {
		adapter := NewAdapter()
		defer adapter.Close()

		_, err := adapter.Append(ctx, "", []adapters.EventRecord{record("A")}, adapters.AnyVersion)
		assert.ErrorIs(t, err, ErrEmptyAggregateID)

		_, err = adapter.Append(ctx, "loan-1", nil, adapters.AnyVersion)
		assert.ErrorIs(t, err, ErrNoEvents)
	})

	t.Run("closed adapter", func(t *testing.T) {
		adapter := NewAdapter()
		require.NoError(t, adapter.Close())

		_, err := adapter.Append(ctx, "loan-1", []adapters.EventRecord{record("A")}, adapters.AnyVersion)
		assert.ErrorIs(t, err, ErrAdapterClosed)
		assert.ErrorIs(t, adapter.Ping(ctx), ErrAdapterClosed)
	})
}

func TestMemoryAdapter_Load(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter()
	defer adapter.Close()

	_, err := adapter.Append(ctx, "loan-1", []adapters.EventRecord{record("A"), record("B"), record("C")}, adapters.AnyVersion)
	require.NoError(t, err)

	t.Run("full stream", func(t *testing.T) {
		events, err := adapter.Load(ctx, "loan-1", 0)
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})

	t.Run("from version", func(t *testing.T) {
		events, err := adapter.Load(ctx, "loan-1", 2)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, int64(3), events[0].Version)
	})

	t.Run("unknown aggregate is empty, not an error", func(t *testing.T) {
		events, err := adapter.Load(ctx, "missing", 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("last version and position", func(t *testing.T) {
		version, err := adapter.GetLastVersion(ctx, "loan-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), version)

		version, err = adapter.GetLastVersion(ctx, "missing")
		require.NoError(t, err)
		assert.Zero(t, version)

		position, err := adapter.GetLastPosition(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), position)
	})
}

func TestMemoryAdapter_AuditQueries(t *testing.T) {
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	adapter := NewAdapter(WithClock(func() time.Time { return now }))
	defer adapter.Close()

	_, err := adapter.Append(ctx, "loan-1", []adapters.EventRecord{record("A")}, adapters.AnyVersion)
	require.NoError(t, err)
	now = base.Add(time.Hour)
	_, err = adapter.Append(ctx, "loan-2", []adapters.EventRecord{record("A"), record("B")}, adapters.AnyVersion)
	require.NoError(t, err)

	t.Run("by type since", func(t *testing.T) {
		events, err := adapter.LoadByType(ctx, "A", time.Time{}, 0)
		require.NoError(t, err)
		assert.Len(t, events, 2)

		events, err = adapter.LoadByType(ctx, "A", base.Add(30*time.Minute), 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "loan-2", events[0].AggregateID)
	})

	t.Run("time range is closed on both ends", func(t *testing.T) {
		events, err := adapter.LoadByTimeRange(ctx, "loan-1", base, base, 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)

		events, err = adapter.LoadByTimeRange(ctx, "", base, base.Add(time.Hour), 0)
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})

	t.Run("from position honors the limit", func(t *testing.T) {
		events, err := adapter.LoadFromPosition(ctx, 0, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, uint64(1), events[0].GlobalPosition)
		assert.Equal(t, uint64(2), events[1].GlobalPosition)

		events, err = adapter.LoadFromPosition(ctx, 2, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, uint64(3), events[0].GlobalPosition)
	})
}

func TestMemoryAdapter_AuditQueries_NonMonotonicClock(t *testing.T) {
	ctx := context.Background()

	// The clock jumps backwards between appends, so append order and
	// occurred_at order disagree.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base.Add(time.Hour)
	adapter := NewAdapter(WithClock(func() time.Time { return now }))
	defer adapter.Close()

	_, err := adapter.Append(ctx, "loan-1", []adapters.EventRecord{record("A")}, adapters.AnyVersion)
	require.NoError(t, err)
	now = base
	_, err = adapter.Append(ctx, "loan-2", []adapters.EventRecord{record("A")}, adapters.AnyVersion)
	require.NoError(t, err)

	t.Run("by type limit keeps the earliest event", func(t *testing.T) {
		events, err := adapter.LoadByType(ctx, "A", time.Time{}, 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "loan-2", events[0].AggregateID)
		assert.Equal(t, base, events[0].OccurredAt)
	})

	t.Run("time range limit keeps the earliest event", func(t *testing.T) {
		events, err := adapter.LoadByTimeRange(ctx, "", base, base.Add(time.Hour), 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "loan-2", events[0].AggregateID)
	})
}

func TestMemoryAdapter_Subscriptions(t *testing.T) {
	recv := func(t *testing.T, ch <-chan adapters.StoredEvent) adapters.StoredEvent {
		t.Helper()
		select {
		case event, ok := <-ch:
			require.True(t, ok, "channel closed before delivering an event")
			return event
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for an event")
			return adapters.StoredEvent{}
		}
	}

	t.Run("subscribe all delivers history then live appends", func(t *testing.T) {
		adapter := NewAdapter()
		defer adapter.Close()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		_, err := adapter.Append(ctx, "loan-1", []adapters.EventRecord{record("A"), record("B")}, adapters.AnyVersion)
		require.NoError(t, err)

		ch, err := adapter.SubscribeAll(ctx, 0)
		require.NoError(t, err)

		assert.Equal(t, uint64(1), recv(t, ch).GlobalPosition)
		assert.Equal(t, uint64(2), recv(t, ch).GlobalPosition)

		_, err = adapter.Append(ctx, "loan-2", []adapters.EventRecord{record("C")}, adapters.AnyVersion)
		require.NoError(t, err)

		live := recv(t, ch)
		assert.Equal(t, uint64(3), live.GlobalPosition)
		assert.Equal(t, "loan-2", live.AggregateID)
	})

	t.Run("subscribe all honors the starting position", func(t *testing.T) {
		adapter := NewAdapter()
		defer adapter.Close()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		_, err := adapter.Append(ctx, "loan-1", []adapters.EventRecord{record("A"), record("B")}, adapters.AnyVersion)
		require.NoError(t, err)

		ch, err := adapter.SubscribeAll(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), recv(t, ch).GlobalPosition)
	})

	t.Run("subscribe aggregate filters other streams", func(t *testing.T) {
		adapter := NewAdapter()
		defer adapter.Close()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		_, err := adapter.Append(ctx, "loan-1", []adapters.EventRecord{record("A")}, adapters.AnyVersion)
		require.NoError(t, err)
		_, err = adapter.Append(ctx, "loan-2", []adapters.EventRecord{record("B")}, adapters.AnyVersion)
		require.NoError(t, err)

		ch, err := adapter.SubscribeAggregate(ctx, "loan-2", 0)
		require.NoError(t, err)

		event := recv(t, ch)
		assert.Equal(t, "loan-2", event.AggregateID)
		assert.Equal(t, int64(1), event.Version)

		_, err = adapter.Append(ctx, "loan-2", []adapters.EventRecord{record("C")}, adapters.AnyVersion)
		require.NoError(t, err)
		assert.Equal(t, int64(2), recv(t, ch).Version)
	})

	t.Run("cancellation closes the channel", func(t *testing.T) {
		adapter := NewAdapter()
		defer adapter.Close()
		ctx, cancel := context.WithCancel(context.Background())

		ch, err := adapter.SubscribeAll(ctx, 0)
		require.NoError(t, err)

		cancel()
		select {
		case _, ok := <-ch:
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("channel was not closed after cancellation")
		}
	})

	t.Run("input validation", func(t *testing.T) {
		adapter := NewAdapter()
		ctx := context.Background()

		_, err := adapter.SubscribeAggregate(ctx, "", 0)
		assert.ErrorIs(t, err, ErrEmptyAggregateID)

		require.NoError(t, adapter.Close())
		_, err = adapter.SubscribeAll(ctx, 0)
		assert.ErrorIs(t, err, ErrAdapterClosed)
	})
}

func TestMemoryAdapter_Snapshots(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter()
	defer adapter.Close()

	t.Run("save and load", func(t *testing.T) {
		require.NoError(t, adapter.SaveSnapshot(ctx, "loan-1", "Loan", 25, []byte(`{"status":"active"}`)))

		record, err := adapter.LoadSnapshot(ctx, "loan-1")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, int64(25), record.Version)
		assert.Equal(t, "Loan", record.AggregateType)
		assert.Equal(t, []byte(`{"status":"active"}`), record.Data)
	})

	t.Run("rejects version regression", func(t *testing.T) {
		err := adapter.SaveSnapshot(ctx, "loan-1", "Loan", 10, []byte(`{}`))
		assert.ErrorIs(t, err, adapters.ErrSnapshotRegression)

		// The newer snapshot is untouched.
		record, err := adapter.LoadSnapshot(ctx, "loan-1")
		require.NoError(t, err)
		assert.Equal(t, int64(25), record.Version)
	})

	t.Run("missing snapshot is nil, not an error", func(t *testing.T) {
		record, err := adapter.LoadSnapshot(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, adapter.DeleteSnapshot(ctx, "loan-1"))
		record, err := adapter.LoadSnapshot(ctx, "loan-1")
		require.NoError(t, err)
		assert.Nil(t, record)
	})
}

func TestMemoryAdapter_Checkpoints(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter()
	defer adapter.Close()

	position, err := adapter.GetCheckpoint(ctx, "loan_summary")
	require.NoError(t, err)
	assert.Zero(t, position)

	require.NoError(t, adapter.SetCheckpoint(ctx, "loan_summary", 42))
	position, err = adapter.GetCheckpoint(ctx, "loan_summary")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), position)

	require.NoError(t, adapter.DeleteCheckpoint(ctx, "loan_summary"))
	position, err = adapter.GetCheckpoint(ctx, "loan_summary")
	require.NoError(t, err)
	assert.Zero(t, position)
}
