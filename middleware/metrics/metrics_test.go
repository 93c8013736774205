package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
	"github.com/dahovitech/loanmaster-sub001/adapters"
	"github.com/dahovitech/loanmaster-sub001/adapters/memory"
)

// approveCommand is a minimal command for middleware tests.
type approveCommand struct {
	loanmaster.CommandBase
	LoanID string
}

func (c approveCommand) CommandType() string { return "ApproveLoan" }
func (c approveCommand) Validate() error     { return nil }

// failingAdapter returns a fixed error from every operation and implements
// only the core adapter interface, without audit or subscription support.
type failingAdapter struct {
	err error
}

func (f *failingAdapter) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	return nil, f.err
}

func (f *failingAdapter) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	return nil, f.err
}

func (f *failingAdapter) GetLastVersion(ctx context.Context, aggregateID string) (int64, error) {
	return 0, f.err
}

func (f *failingAdapter) GetLastPosition(ctx context.Context) (uint64, error) {
	return 0, f.err
}

func (f *failingAdapter) Initialize(ctx context.Context) error { return f.err }
func (f *failingAdapter) Close() error                         { return f.err }

// stubProjection records applied events and optionally fails.
type stubProjection struct {
	name     string
	events   []string
	applyErr error
	applied  int
}

func (p *stubProjection) Name() string            { return p.name }
func (p *stubProjection) HandledEvents() []string { return p.events }

func (p *stubProjection) Apply(ctx context.Context, event loanmaster.StoredEvent) error {
	if p.applyErr != nil {
		return p.applyErr
	}
	p.applied++
	return nil
}

// stubPublisher counts publishes and optionally fails.
type stubPublisher struct {
	scheme string
	err    error
	count  int
}

func (p *stubPublisher) Scheme() string { return p.scheme }

func (p *stubPublisher) Publish(ctx context.Context, dest loanmaster.Destination, msg *loanmaster.OutboxMessage) error {
	if p.err != nil {
		return p.err
	}
	p.count++
	return nil
}

func TestNew(t *testing.T) {
	t.Run("creates metrics with defaults", func(t *testing.T) {
		m := New()

		assert.NotNil(t, m)
		assert.Equal(t, "loanmaster", m.namespace)
		assert.Equal(t, "unknown", m.serviceName)
	})

	t.Run("with custom options", func(t *testing.T) {
		m := New(
			WithNamespace("custom"),
			WithServiceName("loan-api"),
		)

		assert.Equal(t, "custom", m.namespace)
		assert.Equal(t, "loan-api", m.serviceName)
	})
}

func TestMetrics_Collectors(t *testing.T) {
	t.Run("returns all collectors", func(t *testing.T) {
		m := New()

		assert.Len(t, m.Collectors(), 14)
	})
}

func TestMetrics_Register(t *testing.T) {
	t.Run("registers with custom registry", func(t *testing.T) {
		m := New(WithNamespace("test_register"))
		registry := prometheus.NewRegistry()

		err := m.Register(registry)

		require.NoError(t, err)
	})

	t.Run("returns error on duplicate registration", func(t *testing.T) {
		m := New(WithNamespace("test_dup"))
		registry := prometheus.NewRegistry()

		err := m.Register(registry)
		require.NoError(t, err)

		err = m.Register(registry)
		require.Error(t, err)
	})
}

func TestMetrics_CommandMiddleware(t *testing.T) {
	t.Run("records successful command", func(t *testing.T) {
		m := New(WithNamespace("cmd_success"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		middleware := m.CommandMiddleware()
		handler := middleware(func(ctx context.Context, cmd loanmaster.Command) (loanmaster.CommandResult, error) {
			return loanmaster.NewSuccessResult("loan-1", 1), nil
		})

		result, err := handler(context.Background(), approveCommand{LoanID: "loan-1"})

		require.NoError(t, err)
		assert.True(t, result.IsSuccess())

		count := testutil.ToFloat64(m.commandsTotal.WithLabelValues("test", "ApproveLoan", StatusSuccess))
		assert.Equal(t, float64(1), count)
	})

	t.Run("records failed command", func(t *testing.T) {
		m := New(WithNamespace("cmd_fail"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		middleware := m.CommandMiddleware()
		expectedErr := errors.New("command failed")
		handler := middleware(func(ctx context.Context, cmd loanmaster.Command) (loanmaster.CommandResult, error) {
			return loanmaster.NewErrorResult(expectedErr), expectedErr
		})

		result, err := handler(context.Background(), approveCommand{LoanID: "loan-1"})

		require.Error(t, err)
		assert.True(t, result.IsError())

		count := testutil.ToFloat64(m.commandsTotal.WithLabelValues("test", "ApproveLoan", StatusError))
		assert.Equal(t, float64(1), count)
	})

	t.Run("tracks in-flight commands", func(t *testing.T) {
		m := New(WithNamespace("cmd_inflight"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		middleware := m.CommandMiddleware()
		inFlightDuringExecution := float64(-1)

		handler := middleware(func(ctx context.Context, cmd loanmaster.Command) (loanmaster.CommandResult, error) {
			inFlightDuringExecution = testutil.ToFloat64(m.commandsInFlight.WithLabelValues("test", "ApproveLoan"))
			return loanmaster.NewSuccessResult("loan-1", 1), nil
		})

		_, _ = handler(context.Background(), approveCommand{LoanID: "loan-1"})

		assert.Equal(t, float64(1), inFlightDuringExecution)

		inFlightAfter := testutil.ToFloat64(m.commandsInFlight.WithLabelValues("test", "ApproveLoan"))
		assert.Equal(t, float64(0), inFlightAfter)
	})

	t.Run("records error from result when handler returns nil error", func(t *testing.T) {
		m := New(WithNamespace("cmd_result_err"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		middleware := m.CommandMiddleware()
		handler := middleware(func(ctx context.Context, cmd loanmaster.Command) (loanmaster.CommandResult, error) {
			return loanmaster.NewErrorResult(loanmaster.ErrValidationFailed), nil
		})

		result, err := handler(context.Background(), approveCommand{LoanID: "loan-1"})

		require.NoError(t, err)
		assert.True(t, result.IsError())

		count := testutil.ToFloat64(m.errorsTotal.WithLabelValues("test", "validation_failed"))
		assert.Equal(t, float64(1), count)
	})
}

func TestEventStoreMiddleware_Append(t *testing.T) {
	t.Run("records successful append", func(t *testing.T) {
		m := New(WithNamespace("es_append_success"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		wrapped := m.WrapEventStore(memory.NewAdapter())
		events := []adapters.EventRecord{
			{Type: "LoanSubmitted", Data: []byte("{}")},
			{Type: "LoanFunded", Data: []byte("{}")},
		}

		stored, err := wrapped.Append(context.Background(), "loan-1", events, adapters.AnyVersion)

		require.NoError(t, err)
		assert.Len(t, stored, 2)

		successCount := testutil.ToFloat64(m.storeOperationsTotal.WithLabelValues("test", "append", StatusSuccess))
		assert.Equal(t, float64(1), successCount)

		submittedCount := testutil.ToFloat64(m.eventsAppendedTotal.WithLabelValues("test", "LoanSubmitted"))
		assert.Equal(t, float64(1), submittedCount)

		fundedCount := testutil.ToFloat64(m.eventsAppendedTotal.WithLabelValues("test", "LoanFunded"))
		assert.Equal(t, float64(1), fundedCount)
	})

	t.Run("records failed append", func(t *testing.T) {
		m := New(WithNamespace("es_append_fail"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		wrapped := m.WrapEventStore(&failingAdapter{err: errors.New("append failed")})

		_, err := wrapped.Append(context.Background(), "loan-1", []adapters.EventRecord{{Type: "LoanSubmitted"}}, adapters.AnyVersion)

		require.Error(t, err)

		errorCount := testutil.ToFloat64(m.storeOperationsTotal.WithLabelValues("test", "append", StatusError))
		assert.Equal(t, float64(1), errorCount)

		appendErrorCount := testutil.ToFloat64(m.errorsTotal.WithLabelValues("test", "append_error"))
		assert.Equal(t, float64(1), appendErrorCount)
	})
}

func TestEventStoreMiddleware_Load(t *testing.T) {
	t.Run("records successful load", func(t *testing.T) {
		m := New(WithNamespace("es_load_success"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		adapter := memory.NewAdapter()
		_, err := adapter.Append(context.Background(), "loan-1", []adapters.EventRecord{
			{Type: "LoanSubmitted", Data: []byte("{}")},
			{Type: "LoanFunded", Data: []byte("{}")},
		}, adapters.AnyVersion)
		require.NoError(t, err)

		wrapped := m.WrapEventStore(adapter)

		events, err := wrapped.Load(context.Background(), "loan-1", 0)

		require.NoError(t, err)
		assert.Len(t, events, 2)

		successCount := testutil.ToFloat64(m.storeOperationsTotal.WithLabelValues("test", "load", StatusSuccess))
		assert.Equal(t, float64(1), successCount)

		loadedCount := testutil.ToFloat64(m.eventsLoadedTotal.WithLabelValues("test"))
		assert.Equal(t, float64(2), loadedCount)
	})

	t.Run("records failed load", func(t *testing.T) {
		m := New(WithNamespace("es_load_fail"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		wrapped := m.WrapEventStore(&failingAdapter{err: errors.New("load failed")})

		_, err := wrapped.Load(context.Background(), "loan-1", 0)

		require.Error(t, err)

		errorCount := testutil.ToFloat64(m.storeOperationsTotal.WithLabelValues("test", "load", StatusError))
		assert.Equal(t, float64(1), errorCount)
	})
}

func TestEventStoreMiddleware_Positions(t *testing.T) {
	t.Run("forwards last version and position", func(t *testing.T) {
		m := New(WithNamespace("es_positions"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		adapter := memory.NewAdapter()
		_, err := adapter.Append(context.Background(), "loan-1", []adapters.EventRecord{
			{Type: "LoanSubmitted", Data: []byte("{}")},
		}, adapters.AnyVersion)
		require.NoError(t, err)

		wrapped := m.WrapEventStore(adapter)

		version, err := wrapped.GetLastVersion(context.Background(), "loan-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)

		pos, err := wrapped.GetLastPosition(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), pos)

		versionCount := testutil.ToFloat64(m.storeOperationsTotal.WithLabelValues("test", "get_last_version", StatusSuccess))
		assert.Equal(t, float64(1), versionCount)
	})
}

func TestEventStoreMiddleware_LoadFromPosition(t *testing.T) {
	t.Run("records successful subscription read", func(t *testing.T) {
		m := New(WithNamespace("es_lfp_success"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		adapter := memory.NewAdapter()
		_, err := adapter.Append(context.Background(), "loan-1", []adapters.EventRecord{
			{Type: "LoanSubmitted", Data: []byte("{}")},
			{Type: "LoanFunded", Data: []byte("{}")},
		}, adapters.AnyVersion)
		require.NoError(t, err)

		wrapped := m.WrapEventStore(adapter)

		events, err := wrapped.LoadFromPosition(context.Background(), 0, 10)

		require.NoError(t, err)
		assert.Len(t, events, 2)

		successCount := testutil.ToFloat64(m.storeOperationsTotal.WithLabelValues("test", "load_from_position", StatusSuccess))
		assert.Equal(t, float64(1), successCount)
	})

	t.Run("fails when adapter has no subscription support", func(t *testing.T) {
		m := New(WithNamespace("es_lfp_unsupported"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		wrapped := m.WrapEventStore(&failingAdapter{err: errors.New("unused")})

		_, err := wrapped.LoadFromPosition(context.Background(), 0, 10)

		require.ErrorIs(t, err, loanmaster.ErrSubscriptionNotSupported)
	})
}

func TestEventStoreMiddleware_AuditReads(t *testing.T) {
	t.Run("records audit reads", func(t *testing.T) {
		m := New(WithNamespace("es_audit"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		adapter := memory.NewAdapter()
		_, err := adapter.Append(context.Background(), "loan-1", []adapters.EventRecord{
			{Type: "LoanSubmitted", Data: []byte("{}")},
		}, adapters.AnyVersion)
		require.NoError(t, err)

		wrapped := m.WrapEventStore(adapter)

		byType, err := wrapped.LoadByType(context.Background(), "LoanSubmitted", time.Time{}, 0)
		require.NoError(t, err)
		assert.Len(t, byType, 1)

		byRange, err := wrapped.LoadByTimeRange(context.Background(), "loan-1", time.Time{}, time.Time{}, 0)
		require.NoError(t, err)
		assert.Len(t, byRange, 1)

		typeCount := testutil.ToFloat64(m.storeOperationsTotal.WithLabelValues("test", "load_by_type", StatusSuccess))
		assert.Equal(t, float64(1), typeCount)
	})

	t.Run("fails when adapter has no audit support", func(t *testing.T) {
		m := New(WithNamespace("es_audit_unsupported"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		wrapped := m.WrapEventStore(&failingAdapter{err: errors.New("unused")})

		_, err := wrapped.LoadByType(context.Background(), "LoanSubmitted", time.Time{}, 0)
		require.ErrorIs(t, err, loanmaster.ErrAuditNotSupported)

		_, err = wrapped.LoadByTimeRange(context.Background(), "loan-1", time.Time{}, time.Time{}, 0)
		require.ErrorIs(t, err, loanmaster.ErrAuditNotSupported)
	})
}

func TestProjectionMiddleware(t *testing.T) {
	t.Run("delegates name and handled events", func(t *testing.T) {
		m := New()
		wrapped := m.WrapProjection(&stubProjection{
			name:   "loan_summary",
			events: []string{"LoanSubmitted", "LoanFunded"},
		})

		assert.Equal(t, "loan_summary", wrapped.Name())
		assert.Equal(t, []string{"LoanSubmitted", "LoanFunded"}, wrapped.HandledEvents())
	})

	t.Run("records successful apply", func(t *testing.T) {
		m := New(WithNamespace("proj_success"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		projection := &stubProjection{name: "loan_summary"}
		wrapped := m.WrapProjection(projection)

		err := wrapped.Apply(context.Background(), loanmaster.StoredEvent{
			ID:             "event-1",
			AggregateID:    "loan-1",
			Type:           "LoanSubmitted",
			Version:        1,
			GlobalPosition: 100,
		})

		require.NoError(t, err)
		assert.Equal(t, 1, projection.applied)

		successCount := testutil.ToFloat64(m.projectionsProcessedTotal.WithLabelValues("test", "loan_summary", "LoanSubmitted", StatusSuccess))
		assert.Equal(t, float64(1), successCount)

		checkpoint := testutil.ToFloat64(m.projectionCheckpoint.WithLabelValues("test", "loan_summary"))
		assert.Equal(t, float64(100), checkpoint)
	})

	t.Run("records failed apply", func(t *testing.T) {
		m := New(WithNamespace("proj_fail"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		wrapped := m.WrapProjection(&stubProjection{
			name:     "loan_summary",
			applyErr: errors.New("apply failed"),
		})

		err := wrapped.Apply(context.Background(), loanmaster.StoredEvent{
			ID:   "event-1",
			Type: "LoanSubmitted",
		})

		require.Error(t, err)

		errorCount := testutil.ToFloat64(m.projectionsProcessedTotal.WithLabelValues("test", "loan_summary", "LoanSubmitted", StatusError))
		assert.Equal(t, float64(1), errorCount)
	})
}

func TestMetrics_ManualRecording(t *testing.T) {
	t.Run("records projection lag", func(t *testing.T) {
		m := New(WithNamespace("lag_test"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		m.RecordProjectionLag("loan_summary", 50)

		lag := testutil.ToFloat64(m.projectionLag.WithLabelValues("test", "loan_summary"))
		assert.Equal(t, float64(50), lag)
	})

	t.Run("records outbox deliveries by outcome", func(t *testing.T) {
		m := New(WithNamespace("outbox_test"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		m.RecordOutboxDelivery("webhook", true)
		m.RecordOutboxDelivery("webhook", true)
		m.RecordOutboxDelivery("webhook", false)

		success := testutil.ToFloat64(m.outboxDeliveriesTotal.WithLabelValues("test", "webhook", StatusSuccess))
		assert.Equal(t, float64(2), success)

		failed := testutil.ToFloat64(m.outboxDeliveriesTotal.WithLabelValues("test", "webhook", StatusError))
		assert.Equal(t, float64(1), failed)
	})

	t.Run("records outbox backlog", func(t *testing.T) {
		m := New(WithNamespace("backlog_test"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		m.RecordOutboxPending(7)

		pending := testutil.ToFloat64(m.outboxPending.WithLabelValues("test"))
		assert.Equal(t, float64(7), pending)
	})
}

func TestMetrics_WrapPublisher(t *testing.T) {
	t.Run("records successful publish", func(t *testing.T) {
		m := New(WithNamespace("pub_success"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		publisher := &stubPublisher{scheme: "webhook"}
		wrapped := m.WrapPublisher(publisher)

		assert.Equal(t, "webhook", wrapped.Scheme())

		err := wrapped.Publish(context.Background(), loanmaster.Destination{Scheme: "webhook", Target: "https://example.com/hooks"}, &loanmaster.OutboxMessage{ID: "msg-1"})

		require.NoError(t, err)
		assert.Equal(t, 1, publisher.count)

		success := testutil.ToFloat64(m.outboxDeliveriesTotal.WithLabelValues("test", "webhook", StatusSuccess))
		assert.Equal(t, float64(1), success)
	})

	t.Run("records failed publish", func(t *testing.T) {
		m := New(WithNamespace("pub_fail"), WithServiceName("test"))
		registry := prometheus.NewRegistry()
		_ = m.Register(registry)

		wrapped := m.WrapPublisher(&stubPublisher{scheme: "kafka", err: errors.New("broker unavailable")})

		err := wrapped.Publish(context.Background(), loanmaster.Destination{Scheme: "kafka", Target: "loan-events"}, &loanmaster.OutboxMessage{ID: "msg-1"})

		require.Error(t, err)

		failed := testutil.ToFloat64(m.outboxDeliveriesTotal.WithLabelValues("test", "kafka", StatusError))
		assert.Equal(t, float64(1), failed)
	})
}

func TestErrorTypeName(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, "none"},
		{"concurrency conflict", loanmaster.ErrConcurrencyConflict, "concurrency_conflict"},
		{"aggregate not found", loanmaster.ErrAggregateNotFound, "aggregate_not_found"},
		{"handler not found", loanmaster.ErrHandlerNotFound, "handler_not_found"},
		{"validation failed", loanmaster.ErrValidationFailed, "validation_failed"},
		{"invalid transition", loanmaster.ErrInvalidTransition, "invalid_transition"},
		{"overpayment", loanmaster.ErrOverpayment, "overpayment"},
		{"command already processed", loanmaster.ErrCommandAlreadyProcessed, "command_already_processed"},
		{"handler panicked", loanmaster.ErrHandlerPanicked, "handler_panicked"},
		{"serialization failed", loanmaster.ErrSerializationFailed, "serialization_failed"},
		{"event type not registered", loanmaster.ErrEventTypeNotRegistered, "event_type_not_registered"},
		{"empty aggregate id", adapters.ErrEmptyAggregateID, "empty_aggregate_id"},
		{"no events", adapters.ErrNoEvents, "no_events"},
		{"invalid version", adapters.ErrInvalidVersion, "invalid_version"},
		{"adapter closed", adapters.ErrAdapterClosed, "adapter_closed"},
		{"unknown error", errors.New("some random error"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, errorTypeName(tt.err))
		})
	}
}
