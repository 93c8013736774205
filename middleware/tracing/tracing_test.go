package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
	"github.com/dahovitech/loanmaster-sub001/adapters"
	"github.com/dahovitech/loanmaster-sub001/adapters/memory"
)

type fundLoanCommand struct {
	loanmaster.CommandBase
	LoanID string
}

func (c fundLoanCommand) CommandType() string { return "FundLoan" }
func (c fundLoanCommand) AggregateID() string { return c.LoanID }
func (c fundLoanCommand) Validate() error     { return nil }

// bareAdapter implements only the core adapter interface, optionally failing.
type bareAdapter struct {
	err error
}

func (b *bareAdapter) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	return nil, b.err
}

func (b *bareAdapter) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	return nil, b.err
}

func (b *bareAdapter) GetLastVersion(ctx context.Context, aggregateID string) (int64, error) {
	return 0, b.err
}

func (b *bareAdapter) GetLastPosition(ctx context.Context) (uint64, error) { return 0, b.err }
func (b *bareAdapter) Initialize(ctx context.Context) error                { return b.err }
func (b *bareAdapter) Close() error                                        { return b.err }

type recordingProjection struct {
	name     string
	applyErr error
	applied  []loanmaster.StoredEvent
}

func (p *recordingProjection) Name() string            { return p.name }
func (p *recordingProjection) HandledEvents() []string { return nil }

func (p *recordingProjection) Apply(ctx context.Context, event loanmaster.StoredEvent) error {
	p.applied = append(p.applied, event)
	return p.applyErr
}

func setupTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})

	return NewTracer(WithTracerProvider(tp)), exporter
}

func assertAttribute(t *testing.T, attrs []attribute.KeyValue, key, expected string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			assert.Equal(t, expected, attr.Value.AsString())
			return
		}
	}
	t.Errorf("attribute %q not found", key)
}

func TestNewTracer(t *testing.T) {
	t.Run("creates tracer with defaults", func(t *testing.T) {
		tracer := NewTracer()

		assert.NotNil(t, tracer)
		assert.Equal(t, DefaultServiceName, tracer.serviceName)
		assert.NotNil(t, tracer.tracer)
	})

	t.Run("with custom service name", func(t *testing.T) {
		tracer := NewTracer(WithServiceName("loan-api"))

		assert.Equal(t, "loan-api", tracer.serviceName)
	})
}

func TestTracer_StartSpan(t *testing.T) {
	t.Run("starts and exports span", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)

		_, span := tracer.StartSpan(context.Background(), "test-span")
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "test-span", spans[0].Name)
	})
}

func TestCommandMiddleware(t *testing.T) {
	t.Run("traces successful command", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)

		middleware := CommandMiddleware(tracer)
		handler := middleware(func(ctx context.Context, cmd loanmaster.Command) (loanmaster.CommandResult, error) {
			return loanmaster.NewSuccessResult("loan-1", 4), nil
		})

		result, err := handler(context.Background(), fundLoanCommand{LoanID: "loan-1"})

		require.NoError(t, err)
		assert.True(t, result.IsSuccess())

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "command.FundLoan", spans[0].Name)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)

		attrs := spans[0].Attributes
		assertAttribute(t, attrs, "loanmaster.command.type", "FundLoan")
		assertAttribute(t, attrs, "loanmaster.loan.id", "loan-1")
		assertAttribute(t, attrs, "loanmaster.result.loan_id", "loan-1")
	})

	t.Run("traces failed command", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		expectedErr := errors.New("command failed")

		middleware := CommandMiddleware(tracer)
		handler := middleware(func(ctx context.Context, cmd loanmaster.Command) (loanmaster.CommandResult, error) {
			return loanmaster.NewErrorResult(expectedErr), expectedErr
		})

		result, err := handler(context.Background(), fundLoanCommand{LoanID: "loan-1"})

		require.Error(t, err)
		assert.True(t, result.IsError())

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		require.Len(t, spans[0].Events, 1)
	})

	t.Run("traces error carried in the result", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)

		middleware := CommandMiddleware(tracer)
		handler := middleware(func(ctx context.Context, cmd loanmaster.Command) (loanmaster.CommandResult, error) {
			return loanmaster.NewErrorResult(loanmaster.ErrInvalidTransition), nil
		})

		_, err := handler(context.Background(), fundLoanCommand{LoanID: "loan-1"})

		require.NoError(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
	})
}

func TestEventStoreMiddleware_Append(t *testing.T) {
	t.Run("traces successful append", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		middleware := NewEventStoreMiddleware(memory.NewAdapter(), tracer)

		events := []adapters.EventRecord{
			{Type: "LoanSubmitted", Data: []byte("{}")},
			{Type: "LoanFunded", Data: []byte("{}")},
		}

		stored, err := middleware.Append(context.Background(), "loan-1", events, adapters.AnyVersion)

		require.NoError(t, err)
		assert.Len(t, stored, 2)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "eventstore.append", spans[0].Name)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
		assertAttribute(t, spans[0].Attributes, "loanmaster.loan.id", "loan-1")
	})

	t.Run("traces failed append", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		middleware := NewEventStoreMiddleware(&bareAdapter{err: errors.New("append failed")}, tracer)

		_, err := middleware.Append(context.Background(), "loan-1", []adapters.EventRecord{{Type: "LoanSubmitted"}}, adapters.AnyVersion)

		require.Error(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
	})
}

func TestEventStoreMiddleware_Load(t *testing.T) {
	t.Run("traces successful load", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		adapter := memory.NewAdapter()
		_, err := adapter.Append(context.Background(), "loan-1", []adapters.EventRecord{
			{Type: "LoanSubmitted", Data: []byte("{}")},
		}, adapters.AnyVersion)
		require.NoError(t, err)

		middleware := NewEventStoreMiddleware(adapter, tracer)

		events, err := middleware.Load(context.Background(), "loan-1", 0)

		require.NoError(t, err)
		assert.Len(t, events, 1)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "eventstore.load", spans[0].Name)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
	})

	t.Run("traces failed load", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		middleware := NewEventStoreMiddleware(&bareAdapter{err: errors.New("load failed")}, tracer)

		_, err := middleware.Load(context.Background(), "loan-1", 0)

		require.Error(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
	})
}

func TestEventStoreMiddleware_ExtendedReads(t *testing.T) {
	t.Run("traces subscription and audit reads", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		adapter := memory.NewAdapter()
		_, err := adapter.Append(context.Background(), "loan-1", []adapters.EventRecord{
			{Type: "LoanSubmitted", Data: []byte("{}")},
		}, adapters.AnyVersion)
		require.NoError(t, err)

		middleware := NewEventStoreMiddleware(adapter, tracer)

		fromPos, err := middleware.LoadFromPosition(context.Background(), 0, 10)
		require.NoError(t, err)
		assert.Len(t, fromPos, 1)

		byType, err := middleware.LoadByType(context.Background(), "LoanSubmitted", time.Time{}, 0)
		require.NoError(t, err)
		assert.Len(t, byType, 1)

		byRange, err := middleware.LoadByTimeRange(context.Background(), "loan-1", time.Time{}, time.Time{}, 0)
		require.NoError(t, err)
		assert.Len(t, byRange, 1)

		spans := exporter.GetSpans()
		require.Len(t, spans, 3)
		assert.Equal(t, "eventstore.load_from_position", spans[0].Name)
		assert.Equal(t, "eventstore.load_by_type", spans[1].Name)
		assert.Equal(t, "eventstore.load_by_time_range", spans[2].Name)
	})

	t.Run("fails for adapters without extended support", func(t *testing.T) {
		tracer, _ := setupTestTracer(t)
		middleware := NewEventStoreMiddleware(&bareAdapter{}, tracer)

		_, err := middleware.LoadFromPosition(context.Background(), 0, 10)
		require.ErrorIs(t, err, loanmaster.ErrSubscriptionNotSupported)

		_, err = middleware.LoadByType(context.Background(), "LoanSubmitted", time.Time{}, 0)
		require.ErrorIs(t, err, loanmaster.ErrAuditNotSupported)

		_, err = middleware.LoadByTimeRange(context.Background(), "loan-1", time.Time{}, time.Time{}, 0)
		require.ErrorIs(t, err, loanmaster.ErrAuditNotSupported)
	})
}

func TestProjectionMiddleware(t *testing.T) {
	t.Run("delegates name and handled events", func(t *testing.T) {
		tracer, _ := setupTestTracer(t)
		projection := &recordingProjection{name: "loan_summary"}
		middleware := NewProjectionMiddleware(projection, tracer)

		assert.Equal(t, "loan_summary", middleware.Name())
		assert.Nil(t, middleware.HandledEvents())
	})

	t.Run("traces successful apply", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		projection := &recordingProjection{name: "loan_summary"}
		middleware := NewProjectionMiddleware(projection, tracer)

		err := middleware.Apply(context.Background(), loanmaster.StoredEvent{
			ID:             "event-1",
			AggregateID:    "loan-1",
			Type:           "LoanSubmitted",
			Version:        1,
			GlobalPosition: 42,
		})

		require.NoError(t, err)
		assert.Len(t, projection.applied, 1)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "projection.loan_summary.apply", spans[0].Name)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
		assertAttribute(t, spans[0].Attributes, "loanmaster.event.type", "LoanSubmitted")
		assertAttribute(t, spans[0].Attributes, "loanmaster.loan.id", "loan-1")
	})

	t.Run("traces failed apply", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		projection := &recordingProjection{name: "loan_summary", applyErr: errors.New("apply failed")}
		middleware := NewProjectionMiddleware(projection, tracer)

		err := middleware.Apply(context.Background(), loanmaster.StoredEvent{
			ID:   "event-1",
			Type: "LoanSubmitted",
		})

		require.Error(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
	})
}

func TestSpanHelpers(t *testing.T) {
	t.Run("records events and errors on the current span", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)

		ctx, span := tracer.StartSpan(context.Background(), "helpers")
		AddEvent(ctx, "payment-scheduled")
		SetError(ctx, errors.New("delivery failed"))
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		require.Len(t, spans[0].Events, 2)
		assert.Equal(t, "payment-scheduled", spans[0].Events[0].Name)
	})

	t.Run("SpanFromContext returns the active span", func(t *testing.T) {
		tracer, _ := setupTestTracer(t)

		ctx, span := tracer.StartSpan(context.Background(), "active")
		defer span.End()

		assert.Equal(t, span, SpanFromContext(ctx))
	})
}
