// Package tracing provides OpenTelemetry spans for loanmaster operations:
// command execution, event store access and projection processing.
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer(tracing.WithServiceName("loan-api"))
//	bus := loanmaster.NewCommandBus()
//	bus.Use(tracing.CommandMiddleware(tracer))
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
	"github.com/dahovitech/loanmaster-sub001/adapters"
)

const (
	// TracerName identifies spans produced by this package.
	TracerName = "github.com/dahovitech/loanmaster-sub001"

	// DefaultServiceName is used when no service name is configured.
	DefaultServiceName = "loanmaster"
)

// Tracer wraps an OpenTelemetry tracer for loanmaster operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name recorded on spans.
func WithServiceName(name string) Option {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a Tracer using the global TracerProvider by default.
func NewTracer(opts ...Option) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// CommandMiddleware traces command dispatch. Spans carry the command type,
// the targeted loan and the resulting version.
func CommandMiddleware(tracer *Tracer) loanmaster.Middleware {
	return func(next loanmaster.DispatchFunc) loanmaster.DispatchFunc {
		return func(ctx context.Context, cmd loanmaster.Command) (loanmaster.CommandResult, error) {
			ctx, span := tracer.StartSpan(ctx, fmt.Sprintf("command.%s", cmd.CommandType()),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			attrs := []attribute.KeyValue{
				attribute.String("loanmaster.service", tracer.serviceName),
				attribute.String("loanmaster.command.type", cmd.CommandType()),
			}
			if aggCmd, ok := cmd.(loanmaster.AggregateCommand); ok && aggCmd.AggregateID() != "" {
				attrs = append(attrs, attribute.String("loanmaster.loan.id", aggCmd.AggregateID()))
			}
			span.SetAttributes(attrs...)

			result, err := next(ctx, cmd)

			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case result.IsError():
				span.RecordError(result.Error)
				span.SetStatus(codes.Error, result.Error.Error())
			default:
				span.SetStatus(codes.Ok, "")
				span.SetAttributes(
					attribute.String("loanmaster.result.loan_id", result.AggregateID),
					attribute.Int64("loanmaster.result.version", result.Version),
				)
			}
			return result, err
		}
	}
}

// EventStoreMiddleware wraps an EventStoreAdapter with tracing.
type EventStoreMiddleware struct {
	adapter adapters.EventStoreAdapter
	tracer  *Tracer
}

// NewEventStoreMiddleware wraps an adapter with tracing.
func NewEventStoreMiddleware(adapter adapters.EventStoreAdapter, tracer *Tracer) *EventStoreMiddleware {
	return &EventStoreMiddleware{adapter: adapter, tracer: tracer}
}

func (m *EventStoreMiddleware) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.append",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("loanmaster.service", m.tracer.serviceName),
		attribute.String("loanmaster.loan.id", aggregateID),
		attribute.Int64("loanmaster.expected_version", expectedVersion),
		attribute.Int("loanmaster.events.count", len(events)),
	)
	if len(events) > 0 {
		types := make([]string, len(events))
		for i, e := range events {
			types[i] = e.Type
		}
		span.SetAttributes(attribute.StringSlice("loanmaster.events.types", types))
	}

	stored, err := m.adapter.Append(ctx, aggregateID, events, expectedVersion)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		if len(stored) > 0 {
			last := stored[len(stored)-1]
			span.SetAttributes(
				attribute.Int64("loanmaster.stored.version", last.Version),
				attribute.Int64("loanmaster.stored.global_position", int64(last.GlobalPosition)),
			)
		}
	}
	return stored, err
}

func (m *EventStoreMiddleware) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.load",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("loanmaster.service", m.tracer.serviceName),
		attribute.String("loanmaster.loan.id", aggregateID),
		attribute.Int64("loanmaster.from_version", fromVersion),
	)

	events, err := m.adapter.Load(ctx, aggregateID, fromVersion)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("loanmaster.events.loaded", len(events)))
	}
	return events, err
}

func (m *EventStoreMiddleware) GetLastVersion(ctx context.Context, aggregateID string) (int64, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.get_last_version",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("loanmaster.service", m.tracer.serviceName),
		attribute.String("loanmaster.loan.id", aggregateID),
	)

	version, err := m.adapter.GetLastVersion(ctx, aggregateID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("loanmaster.last_version", version))
	}
	return version, err
}

func (m *EventStoreMiddleware) GetLastPosition(ctx context.Context) (uint64, error) {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.get_last_position",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(attribute.String("loanmaster.service", m.tracer.serviceName))

	pos, err := m.adapter.GetLastPosition(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("loanmaster.last_position", int64(pos)))
	}
	return pos, err
}

// LoadByTimeRange forwards audit reads with tracing. Fails when the wrapped
// adapter has no audit support.
func (m *EventStoreMiddleware) LoadByTimeRange(ctx context.Context, aggregateID string, since, until time.Time, limit int) ([]adapters.StoredEvent, error) {
	audit, ok := m.adapter.(adapters.AuditQueryAdapter)
	if !ok {
		return nil, loanmaster.ErrAuditNotSupported
	}

	ctx, span := m.tracer.StartSpan(ctx, "eventstore.load_by_time_range",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("loanmaster.service", m.tracer.serviceName),
		attribute.String("loanmaster.loan.id", aggregateID),
	)

	events, err := audit.LoadByTimeRange(ctx, aggregateID, since, until, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("loanmaster.events.loaded", len(events)))
	}
	return events, err
}

// LoadByType forwards audit reads with tracing.
func (m *EventStoreMiddleware) LoadByType(ctx context.Context, eventType string, since time.Time, limit int) ([]adapters.StoredEvent, error) {
	audit, ok := m.adapter.(adapters.AuditQueryAdapter)
	if !ok {
		return nil, loanmaster.ErrAuditNotSupported
	}

	ctx, span := m.tracer.StartSpan(ctx, "eventstore.load_by_type",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("loanmaster.service", m.tracer.serviceName),
		attribute.String("loanmaster.event.type", eventType),
	)

	events, err := audit.LoadByType(ctx, eventType, since, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return events, err
}

// LoadFromPosition forwards subscription reads with tracing.
func (m *EventStoreMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	sub, ok := m.adapter.(adapters.SubscriptionAdapter)
	if !ok {
		return nil, loanmaster.ErrSubscriptionNotSupported
	}

	ctx, span := m.tracer.StartSpan(ctx, "eventstore.load_from_position",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("loanmaster.service", m.tracer.serviceName),
		attribute.Int64("loanmaster.from_position", int64(fromPosition)),
	)

	events, err := sub.LoadFromPosition(ctx, fromPosition, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("loanmaster.events.loaded", len(events)))
	}
	return events, err
}

func (m *EventStoreMiddleware) Initialize(ctx context.Context) error {
	ctx, span := m.tracer.StartSpan(ctx, "eventstore.initialize",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	err := m.adapter.Initialize(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func (m *EventStoreMiddleware) Close() error {
	return m.adapter.Close()
}

var _ adapters.EventStoreAdapter = (*EventStoreMiddleware)(nil)

// ProjectionMiddleware wraps a projection with tracing.
type ProjectionMiddleware struct {
	projection loanmaster.Projection
	tracer     *Tracer
}

// NewProjectionMiddleware wraps a projection with tracing.
func NewProjectionMiddleware(projection loanmaster.Projection, tracer *Tracer) *ProjectionMiddleware {
	return &ProjectionMiddleware{projection: projection, tracer: tracer}
}

func (m *ProjectionMiddleware) Name() string {
	return m.projection.Name()
}

func (m *ProjectionMiddleware) HandledEvents() []string {
	return m.projection.HandledEvents()
}

func (m *ProjectionMiddleware) Apply(ctx context.Context, event loanmaster.StoredEvent) error {
	ctx, span := m.tracer.StartSpan(ctx, fmt.Sprintf("projection.%s.apply", m.projection.Name()),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("loanmaster.service", m.tracer.serviceName),
		attribute.String("loanmaster.projection.name", m.projection.Name()),
		attribute.String("loanmaster.event.type", event.Type),
		attribute.String("loanmaster.event.id", event.ID),
		attribute.String("loanmaster.loan.id", event.AggregateID),
		attribute.Int64("loanmaster.event.version", event.Version),
		attribute.Int64("loanmaster.event.global_position", int64(event.GlobalPosition)),
	)

	err := m.projection.Apply(ctx, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

var _ loanmaster.Projection = (*ProjectionMiddleware)(nil)

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	trace.SpanFromContext(ctx).AddEvent(name, opts...)
}

// SetError records an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
