// Package metrics provides Prometheus instrumentation for loanmaster.
//
// It covers the command bus, the event store, projections and the outbox
// processor:
//
//	m := metrics.New(metrics.WithServiceName("loan-api"))
//	m.MustRegister()
//
//	bus := loanmaster.NewCommandBus()
//	bus.Use(m.CommandMiddleware())
//
//	store := loanmaster.New(m.WrapEventStore(adapter))
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Metric labels.
const (
	LabelService        = "service"
	LabelCommandType    = "command_type"
	LabelEventType      = "event_type"
	LabelProjectionName = "projection_name"
	LabelOperation      = "operation"
	LabelStatus         = "status"
	LabelErrorType      = "error_type"
	LabelScheme         = "scheme"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the Prometheus collectors.
type Metrics struct {
	namespace   string
	serviceName string

	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	commandsInFlight *prometheus.GaugeVec

	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal    *prometheus.CounterVec
	eventsLoadedTotal      *prometheus.CounterVec

	projectionsProcessedTotal *prometheus.CounterVec
	projectionDuration        *prometheus.HistogramVec
	projectionLag             *prometheus.GaugeVec
	projectionCheckpoint      *prometheus.GaugeVec

	outboxDeliveriesTotal *prometheus.CounterVec
	outboxPending         *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec
}

// Option configures Metrics.
type Option func(*Metrics)

// WithNamespace sets the Prometheus namespace. Defaults to "loanmaster".
func WithNamespace(namespace string) Option {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithServiceName sets the service label value.
func WithServiceName(name string) Option {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a Metrics instance.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		namespace:   "loanmaster",
		serviceName: "unknown",
	}
	for _, opt := range opts {
		opt(m)
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	m.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "commands_total",
			Help:      "Total number of commands processed.",
		},
		[]string{LabelService, LabelCommandType, LabelStatus},
	)
	m.commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of command processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelCommandType},
	)
	m.commandsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "commands_in_flight",
			Help:      "Number of commands currently being processed.",
		},
		[]string{LabelService, LabelCommandType},
	)

	m.storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "eventstore_operations_total",
			Help:      "Total number of event store operations.",
		},
		[]string{LabelService, LabelOperation, LabelStatus},
	)
	m.storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "eventstore_operation_duration_seconds",
			Help:      "Duration of event store operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)
	m.eventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "events_appended_total",
			Help:      "Total number of events appended to loan streams.",
		},
		[]string{LabelService, LabelEventType},
	)
	m.eventsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "events_loaded_total",
			Help:      "Total number of events loaded from loan streams.",
		},
		[]string{LabelService},
	)

	m.projectionsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "projections_processed_total",
			Help:      "Total number of events processed by projections.",
		},
		[]string{LabelService, LabelProjectionName, LabelEventType, LabelStatus},
	)
	m.projectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      "projection_duration_seconds",
			Help:      "Duration of projection event processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelProjectionName},
	)
	m.projectionLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "projection_lag_events",
			Help:      "Events behind the latest global position per projection.",
		},
		[]string{LabelService, LabelProjectionName},
	)
	m.projectionCheckpoint = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "projection_checkpoint_position",
			Help:      "Current checkpoint position per projection.",
		},
		[]string{LabelService, LabelProjectionName},
	)

	m.outboxDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "outbox_deliveries_total",
			Help:      "Total number of outbox delivery attempts.",
		},
		[]string{LabelService, LabelScheme, LabelStatus},
	)
	m.outboxPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "outbox_pending_messages",
			Help:      "Number of outbox messages waiting for delivery.",
		},
		[]string{LabelService},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
}

// Collectors returns all collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commandsTotal,
		m.commandDuration,
		m.commandsInFlight,
		m.storeOperationsTotal,
		m.storeOperationDuration,
		m.eventsAppendedTotal,
		m.eventsLoadedTotal,
		m.projectionsProcessedTotal,
		m.projectionDuration,
		m.projectionLag,
		m.projectionCheckpoint,
		m.outboxDeliveriesTotal,
		m.outboxPending,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// CommandMiddleware records per-command counts, durations and in-flight gauges.
func (m *Metrics) CommandMiddleware() loanmaster.Middleware {
	return func(next loanmaster.DispatchFunc) loanmaster.DispatchFunc {
		return func(ctx context.Context, cmd loanmaster.Command) (loanmaster.CommandResult, error) {
			cmdType := cmd.CommandType()

			m.commandsInFlight.WithLabelValues(m.serviceName, cmdType).Inc()
			defer m.commandsInFlight.WithLabelValues(m.serviceName, cmdType).Dec()

			start := time.Now()
			result, err := next(ctx, cmd)
			m.commandDuration.WithLabelValues(m.serviceName, cmdType).Observe(time.Since(start).Seconds())

			status := StatusSuccess
			if err != nil || result.IsError() {
				status = StatusError
				m.recordCommandError(err, result)
			}
			m.commandsTotal.WithLabelValues(m.serviceName, cmdType, status).Inc()
			return result, err
		}
	}
}

func (m *Metrics) recordCommandError(err error, result loanmaster.CommandResult) {
	e := err
	if e == nil {
		e = result.Error
	}
	m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(e)).Inc()
}

func errorTypeName(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, loanmaster.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, loanmaster.ErrAggregateNotFound):
		return "aggregate_not_found"
	case errors.Is(err, loanmaster.ErrHandlerNotFound):
		return "handler_not_found"
	case errors.Is(err, loanmaster.ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, loanmaster.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, loanmaster.ErrOverpayment):
		return "overpayment"
	case errors.Is(err, loanmaster.ErrCommandAlreadyProcessed):
		return "command_already_processed"
	case errors.Is(err, loanmaster.ErrHandlerPanicked):
		return "handler_panicked"
	case errors.Is(err, loanmaster.ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, loanmaster.ErrEventTypeNotRegistered):
		return "event_type_not_registered"
	case errors.Is(err, adapters.ErrEmptyAggregateID):
		return "empty_aggregate_id"
	case errors.Is(err, adapters.ErrNoEvents):
		return "no_events"
	case errors.Is(err, adapters.ErrInvalidVersion):
		return "invalid_version"
	case errors.Is(err, adapters.ErrAdapterClosed):
		return "adapter_closed"
	default:
		return "unknown"
	}
}

// EventStoreMiddleware wraps an EventStoreAdapter with metrics.
type EventStoreMiddleware struct {
	adapter adapters.EventStoreAdapter
	metrics *Metrics
}

// WrapEventStore wraps an adapter with metrics collection. The wrapper
// forwards subscription reads when the underlying adapter supports them.
func (m *Metrics) WrapEventStore(adapter adapters.EventStoreAdapter) *EventStoreMiddleware {
	return &EventStoreMiddleware{adapter: adapter, metrics: m}
}

func (em *EventStoreMiddleware) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	stored, err := em.adapter.Append(ctx, aggregateID, events, expectedVersion)
	em.observe("append", start, err)
	if err == nil {
		for _, e := range events {
			em.metrics.eventsAppendedTotal.WithLabelValues(em.metrics.serviceName, e.Type).Inc()
		}
	}
	return stored, err
}

func (em *EventStoreMiddleware) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := em.adapter.Load(ctx, aggregateID, fromVersion)
	em.observe("load", start, err)
	if err == nil {
		em.metrics.eventsLoadedTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(events)))
	}
	return events, err
}

func (em *EventStoreMiddleware) GetLastVersion(ctx context.Context, aggregateID string) (int64, error) {
	start := time.Now()
	version, err := em.adapter.GetLastVersion(ctx, aggregateID)
	em.observe("get_last_version", start, err)
	return version, err
}

func (em *EventStoreMiddleware) GetLastPosition(ctx context.Context) (uint64, error) {
	start := time.Now()
	pos, err := em.adapter.GetLastPosition(ctx)
	em.observe("get_last_position", start, err)
	return pos, err
}

// LoadFromPosition forwards subscription reads with metrics. Fails if the
// wrapped adapter has no subscription support.
func (em *EventStoreMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	sub, ok := em.adapter.(adapters.SubscriptionAdapter)
	if !ok {
		return nil, loanmaster.ErrSubscriptionNotSupported
	}
	start := time.Now()
	events, err := sub.LoadFromPosition(ctx, fromPosition, limit)
	em.observe("load_from_position", start, err)
	if err == nil {
		em.metrics.eventsLoadedTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(events)))
	}
	return events, err
}

// LoadByType forwards audit reads with metrics.
func (em *EventStoreMiddleware) LoadByType(ctx context.Context, eventType string, since time.Time, limit int) ([]adapters.StoredEvent, error) {
	audit, ok := em.adapter.(adapters.AuditQueryAdapter)
	if !ok {
		return nil, loanmaster.ErrAuditNotSupported
	}
	start := time.Now()
	events, err := audit.LoadByType(ctx, eventType, since, limit)
	em.observe("load_by_type", start, err)
	return events, err
}

// LoadByTimeRange forwards audit reads with metrics.
func (em *EventStoreMiddleware) LoadByTimeRange(ctx context.Context, aggregateID string, since, until time.Time, limit int) ([]adapters.StoredEvent, error) {
	audit, ok := em.adapter.(adapters.AuditQueryAdapter)
	if !ok {
		return nil, loanmaster.ErrAuditNotSupported
	}
	start := time.Now()
	events, err := audit.LoadByTimeRange(ctx, aggregateID, since, until, limit)
	em.observe("load_by_time_range", start, err)
	return events, err
}

func (em *EventStoreMiddleware) Initialize(ctx context.Context) error {
	return em.adapter.Initialize(ctx)
}

func (em *EventStoreMiddleware) Close() error {
	return em.adapter.Close()
}

func (em *EventStoreMiddleware) observe(operation string, start time.Time, err error) {
	em.metrics.storeOperationDuration.WithLabelValues(em.metrics.serviceName, operation).Observe(time.Since(start).Seconds())
	status := StatusSuccess
	if err != nil {
		status = StatusError
		em.metrics.errorsTotal.WithLabelValues(em.metrics.serviceName, operation+"_error").Inc()
	}
	em.metrics.storeOperationsTotal.WithLabelValues(em.metrics.serviceName, operation, status).Inc()
}

var _ adapters.EventStoreAdapter = (*EventStoreMiddleware)(nil)

// ProjectionMiddleware wraps a projection with metrics.
type ProjectionMiddleware struct {
	projection loanmaster.Projection
	metrics    *Metrics
}

// WrapProjection wraps a projection with metrics collection.
func (m *Metrics) WrapProjection(projection loanmaster.Projection) *ProjectionMiddleware {
	return &ProjectionMiddleware{projection: projection, metrics: m}
}

func (pm *ProjectionMiddleware) Name() string {
	return pm.projection.Name()
}

func (pm *ProjectionMiddleware) HandledEvents() []string {
	return pm.projection.HandledEvents()
}

func (pm *ProjectionMiddleware) Apply(ctx context.Context, event loanmaster.StoredEvent) error {
	name := pm.projection.Name()

	start := time.Now()
	err := pm.projection.Apply(ctx, event)
	pm.metrics.projectionDuration.WithLabelValues(pm.metrics.serviceName, name).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		pm.metrics.errorsTotal.WithLabelValues(pm.metrics.serviceName, "projection_error").Inc()
	}
	pm.metrics.projectionsProcessedTotal.WithLabelValues(pm.metrics.serviceName, name, event.Type, status).Inc()
	pm.metrics.projectionCheckpoint.WithLabelValues(pm.metrics.serviceName, name).Set(float64(event.GlobalPosition))
	return err
}

var _ loanmaster.Projection = (*ProjectionMiddleware)(nil)

// RecordProjectionLag records the current lag for a projection.
func (m *Metrics) RecordProjectionLag(projectionName string, lag int64) {
	m.projectionLag.WithLabelValues(m.serviceName, projectionName).Set(float64(lag))
}

// RecordOutboxDelivery records an outbox delivery attempt by scheme.
func (m *Metrics) RecordOutboxDelivery(scheme string, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.outboxDeliveriesTotal.WithLabelValues(m.serviceName, scheme, status).Inc()
}

// RecordOutboxPending records the current outbox backlog size.
func (m *Metrics) RecordOutboxPending(count int64) {
	m.outboxPending.WithLabelValues(m.serviceName).Set(float64(count))
}

// WrapPublisher instruments an outbox publisher with delivery metrics.
func (m *Metrics) WrapPublisher(publisher loanmaster.Publisher) loanmaster.Publisher {
	return &publisherMiddleware{publisher: publisher, metrics: m}
}

type publisherMiddleware struct {
	publisher loanmaster.Publisher
	metrics   *Metrics
}

func (pm *publisherMiddleware) Scheme() string {
	return pm.publisher.Scheme()
}

func (pm *publisherMiddleware) Publish(ctx context.Context, dest loanmaster.Destination, msg *loanmaster.OutboxMessage) error {
	err := pm.publisher.Publish(ctx, dest, msg)
	pm.metrics.RecordOutboxDelivery(dest.Scheme, err == nil)
	return err
}
