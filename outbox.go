package loanmaster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Outbox re-exports. The adapters package owns the storage contract; these
// aliases keep callers on the root package.
type (
	OutboxMessage = adapters.OutboxMessage
	OutboxStatus  = adapters.OutboxStatus
	OutboxStore   = adapters.OutboxStore
)

const (
	OutboxPending    = adapters.OutboxPending
	OutboxProcessing = adapters.OutboxProcessing
	OutboxCompleted  = adapters.OutboxCompleted
	OutboxFailed     = adapters.OutboxFailed
	OutboxDeadLetter = adapters.OutboxDeadLetter
)

// Destination identifies a delivery target as "<scheme>:<target>", e.g.
// "kafka:loan-events", "sns:arn:aws:sns:us-east-1:123:loans" or
// "webhook:https://example.com/hooks/loans". The target keeps any colons
// after the first.
type Destination struct {
	Scheme string
	Target string
}

// ParseDestination splits a destination string into scheme and target.
func ParseDestination(s string) (Destination, error) {
	scheme, target, ok := strings.Cut(s, ":")
	if !ok || scheme == "" || target == "" {
		return Destination{}, fmt.Errorf("loanmaster: invalid outbox destination %q", s)
	}
	return Destination{Scheme: scheme, Target: target}, nil
}

// String reassembles the destination string.
func (d Destination) String() string {
	return d.Scheme + ":" + d.Target
}

// Publisher delivers outbox messages for one destination scheme.
type Publisher interface {
	// Scheme returns the destination scheme this publisher serves.
	Scheme() string

	// Publish delivers a single message to its destination target.
	Publish(ctx context.Context, dest Destination, msg *OutboxMessage) error
}

// DefaultOutboxMaxAttempts is the delivery attempt ceiling before a message
// is dead-lettered.
const DefaultOutboxMaxAttempts = 5

// OutboxRelay subscribes to committed events and schedules an outbox message
// per configured destination. Delivery itself happens in OutboxProcessor, so
// the command path never blocks on a broker.
type OutboxRelay struct {
	store        OutboxStore
	destinations []Destination
	maxAttempts  int
	eventTypes   map[string]struct{}
	logger       Logger
}

// RelayOption configures an OutboxRelay.
type RelayOption func(*OutboxRelay)

// WithRelayMaxAttempts sets the delivery attempt ceiling on scheduled messages.
func WithRelayMaxAttempts(n int) RelayOption {
	return func(r *OutboxRelay) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithRelayEventTypes restricts the relay to the given event types. By
// default every event is relayed.
func WithRelayEventTypes(types ...string) RelayOption {
	return func(r *OutboxRelay) {
		r.eventTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			r.eventTypes[t] = struct{}{}
		}
	}
}

// WithRelayLogger sets the relay logger.
func WithRelayLogger(logger Logger) RelayOption {
	return func(r *OutboxRelay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewOutboxRelay creates a relay scheduling each event to every destination.
func NewOutboxRelay(store OutboxStore, destinations []string, opts ...RelayOption) (*OutboxRelay, error) {
	if store == nil {
		return nil, fmt.Errorf("loanmaster: outbox relay requires a store")
	}
	parsed := make([]Destination, 0, len(destinations))
	for _, d := range destinations {
		dest, err := ParseDestination(d)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, dest)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("loanmaster: outbox relay requires at least one destination")
	}

	r := &OutboxRelay{
		store:        store,
		destinations: parsed,
		maxAttempts:  DefaultOutboxMaxAttempts,
		logger:       NoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// HandleEvent schedules outbox messages for a committed event.
func (r *OutboxRelay) HandleEvent(ctx context.Context, event StoredEvent) error {
	if r.eventTypes != nil {
		if _, ok := r.eventTypes[event.Type]; !ok {
			return nil
		}
	}

	now := time.Now().UTC()
	messages := make([]*OutboxMessage, 0, len(r.destinations))
	for _, dest := range r.destinations {
		messages = append(messages, &OutboxMessage{
			ID:          uuid.NewString(),
			AggregateID: event.AggregateID,
			EventType:   event.Type,
			Destination: dest.String(),
			Payload:     event.Data,
			Headers:     relayHeaders(event),
			Status:      OutboxPending,
			MaxAttempts: r.maxAttempts,
			ScheduledAt: now,
			CreatedAt:   now,
		})
	}
	if err := r.store.Schedule(ctx, messages); err != nil {
		return fmt.Errorf("loanmaster: scheduling outbox messages: %w", err)
	}
	r.logger.Debug("scheduled outbox messages",
		"aggregateId", event.AggregateID,
		"eventType", event.Type,
		"count", len(messages))
	return nil
}

var _ EventSubscriber = (*OutboxRelay)(nil)

func relayHeaders(event StoredEvent) map[string]string {
	headers := map[string]string{
		"eventId":     event.ID,
		"eventType":   event.Type,
		"aggregateId": event.AggregateID,
		"version":     fmt.Sprintf("%d", event.Version),
	}
	if event.Metadata.CorrelationID != "" {
		headers["correlationId"] = event.Metadata.CorrelationID
	}
	if event.Metadata.CausationID != "" {
		headers["causationId"] = event.Metadata.CausationID
	}
	return headers
}
