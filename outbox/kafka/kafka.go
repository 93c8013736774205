// Package kafka delivers outbox messages to Kafka topics using
// github.com/segmentio/kafka-go. Destination format: "kafka:topic-name".
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
)

// Publisher writes one outbox message per Kafka record, keyed by loan ID so
// a loan's events land on one partition in order.
type Publisher struct {
	brokers      []string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	transport    kafkago.RoundTripper

	mu      sync.RWMutex
	writers map[string]*kafkago.Writer
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(p *Publisher) {
		p.brokers = brokers
	}
}

// WithBalancer sets the partitioner.
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(p *Publisher) {
		p.balancer = balancer
	}
}

// WithBatchTimeout sets the writer batch timeout.
func WithBatchTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.batchTimeout = d
	}
}

// WithTransport sets the writer transport, for TLS or SASL.
func WithTransport(transport kafkago.RoundTripper) Option {
	return func(p *Publisher) {
		p.transport = transport
	}
}

// New creates a Kafka Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		brokers:      []string{"localhost:9092"},
		balancer:     &kafkago.Hash{},
		batchTimeout: 10 * time.Millisecond,
		writers:      make(map[string]*kafkago.Writer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scheme returns the destination scheme this publisher serves.
func (p *Publisher) Scheme() string {
	return "kafka"
}

// Publish writes the message to the topic named by the destination target.
func (p *Publisher) Publish(ctx context.Context, dest loanmaster.Destination, msg *loanmaster.OutboxMessage) error {
	record := kafkago.Message{
		Key:   []byte(msg.AggregateID),
		Value: msg.Payload,
	}
	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	if err := p.writer(dest.Target).WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("kafka: writing to topic %s: %w", dest.Target, err)
	}
	return nil
}

// Close closes all topic writers.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			return err
		}
		delete(p.writers, topic)
	}
	return nil
}

func (p *Publisher) writer(topic string) *kafkago.Writer {
	p.mu.RLock()
	if w, ok := p.writers[topic]; ok {
		p.mu.RUnlock()
		return w
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               p.balancer,
		BatchTimeout:           p.batchTimeout,
		Transport:              p.transport,
		AllowAutoTopicCreation: true,
	}
	p.writers[topic] = w
	return w
}

var _ loanmaster.Publisher = (*Publisher)(nil)
