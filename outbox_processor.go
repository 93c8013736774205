package loanmaster

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessorOptions controls the outbox delivery loop.
type ProcessorOptions struct {
	// PollInterval is the delay between fetches when the outbox is drained.
	PollInterval time.Duration

	// BatchSize is the maximum number of messages claimed per fetch.
	BatchSize int

	// Workers is the number of concurrent delivery workers.
	Workers int

	// MaxAttempts is the attempt ceiling before dead-lettering.
	MaxAttempts int

	// RetryInterval is how often failed messages are reset to pending.
	RetryInterval time.Duration

	// CleanupInterval is how often completed messages are purged.
	CleanupInterval time.Duration

	// CleanupAge is how long completed messages are retained.
	CleanupAge time.Duration
}

// DefaultProcessorOptions returns the default processor configuration.
func DefaultProcessorOptions() ProcessorOptions {
	return ProcessorOptions{
		PollInterval:    500 * time.Millisecond,
		BatchSize:       50,
		Workers:         4,
		MaxAttempts:     DefaultOutboxMaxAttempts,
		RetryInterval:   30 * time.Second,
		CleanupInterval: 5 * time.Minute,
		CleanupAge:      24 * time.Hour,
	}
}

// OutboxProcessor drains the outbox: it claims pending messages, routes each
// to the publisher registered for its destination scheme, and records the
// outcome. Messages that exhaust their attempts are moved to the dead letter
// status for operator inspection.
type OutboxProcessor struct {
	store      OutboxStore
	publishers map[string]Publisher
	options    ProcessorOptions
	logger     Logger

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
}

// ProcessorOption configures an OutboxProcessor.
type ProcessorOption func(*OutboxProcessor)

// WithProcessorOptions replaces the processor configuration.
func WithProcessorOptions(options ProcessorOptions) ProcessorOption {
	return func(p *OutboxProcessor) {
		p.options = options
	}
}

// WithProcessorLogger sets the processor logger.
func WithProcessorLogger(logger Logger) ProcessorOption {
	return func(p *OutboxProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewOutboxProcessor creates a processor over the given store and publishers.
func NewOutboxProcessor(store OutboxStore, publishers []Publisher, opts ...ProcessorOption) (*OutboxProcessor, error) {
	if store == nil {
		return nil, fmt.Errorf("loanmaster: outbox processor requires a store")
	}
	if len(publishers) == 0 {
		return nil, fmt.Errorf("loanmaster: outbox processor requires at least one publisher")
	}

	byScheme := make(map[string]Publisher, len(publishers))
	for _, pub := range publishers {
		if pub == nil || pub.Scheme() == "" {
			return nil, fmt.Errorf("loanmaster: outbox publisher with empty scheme")
		}
		if _, exists := byScheme[pub.Scheme()]; exists {
			return nil, fmt.Errorf("loanmaster: duplicate outbox publisher for scheme %q", pub.Scheme())
		}
		byScheme[pub.Scheme()] = pub
	}

	p := &OutboxProcessor{
		store:      store,
		publishers: byScheme,
		options:    DefaultProcessorOptions(),
		logger:     NoopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.options.Workers < 1 {
		p.options.Workers = 1
	}
	if p.options.BatchSize < 1 {
		p.options.BatchSize = 1
	}
	return p, nil
}

// Start begins background processing. It is an error to start twice.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("loanmaster: outbox processor already running")
	}
	p.stopCh = make(chan struct{})

	p.wg.Add(1)
	go p.deliveryLoop(ctx)

	p.wg.Add(1)
	go p.maintenanceLoop(ctx)

	p.logger.Info("outbox processor started",
		"workers", p.options.Workers,
		"batchSize", p.options.BatchSize)
	return nil
}

// Stop halts processing, waiting for in-flight deliveries to finish.
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("outbox processor stopped",
			"delivered", p.delivered.Load(),
			"failed", p.failed.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the processor is active.
func (p *OutboxProcessor) IsRunning() bool {
	return p.running.Load()
}

// Delivered returns the number of messages delivered since start.
func (p *OutboxProcessor) Delivered() int64 {
	return p.delivered.Load()
}

// ProcessBatch claims and delivers one batch synchronously. Useful for tests
// and cron-style deployments without the background loop.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	messages, err := p.store.FetchPending(ctx, p.options.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("loanmaster: fetching pending outbox messages: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}
	p.deliver(ctx, messages)
	return len(messages), nil
}

func (p *OutboxProcessor) deliveryLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			n, err := p.ProcessBatch(ctx)
			if err != nil {
				p.logger.Error("outbox batch failed", "error", err)
				break
			}
			// Keep draining while full batches come back.
			if n < p.options.BatchSize {
				break
			}
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

func (p *OutboxProcessor) deliver(ctx context.Context, messages []*OutboxMessage) {
	jobs := make(chan *OutboxMessage)
	var workers sync.WaitGroup

	var completedMu sync.Mutex
	completed := make([]string, 0, len(messages))

	for i := 0; i < p.options.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for msg := range jobs {
				if err := p.publish(ctx, msg); err != nil {
					p.failed.Add(1)
					p.logger.Warn("outbox delivery failed",
						"messageId", msg.ID,
						"destination", msg.Destination,
						"attempts", msg.Attempts,
						"error", err)
					if markErr := p.store.MarkFailed(ctx, msg.ID, err); markErr != nil {
						p.logger.Error("failed to mark outbox message failed",
							"messageId", msg.ID, "error", markErr)
					}
					continue
				}
				p.delivered.Add(1)
				completedMu.Lock()
				completed = append(completed, msg.ID)
				completedMu.Unlock()
			}
		}()
	}

	for _, msg := range messages {
		jobs <- msg
	}
	close(jobs)
	workers.Wait()

	if len(completed) > 0 {
		if err := p.store.MarkCompleted(ctx, completed); err != nil {
			p.logger.Error("failed to mark outbox messages completed",
				"count", len(completed), "error", err)
		}
	}
}

func (p *OutboxProcessor) publish(ctx context.Context, msg *OutboxMessage) error {
	dest, err := ParseDestination(msg.Destination)
	if err != nil {
		return err
	}
	pub, ok := p.publishers[dest.Scheme]
	if !ok {
		return fmt.Errorf("loanmaster: no publisher for scheme %q", dest.Scheme)
	}
	return pub.Publish(ctx, dest, msg)
}

func (p *OutboxProcessor) maintenanceLoop(ctx context.Context) {
	defer p.wg.Done()

	retry := time.NewTicker(p.options.RetryInterval)
	defer retry.Stop()
	cleanup := time.NewTicker(p.options.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-retry.C:
			if n, err := p.store.RetryFailed(ctx, p.options.MaxAttempts); err != nil {
				p.logger.Error("outbox retry sweep failed", "error", err)
			} else if n > 0 {
				p.logger.Info("reset failed outbox messages", "count", n)
			}
			if n, err := p.store.MoveToDeadLetter(ctx, p.options.MaxAttempts); err != nil {
				p.logger.Error("outbox dead letter sweep failed", "error", err)
			} else if n > 0 {
				p.logger.Warn("moved outbox messages to dead letter", "count", n)
			}
		case <-cleanup.C:
			if n, err := p.store.CleanupCompleted(ctx, p.options.CleanupAge); err != nil {
				p.logger.Error("outbox cleanup failed", "error", err)
			} else if n > 0 {
				p.logger.Debug("purged completed outbox messages", "count", n)
			}
		}
	}
}
