package loanmaster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Projection engine errors.
var (
	ErrNilProjection               = errors.New("loanmaster: projection is nil")
	ErrEmptyProjectionName         = errors.New("loanmaster: projection name is required")
	ErrProjectionAlreadyRegistered = errors.New("loanmaster: projection already registered")
	ErrProjectionNotFound          = errors.New("loanmaster: projection not found")
	ErrNoCheckpointStore           = errors.New("loanmaster: checkpoint store is required")
	ErrEngineAlreadyRunning        = errors.New("loanmaster: projection engine already running")
)

// ProjectionState represents the lifecycle state of a projection worker.
type ProjectionState string

const (
	ProjectionStateStopped    ProjectionState = "stopped"
	ProjectionStateCatchingUp ProjectionState = "catching_up"
	ProjectionStateRunning    ProjectionState = "running"
	ProjectionStateFaulted    ProjectionState = "faulted"
)

// ProjectionStatus reports a projection worker's progress.
type ProjectionStatus struct {
	Name            string
	State           ProjectionState
	LastPosition    uint64
	EventsProcessed uint64
	LastProcessedAt time.Time
	Error           string
}

// EngineOptions configures async projection processing.
type EngineOptions struct {
	// BatchSize is the maximum number of events fetched per poll. Default 100.
	BatchSize int

	// PollInterval is how often to poll for new events when idle. Default 100ms.
	PollInterval time.Duration

	// BaseBackoff is the initial delay after a processing error. Default 100ms.
	BaseBackoff time.Duration

	// MaxBackoff caps the error backoff. Default 30s.
	MaxBackoff time.Duration
}

// DefaultEngineOptions returns the default engine options.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		BatchSize:    100,
		PollInterval: 100 * time.Millisecond,
		BaseBackoff:  100 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
	}
}

// ProjectionEngine runs projections asynchronously behind the event store.
// Each registered projection gets a polling worker that reads events by
// global position, applies them, and checkpoints its progress. Delivery is
// at-least-once; projections must apply idempotently.
type ProjectionEngine struct {
	store       *EventStore
	checkpoints adapters.CheckpointAdapter
	logger      Logger
	options     EngineOptions

	mu      sync.RWMutex
	workers map[string]*projectionWorker

	running atomic.Bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// EngineOption configures a ProjectionEngine.
type EngineOption func(*ProjectionEngine)

// WithCheckpoints sets the checkpoint store for the engine.
func WithCheckpoints(cp adapters.CheckpointAdapter) EngineOption {
	return func(e *ProjectionEngine) {
		e.checkpoints = cp
	}
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(l Logger) EngineOption {
	return func(e *ProjectionEngine) {
		e.logger = l
	}
}

// WithEngineOptions sets polling and backoff behavior.
func WithEngineOptions(opts EngineOptions) EngineOption {
	return func(e *ProjectionEngine) {
		e.options = opts
	}
}

// NewProjectionEngine creates a projection engine over the given store.
// When the store's adapter implements adapters.CheckpointAdapter it is used
// as the checkpoint store by default.
func NewProjectionEngine(store *EventStore, opts ...EngineOption) *ProjectionEngine {
	e := &ProjectionEngine{
		store:   store,
		logger:  &noopLogger{},
		options: DefaultEngineOptions(),
		workers: make(map[string]*projectionWorker),
		stopCh:  make(chan struct{}),
	}
	if cp, ok := store.Adapter().(adapters.CheckpointAdapter); ok {
		e.checkpoints = cp
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a projection to the engine.
func (e *ProjectionEngine) Register(projection Projection) error {
	if projection == nil {
		return ErrNilProjection
	}
	if projection.Name() == "" {
		return ErrEmptyProjectionName
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.workers[projection.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrProjectionAlreadyRegistered, projection.Name())
	}

	e.workers[projection.Name()] = &projectionWorker{
		projection: projection,
		state:      ProjectionStateStopped,
	}
	e.logger.Info("registered projection", "name", projection.Name())
	return nil
}

// Start launches a worker per registered projection.
func (e *ProjectionEngine) Start(ctx context.Context) error {
	if e.running.Load() {
		return ErrEngineAlreadyRunning
	}
	if e.checkpoints == nil {
		return ErrNoCheckpointStore
	}

	e.running.Store(true)
	e.stopCh = make(chan struct{})

	e.mu.RLock()
	for _, worker := range e.workers {
		e.wg.Add(1)
		go e.runWorker(ctx, worker)
	}
	e.mu.RUnlock()

	e.logger.Info("projection engine started")
	return nil
}

// Stop gracefully stops all workers, waiting up to the context deadline.
func (e *ProjectionEngine) Stop(ctx context.Context) error {
	if !e.running.Load() {
		return nil
	}
	close(e.stopCh)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.running.Store(false)
		e.logger.Info("projection engine stopped")
		return nil
	case <-ctx.Done():
		e.running.Store(false)
		return ctx.Err()
	}
}

// IsRunning reports whether the engine is running.
func (e *ProjectionEngine) IsRunning() bool {
	return e.running.Load()
}

// Status returns the status of a registered projection.
func (e *ProjectionEngine) Status(name string) (*ProjectionStatus, error) {
	e.mu.RLock()
	worker, ok := e.workers[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectionNotFound, name)
	}
	return worker.status(), nil
}

// Statuses returns the status of every registered projection.
func (e *ProjectionEngine) Statuses() []*ProjectionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	statuses := make([]*ProjectionStatus, 0, len(e.workers))
	for _, worker := range e.workers {
		statuses = append(statuses, worker.status())
	}
	return statuses
}

type projectionWorker struct {
	projection Projection

	mu              sync.RWMutex
	state           ProjectionState
	lastPosition    uint64
	eventsProcessed uint64
	lastProcessedAt time.Time
	lastError       error
}

func (w *projectionWorker) status() *ProjectionStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := &ProjectionStatus{
		Name:            w.projection.Name(),
		State:           w.state,
		LastPosition:    w.lastPosition,
		EventsProcessed: w.eventsProcessed,
		LastProcessedAt: w.lastProcessedAt,
	}
	if w.lastError != nil {
		s.Error = w.lastError.Error()
	}
	return s
}

func (w *projectionWorker) setState(state ProjectionState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *projectionWorker) setError(err error) {
	w.mu.Lock()
	w.lastError = err
	if err != nil {
		w.state = ProjectionStateFaulted
	} else {
		w.state = ProjectionStateRunning
	}
	w.mu.Unlock()
}

func (e *ProjectionEngine) runWorker(ctx context.Context, worker *projectionWorker) {
	defer e.wg.Done()

	worker.setState(ProjectionStateCatchingUp)

	position, err := e.checkpoints.GetCheckpoint(ctx, worker.projection.Name())
	if err != nil {
		e.logger.Error("failed to read checkpoint",
			"projection", worker.projection.Name(), "error", err)
	}
	worker.mu.Lock()
	worker.lastPosition = position
	worker.mu.Unlock()

	worker.setState(ProjectionStateRunning)

	ticker := time.NewTicker(e.options.PollInterval)
	defer ticker.Stop()

	var consecutiveErrors int
	for {
		select {
		case <-e.stopCh:
			worker.setState(ProjectionStateStopped)
			return
		case <-ctx.Done():
			worker.setState(ProjectionStateStopped)
			return
		case <-ticker.C:
			if err := e.processBatch(ctx, worker); err != nil {
				if errors.Is(err, context.Canceled) {
					worker.setState(ProjectionStateStopped)
					return
				}

				consecutiveErrors++
				// Log at power-of-2 counts to keep a flapping projection quiet.
				if consecutiveErrors&(consecutiveErrors-1) == 0 {
					e.logger.Error("projection processing failed",
						"projection", worker.projection.Name(),
						"error", err, "consecutiveErrors", consecutiveErrors)
				}
				worker.setError(err)

				select {
				case <-e.stopCh:
					worker.setState(ProjectionStateStopped)
					return
				case <-ctx.Done():
					worker.setState(ProjectionStateStopped)
					return
				case <-time.After(e.backoff(consecutiveErrors)):
				}
			} else if consecutiveErrors > 0 {
				e.logger.Info("projection recovered",
					"projection", worker.projection.Name(),
					"consecutiveErrors", consecutiveErrors)
				consecutiveErrors = 0
				worker.setError(nil)
			}
		}
	}
}

func (e *ProjectionEngine) backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 18 {
		shift = 18
	}
	delay := e.options.BaseBackoff * time.Duration(1<<uint(shift))
	if delay > e.options.MaxBackoff {
		delay = e.options.MaxBackoff
	}
	return delay
}

// processBatch fetches one batch past the worker's position, applies the
// handled events in order, and advances the checkpoint.
func (e *ProjectionEngine) processBatch(ctx context.Context, worker *projectionWorker) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("loanmaster: panic in projection %s: %v", worker.projection.Name(), r)
		}
	}()

	worker.mu.RLock()
	position := worker.lastPosition
	worker.mu.RUnlock()

	events, err := e.store.LoadEventsFromPosition(ctx, position, e.options.BatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	var processed uint64
	for _, event := range events {
		if !handlesEventType(worker.projection, event.Type) {
			continue
		}
		if err := worker.projection.Apply(ctx, event); err != nil {
			return fmt.Errorf("loanmaster: projection %s failed to apply %s at position %d: %w",
				worker.projection.Name(), event.Type, event.GlobalPosition, err)
		}
		processed++
	}

	newPosition := events[len(events)-1].GlobalPosition
	if err := e.checkpoints.SetCheckpoint(ctx, worker.projection.Name(), newPosition); err != nil {
		e.logger.Error("failed to save checkpoint",
			"projection", worker.projection.Name(), "position", newPosition, "error", err)
	}

	worker.mu.Lock()
	worker.lastPosition = newPosition
	worker.eventsProcessed += processed
	worker.lastProcessedAt = time.Now()
	worker.mu.Unlock()

	return nil
}

func handlesEventType(projection Projection, eventType string) bool {
	handled := projection.HandledEvents()
	if len(handled) == 0 {
		return true
	}
	for _, et := range handled {
		if et == eventType {
			return true
		}
	}
	return false
}
