package loanmaster

import (
	"context"
	"fmt"
	"time"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// ProjectionRebuilder replays the full event log through a projection to
// reconstruct its read model from scratch. Used for disaster recovery and
// read-model schema migrations.
type ProjectionRebuilder struct {
	store       *EventStore
	checkpoints adapters.CheckpointAdapter
	logger      Logger
	batchSize   int
}

// RebuilderOption configures a ProjectionRebuilder.
type RebuilderOption func(*ProjectionRebuilder)

// WithRebuilderBatchSize sets the batch size for replay.
func WithRebuilderBatchSize(size int) RebuilderOption {
	return func(r *ProjectionRebuilder) {
		r.batchSize = size
	}
}

// WithRebuilderLogger sets the rebuilder logger.
func WithRebuilderLogger(l Logger) RebuilderOption {
	return func(r *ProjectionRebuilder) {
		r.logger = l
	}
}

// NewProjectionRebuilder creates a rebuilder over the given store.
func NewProjectionRebuilder(store *EventStore, checkpoints adapters.CheckpointAdapter, opts ...RebuilderOption) *ProjectionRebuilder {
	r := &ProjectionRebuilder{
		store:       store,
		checkpoints: checkpoints,
		logger:      &noopLogger{},
		batchSize:   1000,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RebuildProgress reports rebuild progress to the caller.
type RebuildProgress struct {
	ProjectionName  string
	TotalEvents     uint64
	ProcessedEvents uint64
	CurrentPosition uint64
	StartedAt       time.Time
	Duration        time.Duration
	Completed       bool
}

// ProgressCallback receives periodic progress updates during rebuild.
type ProgressCallback func(progress RebuildProgress)

// RebuildOptions configures a projection rebuild.
type RebuildOptions struct {
	// Truncate clears the projection's read model before replay when the
	// projection implements Truncatable. Default true.
	Truncate bool

	// ProgressCallback is called periodically with progress updates.
	ProgressCallback ProgressCallback

	// ProgressInterval is how often the callback fires. Default 1s.
	ProgressInterval time.Duration
}

// DefaultRebuildOptions returns the default rebuild options.
func DefaultRebuildOptions() RebuildOptions {
	return RebuildOptions{
		Truncate:         true,
		ProgressInterval: time.Second,
	}
}

// Truncatable is implemented by projections that can clear their read model.
type Truncatable interface {
	Truncate(ctx context.Context) error
}

// Truncate clears the loan summary read model.
func (p *LoanSummaryProjection) Truncate(ctx context.Context) error {
	return p.repo.Truncate(ctx)
}

// Rebuild replays the whole event log through the projection from position
// zero, checkpointing as it goes. The existing checkpoint is deleted first
// so an interrupted rebuild resumes cleanly from its own progress.
func (r *ProjectionRebuilder) Rebuild(ctx context.Context, projection Projection, opts ...RebuildOptions) error {
	options := DefaultRebuildOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	name := projection.Name()
	r.logger.Info("starting projection rebuild", "projection", name)
	startedAt := time.Now()

	if r.checkpoints != nil {
		if err := r.checkpoints.DeleteCheckpoint(ctx, name); err != nil {
			r.logger.Warn("failed to delete checkpoint", "projection", name, "error", err)
		}
	}

	if options.Truncate {
		if t, ok := projection.(Truncatable); ok {
			if err := t.Truncate(ctx); err != nil {
				return fmt.Errorf("loanmaster: failed to truncate read model: %w", err)
			}
		}
	}

	var totalEvents uint64
	if pos, err := r.store.GetLastPosition(ctx); err == nil {
		totalEvents = pos
	}

	var progressTicker *time.Ticker
	if options.ProgressCallback != nil && options.ProgressInterval > 0 {
		progressTicker = time.NewTicker(options.ProgressInterval)
		defer progressTicker.Stop()
	}

	var processed uint64
	var position uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if progressTicker != nil {
			select {
			case <-progressTicker.C:
				options.ProgressCallback(RebuildProgress{
					ProjectionName:  name,
					TotalEvents:     totalEvents,
					ProcessedEvents: processed,
					CurrentPosition: position,
					StartedAt:       startedAt,
					Duration:        time.Since(startedAt),
				})
			default:
			}
		}

		events, err := r.store.LoadEventsFromPosition(ctx, position, r.batchSize)
		if err != nil {
			return fmt.Errorf("loanmaster: failed to load events: %w", err)
		}
		if len(events) == 0 {
			break
		}

		for _, event := range events {
			if !handlesEventType(projection, event.Type) {
				continue
			}
			if err := projection.Apply(ctx, event); err != nil {
				return fmt.Errorf("loanmaster: rebuild of %s failed at position %d: %w",
					name, event.GlobalPosition, err)
			}
		}

		position = events[len(events)-1].GlobalPosition
		processed += uint64(len(events))

		if r.checkpoints != nil {
			if err := r.checkpoints.SetCheckpoint(ctx, name, position); err != nil {
				r.logger.Warn("failed to save checkpoint", "projection", name, "error", err)
			}
		}
	}

	if options.ProgressCallback != nil {
		options.ProgressCallback(RebuildProgress{
			ProjectionName:  name,
			TotalEvents:     totalEvents,
			ProcessedEvents: processed,
			CurrentPosition: position,
			StartedAt:       startedAt,
			Duration:        time.Since(startedAt),
			Completed:       true,
		})
	}

	r.logger.Info("projection rebuild completed",
		"projection", name, "events", processed, "duration", time.Since(startedAt))
	return nil
}
