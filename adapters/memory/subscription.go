package memory

import (
	"context"
	"time"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Poll interval for channel subscriptions. Short because the backing store
// is in-process memory.
const defaultPollInterval = 5 * time.Millisecond

// SubscribeAll subscribes to all events across all aggregates.
// Events are delivered starting from the specified global position.
// This uses polling-based subscription with continuous updates.
func (a *MemoryAdapter) SubscribeAll(ctx context.Context, fromPosition uint64) (<-chan adapters.StoredEvent, error) {
	if err := a.Ping(ctx); err != nil {
		return nil, err
	}

	ch := make(chan adapters.StoredEvent, 100)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(defaultPollInterval)
		defer ticker.Stop()

		currentPosition := fromPosition

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			events, err := a.LoadFromPosition(ctx, currentPosition, 100)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					continue
				}
			}

			for _, event := range events {
				select {
				case ch <- event:
					currentPosition = event.GlobalPosition
				case <-ctx.Done():
					return
				}
			}

			if len(events) == 0 {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}
	}()

	return ch, nil
}

// SubscribeAggregate subscribes to events for one aggregate.
// Events are delivered starting after the specified version with continuous polling.
func (a *MemoryAdapter) SubscribeAggregate(ctx context.Context, aggregateID string, fromVersion int64) (<-chan adapters.StoredEvent, error) {
	if err := a.Ping(ctx); err != nil {
		return nil, err
	}
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	ch := make(chan adapters.StoredEvent, 100)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(defaultPollInterval)
		defer ticker.Stop()

		currentVersion := fromVersion

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			events, err := a.Load(ctx, aggregateID, currentVersion)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					continue
				}
			}

			for _, event := range events {
				select {
				case ch <- event:
					currentVersion = event.Version
				case <-ctx.Done():
					return
				}
			}

			if len(events) == 0 {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}
	}()

	return ch, nil
}
