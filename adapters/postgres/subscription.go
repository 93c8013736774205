package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Default polling interval for subscriptions.
const defaultPollInterval = 100 * time.Millisecond

// LoadFromPosition loads events starting from a global position.
// This is used by projection engines to catch up on historical events.
func (a *PostgresAdapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	limit = adapters.DefaultLimit(limit, 1000)

	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, aggregate_type, version, event_type, data, metadata, global_position, occurred_at
		FROM %s.loan_events
		WHERE global_position > $1
		ORDER BY global_position ASC
		LIMIT $2`, a.schema)

	rows, err := a.db.QueryContext(ctx, query, fromPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("loanmaster/postgres: failed to load events: %w", err)
	}
	defer rows.Close()

	return a.scanEvents(rows)
}

// SubscribeAll subscribes to all events across all aggregates.
// Events are delivered starting from the specified global position.
// This uses polling-based subscription with continuous updates.
func (a *PostgresAdapter) SubscribeAll(ctx context.Context, fromPosition uint64) (<-chan adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
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
func (a *PostgresAdapter) SubscribeAggregate(ctx context.Context, aggregateID string, fromVersion int64) (<-chan adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
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
