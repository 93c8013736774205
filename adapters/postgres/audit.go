package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// LoadByType retrieves events of the given type with occurred_at >= since,
// ordered by occurred_at. Used by the audit service for compliance queries.
func (a *PostgresAdapter) LoadByType(ctx context.Context, eventType string, since time.Time, limit int) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	limit = adapters.DefaultLimit(limit, 1000)

	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, aggregate_type, version, event_type, data, metadata, global_position, occurred_at
		FROM %s.loan_events
		WHERE event_type = $1 AND occurred_at >= $2
		ORDER BY occurred_at, global_position
		LIMIT $3`, a.schema)

	rows, err := a.db.QueryContext(ctx, query, eventType, since, limit)
	if err != nil {
		return nil, fmt.Errorf("loanmaster/postgres: failed to load events by type: %w", err)
	}
	defer rows.Close()

	return a.scanEvents(rows)
}

// LoadByTimeRange retrieves events in the closed window [since, until].
// An empty aggregateID matches all aggregates; zero bounds are left open.
func (a *PostgresAdapter) LoadByTimeRange(ctx context.Context, aggregateID string, since, until time.Time, limit int) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	limit = adapters.DefaultLimit(limit, 1000)

	if until.IsZero() {
		until = time.Now()
	}

	if aggregateID == "" {
		query := fmt.Sprintf(`
			SELECT event_id, aggregate_id, aggregate_type, version, event_type, data, metadata, global_position, occurred_at
			FROM %s.loan_events
			WHERE occurred_at >= $1 AND occurred_at <= $2
			ORDER BY occurred_at, global_position
			LIMIT $3`, a.schema)

		r, err := a.db.QueryContext(ctx, query, since, until, limit)
		if err != nil {
			return nil, fmt.Errorf("loanmaster/postgres: failed to load events by time range: %w", err)
		}
		defer r.Close()
		return a.scanEvents(r)
	}

	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, aggregate_type, version, event_type, data, metadata, global_position, occurred_at
		FROM %s.loan_events
		WHERE aggregate_id = $1 AND occurred_at >= $2 AND occurred_at <= $3
		ORDER BY occurred_at, global_position
		LIMIT $4`, a.schema)

	r, err := a.db.QueryContext(ctx, query, aggregateID, since, until, limit)
	if err != nil {
		return nil, fmt.Errorf("loanmaster/postgres: failed to load events by time range: %w", err)
	}
	defer r.Close()
	return a.scanEvents(r)
}
