// Package postgres provides a PostgreSQL implementation of the loan event store adapter.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// Version constants for optimistic concurrency control.
const (
	AnyVersion  = adapters.AnyVersion
	NoAggregate = adapters.NoAggregate
)

// Sentinel errors for the postgres adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrAdapterClosed       = adapters.ErrAdapterClosed
	ErrEmptyAggregateID    = adapters.ErrEmptyAggregateID
	ErrNoEvents            = adapters.ErrNoEvents
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrInvalidVersion      = adapters.ErrInvalidVersion
	ErrSnapshotRegression  = adapters.ErrSnapshotRegression
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// Ensure PostgresAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter   = (*PostgresAdapter)(nil)
	_ adapters.AuditQueryAdapter   = (*PostgresAdapter)(nil)
	_ adapters.SubscriptionAdapter = (*PostgresAdapter)(nil)
	_ adapters.StreamingAdapter    = (*PostgresAdapter)(nil)
	_ adapters.SnapshotAdapter     = (*PostgresAdapter)(nil)
	_ adapters.CheckpointAdapter   = (*PostgresAdapter)(nil)
	_ adapters.HealthChecker       = (*PostgresAdapter)(nil)
	_ adapters.Migrator            = (*PostgresAdapter)(nil)
)

// PostgresAdapter is a PostgreSQL implementation of EventStoreAdapter.
type PostgresAdapter struct {
	db            *sql.DB
	schema        string
	aggregateType string
	closed        bool
}

// Option configures a PostgresAdapter.
type Option func(*PostgresAdapter)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(a *PostgresAdapter) {
		a.schema = schema
	}
}

// WithAggregateType sets the aggregate family recorded on stored events.
func WithAggregateType(t string) Option {
	return func(a *PostgresAdapter) {
		a.aggregateType = t
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *PostgresAdapter) {
		a.db.SetConnMaxLifetime(d)
	}
}

// NewAdapter creates a new PostgreSQL event store adapter.
func NewAdapter(connStr string, opts ...Option) (*PostgresAdapter, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("loanmaster/postgres: failed to open database: %w", err)
	}

	adapter := &PostgresAdapter{
		db:            db,
		schema:        "loanmaster",
		aggregateType: "Loan",
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter, nil
}

// NewAdapterWithDB creates a new adapter with an existing database connection.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *PostgresAdapter {
	adapter := &PostgresAdapter{
		db:            db,
		schema:        "loanmaster",
		aggregateType: "Loan",
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Initialize creates the required database schema and tables.
func (a *PostgresAdapter) Initialize(ctx context.Context) error {
	return a.Migrate(ctx)
}

// Migrate runs database migrations.
func (a *PostgresAdapter) Migrate(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, a.schema))
	if err != nil {
		return fmt.Errorf("loanmaster/postgres: failed to create schema: %w", err)
	}

	// The UNIQUE(aggregate_id, version) constraint is what enforces
	// optimistic concurrency under concurrent writers.
	eventsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.loan_events (
			global_position BIGSERIAL PRIMARY KEY,
			event_id        UUID NOT NULL DEFAULT gen_random_uuid(),
			aggregate_id    VARCHAR(250) NOT NULL,
			aggregate_type  VARCHAR(250) NOT NULL,
			version         BIGINT NOT NULL,
			event_type      VARCHAR(500) NOT NULL,
			data            JSONB NOT NULL,
			metadata        JSONB,
			occurred_at     TIMESTAMPTZ(6) NOT NULL DEFAULT NOW(),
			UNIQUE(aggregate_id, version)
		)`, a.schema)

	_, err = a.db.ExecContext(ctx, eventsSQL)
	if err != nil {
		return fmt.Errorf("loanmaster/postgres: failed to create loan_events table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_loan_events_aggregate ON %s.loan_events(aggregate_id, version)`, a.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_loan_events_type ON %s.loan_events(event_type, occurred_at)`, a.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_loan_events_occurred_at ON %s.loan_events(occurred_at)`, a.schema),
	}

	for _, idx := range indexes {
		_, err = a.db.ExecContext(ctx, idx)
		if err != nil {
			return fmt.Errorf("loanmaster/postgres: failed to create index: %w", err)
		}
	}

	snapshotsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.loan_snapshots (
			aggregate_id    VARCHAR(250) PRIMARY KEY,
			aggregate_type  VARCHAR(250) NOT NULL,
			version         BIGINT NOT NULL,
			data            BYTEA NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, a.schema)

	_, err = a.db.ExecContext(ctx, snapshotsSQL)
	if err != nil {
		return fmt.Errorf("loanmaster/postgres: failed to create loan_snapshots table: %w", err)
	}

	checkpointsSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.checkpoints (
			projection_name VARCHAR(500) PRIMARY KEY,
			position        BIGINT NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, a.schema)

	_, err = a.db.ExecContext(ctx, checkpointsSQL)
	if err != nil {
		return fmt.Errorf("loanmaster/postgres: failed to create checkpoints table: %w", err)
	}

	return nil
}

// MigrationVersion returns the current migration version.
func (a *PostgresAdapter) MigrationVersion(ctx context.Context) (int, error) {
	var exists bool
	err := a.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = 'loan_events'
		)`, a.schema).Scan(&exists)

	if err != nil {
		return 0, err
	}

	if exists {
		return 1, nil
	}
	return 0, nil
}

// Append stores events for the aggregate with optimistic concurrency control.
func (a *PostgresAdapter) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("loanmaster/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize writers per aggregate for the duration of the transaction.
	// The unique constraint on (aggregate_id, version) remains the backstop.
	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("loanmaster/postgres: failed to acquire aggregate lock: %w", err)
	}

	var currentVersion int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(version), 0) FROM %s.loan_events
		WHERE aggregate_id = $1`, a.schema), aggregateID).Scan(&currentVersion)
	if err != nil {
		return nil, fmt.Errorf("loanmaster/postgres: failed to get aggregate version: %w", err)
	}

	if err := adapters.CheckVersion(aggregateID, expectedVersion, currentVersion); err != nil {
		return nil, err
	}

	storedEvents := make([]adapters.StoredEvent, len(events))
	for i, event := range events {
		currentVersion++

		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("loanmaster/postgres: failed to marshal metadata: %w", err)
		}

		var globalPosition uint64
		var eventID string
		var occurredAt time.Time

		err = tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.loan_events (aggregate_id, aggregate_type, version, event_type, data, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING global_position, event_id, occurred_at`, a.schema),
			aggregateID, a.aggregateType, currentVersion, event.Type, event.Data, metadataJSON,
		).Scan(&globalPosition, &eventID, &occurredAt)

		if err != nil {
			if isUniqueViolation(err) {
				return nil, adapters.NewConcurrencyError(aggregateID, expectedVersion, currentVersion-1)
			}
			return nil, fmt.Errorf("loanmaster/postgres: failed to insert event: %w", err)
		}

		storedEvents[i] = adapters.StoredEvent{
			ID:             eventID,
			AggregateID:    aggregateID,
			AggregateType:  a.aggregateType,
			Type:           event.Type,
			Data:           event.Data,
			Metadata:       event.Metadata,
			Version:        currentVersion,
			GlobalPosition: globalPosition,
			OccurredAt:     occurredAt,
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("loanmaster/postgres: failed to commit transaction: %w", err)
	}

	return storedEvents, nil
}

// Load retrieves events for an aggregate with version > fromVersion.
func (a *PostgresAdapter) Load(ctx context.Context, aggregateID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT event_id, aggregate_id, aggregate_type, version, event_type, data, metadata, global_position, occurred_at
		FROM %s.loan_events
		WHERE aggregate_id = $1 AND version > $2
		ORDER BY version`, a.schema), aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("loanmaster/postgres: failed to load events: %w", err)
	}
	defer rows.Close()

	return a.scanEvents(rows)
}

// GetLastVersion returns the current version of an aggregate stream.
func (a *PostgresAdapter) GetLastVersion(ctx context.Context, aggregateID string) (int64, error) {
	if a.closed {
		return 0, ErrAdapterClosed
	}

	if aggregateID == "" {
		return 0, ErrEmptyAggregateID
	}

	var version int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(version), 0) FROM %s.loan_events
		WHERE aggregate_id = $1`, a.schema), aggregateID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("loanmaster/postgres: failed to get aggregate version: %w", err)
	}

	return version, nil
}

// GetLastPosition returns the global position of the last stored event.
func (a *PostgresAdapter) GetLastPosition(ctx context.Context) (uint64, error) {
	if a.closed {
		return 0, ErrAdapterClosed
	}

	var pos sql.NullInt64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(global_position) FROM %s.loan_events`, a.schema)).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("loanmaster/postgres: failed to get last position: %w", err)
	}

	if pos.Valid {
		return uint64(pos.Int64), nil
	}
	return 0, nil
}

// Close releases the database connection.
func (a *PostgresAdapter) Close() error {
	a.closed = true
	return a.db.Close()
}

// SaveSnapshot upserts the latest snapshot for the given aggregate.
// Writes that would lower the stored version are rejected so that a
// slow writer cannot clobber a newer snapshot.
func (a *PostgresAdapter) SaveSnapshot(ctx context.Context, aggregateID, aggregateType string, version int64, data []byte) error {
	if a.closed {
		return ErrAdapterClosed
	}

	if aggregateID == "" {
		return ErrEmptyAggregateID
	}

	result, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.loan_snapshots (aggregate_id, aggregate_type, version, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			aggregate_type = EXCLUDED.aggregate_type,
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			created_at = NOW()
		WHERE %s.loan_snapshots.version <= EXCLUDED.version`, a.schema, a.schema),
		aggregateID, aggregateType, version, data)
	if err != nil {
		return fmt.Errorf("loanmaster/postgres: failed to save snapshot: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("loanmaster/postgres: failed to check snapshot result: %w", err)
	}
	if affected == 0 {
		return ErrSnapshotRegression
	}

	return nil
}

// LoadSnapshot retrieves the latest snapshot for the given aggregate.
func (a *PostgresAdapter) LoadSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if a.closed {
		return nil, ErrAdapterClosed
	}

	var snapshot adapters.SnapshotRecord
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT aggregate_id, aggregate_type, version, data, created_at
		FROM %s.loan_snapshots
		WHERE aggregate_id = $1`, a.schema), aggregateID).Scan(
		&snapshot.AggregateID,
		&snapshot.AggregateType,
		&snapshot.Version,
		&snapshot.Data,
		&snapshot.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loanmaster/postgres: failed to load snapshot: %w", err)
	}

	return &snapshot, nil
}

// DeleteSnapshot removes the snapshot for the given aggregate.
func (a *PostgresAdapter) DeleteSnapshot(ctx context.Context, aggregateID string) error {
	if a.closed {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.loan_snapshots WHERE aggregate_id = $1`, a.schema), aggregateID)
	if err != nil {
		return fmt.Errorf("loanmaster/postgres: failed to delete snapshot: %w", err)
	}

	return nil
}

// GetCheckpoint returns the last processed position for a projection.
func (a *PostgresAdapter) GetCheckpoint(ctx context.Context, projectionName string) (uint64, error) {
	if a.closed {
		return 0, ErrAdapterClosed
	}

	var pos sql.NullInt64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT position FROM %s.checkpoints
		WHERE projection_name = $1`, a.schema), projectionName).Scan(&pos)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loanmaster/postgres: failed to get checkpoint: %w", err)
	}

	if pos.Valid {
		return uint64(pos.Int64), nil
	}
	return 0, nil
}

// SetCheckpoint stores the last processed position for a projection.
func (a *PostgresAdapter) SetCheckpoint(ctx context.Context, projectionName string, position uint64) error {
	if a.closed {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.checkpoints (projection_name, position)
		VALUES ($1, $2)
		ON CONFLICT (projection_name) DO UPDATE SET
			position = EXCLUDED.position,
			updated_at = NOW()`, a.schema), projectionName, position)
	if err != nil {
		return fmt.Errorf("loanmaster/postgres: failed to set checkpoint: %w", err)
	}

	return nil
}

// DeleteCheckpoint removes the checkpoint for a projection.
func (a *PostgresAdapter) DeleteCheckpoint(ctx context.Context, projectionName string) error {
	if a.closed {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.checkpoints WHERE projection_name = $1`, a.schema), projectionName)
	if err != nil {
		return fmt.Errorf("loanmaster/postgres: failed to delete checkpoint: %w", err)
	}

	return nil
}

// Ping checks database connectivity.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.closed {
		return ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// DB returns the underlying database connection.
func (a *PostgresAdapter) DB() *sql.DB {
	return a.db
}

// Schema returns the schema name.
func (a *PostgresAdapter) Schema() string {
	return a.schema
}

// scanEvents scans rows into a StoredEvent slice.
func (a *PostgresAdapter) scanEvents(rows *sql.Rows) ([]adapters.StoredEvent, error) {
	events := make([]adapters.StoredEvent, 0)

	for rows.Next() {
		var event adapters.StoredEvent
		var metadataJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.AggregateID,
			&event.AggregateType,
			&event.Version,
			&event.Type,
			&event.Data,
			&metadataJSON,
			&event.GlobalPosition,
			&event.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("loanmaster/postgres: failed to scan event: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("loanmaster/postgres: failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loanmaster/postgres: error iterating events: %w", err)
	}

	return events, nil
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
