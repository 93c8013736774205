package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
)

// Ensure interface compliance at compile time
var _ loanmaster.SummaryRepository = (*LoanSummaryRepository)(nil)

// LoanSummaryRepository provides a PostgreSQL-backed store for the loan
// summary read model. Writes are guarded by last_version so replayed
// events never move a summary backwards.
type LoanSummaryRepository struct {
	db     *sql.DB
	schema string
	table  string
}

// SummaryRepositoryOption configures a LoanSummaryRepository.
type SummaryRepositoryOption func(*LoanSummaryRepository)

// WithSummarySchema sets the PostgreSQL schema for the summary table.
func WithSummarySchema(schema string) SummaryRepositoryOption {
	return func(r *LoanSummaryRepository) {
		r.schema = schema
	}
}

// WithSummaryTableName sets the table name for loan summaries.
func WithSummaryTableName(table string) SummaryRepositoryOption {
	return func(r *LoanSummaryRepository) {
		r.table = table
	}
}

// NewLoanSummaryRepository creates a new PostgreSQL loan summary repository.
func NewLoanSummaryRepository(db *sql.DB, opts ...SummaryRepositoryOption) *LoanSummaryRepository {
	r := &LoanSummaryRepository{
		db:     db,
		schema: "loanmaster",
		table:  "loan_summaries",
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// NewLoanSummaryRepositoryFromAdapter creates a repository using an existing adapter's connection.
func NewLoanSummaryRepositoryFromAdapter(adapter *PostgresAdapter, opts ...SummaryRepositoryOption) *LoanSummaryRepository {
	allOpts := []SummaryRepositoryOption{
		WithSummarySchema(adapter.schema),
	}
	allOpts = append(allOpts, opts...)
	return NewLoanSummaryRepository(adapter.db, allOpts...)
}

// fullTableName returns the fully qualified and quoted table name.
func (r *LoanSummaryRepository) fullTableName() string {
	return quoteQualifiedTable(r.schema, r.table)
}

// Initialize creates the summary table if it doesn't exist.
func (r *LoanSummaryRepository) Initialize(ctx context.Context) error {
	if err := validateIdentifier(r.schema, "schema"); err != nil {
		return err
	}
	if err := validateIdentifier(r.table, "table"); err != nil {
		return err
	}

	tableQ := r.fullTableName()
	query := `
		CREATE TABLE IF NOT EXISTS ` + tableQ + ` (
			loan_id            VARCHAR(250) PRIMARY KEY,
			borrower_id        VARCHAR(250) NOT NULL,
			principal_cents    BIGINT NOT NULL DEFAULT 0,
			outstanding_cents  BIGINT NOT NULL DEFAULT 0,
			total_paid_cents   BIGINT NOT NULL DEFAULT 0,
			currency           VARCHAR(3) NOT NULL DEFAULT 'USD',
			status             VARCHAR(50) NOT NULL,
			risk_grade         VARCHAR(10) NOT NULL DEFAULT '',
			last_version       BIGINT NOT NULL DEFAULT 0,
			last_position      BIGINT NOT NULL DEFAULT 0,
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+r.table+"_status") + ` ON ` + tableQ + ` (status);
		CREATE INDEX IF NOT EXISTS ` + quoteIdentifier("idx_"+r.table+"_borrower") + ` ON ` + tableQ + ` (borrower_id);
	`

	_, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("loanmaster/postgres/readmodel: failed to create table: %w", err)
	}

	return nil
}

// Get retrieves a loan summary by loan ID.
func (r *LoanSummaryRepository) Get(ctx context.Context, loanID string) (*loanmaster.LoanSummary, error) {
	tableQ := r.fullTableName()
	query := `
		SELECT loan_id, borrower_id, principal_cents, outstanding_cents, total_paid_cents,
			currency, status, risk_grade, last_version, last_position, updated_at
		FROM ` + tableQ + `
		WHERE loan_id = $1
	`

	summary, err := r.scanSummary(r.db.QueryRowContext(ctx, query, loanID))
	if err == sql.ErrNoRows {
		return nil, loanmaster.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loanmaster/postgres/readmodel: get failed: %w", err)
	}

	return summary, nil
}

// Save upserts a loan summary. The write only lands if the incoming
// last_version is newer than the stored one; stale writes are silently
// dropped, which is what makes projection apply idempotent under replay.
func (r *LoanSummaryRepository) Save(ctx context.Context, summary *loanmaster.LoanSummary) error {
	tableQ := r.fullTableName()
	query := `
		INSERT INTO ` + tableQ + ` (
			loan_id, borrower_id, principal_cents, outstanding_cents, total_paid_cents,
			currency, status, risk_grade, last_version, last_position, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (loan_id) DO UPDATE SET
			borrower_id = EXCLUDED.borrower_id,
			principal_cents = EXCLUDED.principal_cents,
			outstanding_cents = EXCLUDED.outstanding_cents,
			total_paid_cents = EXCLUDED.total_paid_cents,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			risk_grade = EXCLUDED.risk_grade,
			last_version = EXCLUDED.last_version,
			last_position = EXCLUDED.last_position,
			updated_at = EXCLUDED.updated_at
		WHERE ` + tableQ + `.last_version < EXCLUDED.last_version
	`

	updatedAt := summary.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		summary.LoanID,
		summary.BorrowerID,
		summary.PrincipalCents,
		summary.OutstandingCents,
		summary.TotalPaidCents,
		summary.Currency,
		string(summary.Status),
		summary.RiskGrade,
		summary.LastVersion,
		summary.LastPosition,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("loanmaster/postgres/readmodel: save failed: %w", err)
	}

	return nil
}

// ListByStatus returns summaries in the given status, most recently updated first.
func (r *LoanSummaryRepository) ListByStatus(ctx context.Context, status loanmaster.LoanStatus, limit int) ([]*loanmaster.LoanSummary, error) {
	if limit <= 0 {
		limit = 100
	}

	tableQ := r.fullTableName()
	query := `
		SELECT loan_id, borrower_id, principal_cents, outstanding_cents, total_paid_cents,
			currency, status, risk_grade, last_version, last_position, updated_at
		FROM ` + tableQ + `
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("loanmaster/postgres/readmodel: list failed: %w", err)
	}
	defer rows.Close()

	var summaries []*loanmaster.LoanSummary
	for rows.Next() {
		summary, err := r.scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("loanmaster/postgres/readmodel: scan failed: %w", err)
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loanmaster/postgres/readmodel: row iteration error: %w", err)
	}

	return summaries, nil
}

// Delete removes a loan summary.
func (r *LoanSummaryRepository) Delete(ctx context.Context, loanID string) error {
	tableQ := r.fullTableName()

	result, err := r.db.ExecContext(ctx, `DELETE FROM `+tableQ+` WHERE loan_id = $1`, loanID)
	if err != nil {
		return fmt.Errorf("loanmaster/postgres/readmodel: delete failed: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return loanmaster.ErrNotFound
	}

	return nil
}

// Truncate removes all summaries. Used by projection rebuild.
func (r *LoanSummaryRepository) Truncate(ctx context.Context) error {
	tableQ := r.fullTableName()

	_, err := r.db.ExecContext(ctx, `TRUNCATE TABLE `+tableQ)
	if err != nil {
		return fmt.Errorf("loanmaster/postgres/readmodel: truncate failed: %w", err)
	}

	return nil
}

// Count returns the number of stored summaries.
func (r *LoanSummaryRepository) Count(ctx context.Context) (int64, error) {
	tableQ := r.fullTableName()

	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tableQ).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("loanmaster/postgres/readmodel: count failed: %w", err)
	}

	return count, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSummary scans one summary row.
func (r *LoanSummaryRepository) scanSummary(row rowScanner) (*loanmaster.LoanSummary, error) {
	var summary loanmaster.LoanSummary
	var status string

	err := row.Scan(
		&summary.LoanID,
		&summary.BorrowerID,
		&summary.PrincipalCents,
		&summary.OutstandingCents,
		&summary.TotalPaidCents,
		&summary.Currency,
		&status,
		&summary.RiskGrade,
		&summary.LastVersion,
		&summary.LastPosition,
		&summary.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	summary.Status = loanmaster.LoanStatus(status)
	return &summary, nil
}
