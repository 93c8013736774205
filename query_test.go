package loanmaster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queryFixture wires the write side, projection and audit service the way a
// deployment would, then runs one loan through its lifecycle.
func queryFixture(t *testing.T) *QueryService {
	t.Helper()
	store := newTestStore(t)
	projection := NewLoanSummaryProjection(NewInMemorySummaryRepository())
	repo := NewLoanRepository(store, WithSubscribers(projection))
	ctx := context.Background()

	loan := activeLoan(t)
	require.NoError(t, repo.Save(ctx, loan))

	return NewQueryService(projection.Repository(), NewAuditService(store))
}

func TestQueryService_LoanSummary(t *testing.T) {
	ctx := context.Background()
	queries := queryFixture(t)

	t.Run("returns the projected row", func(t *testing.T) {
		summary, err := queries.LoanSummary(ctx, GetLoanSummary{LoanID: "loan-1"})
		require.NoError(t, err)
		assert.Equal(t, StatusActive, summary.Status)
		assert.Equal(t, int64(500_000), summary.OutstandingCents)
	})

	t.Run("missing loan", func(t *testing.T) {
		_, err := queries.LoanSummary(ctx, GetLoanSummary{LoanID: "missing"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := queries.LoanSummary(ctx, GetLoanSummary{})
		assert.ErrorIs(t, err, ErrEmptyAggregateID)
	})

	t.Run("nil read model", func(t *testing.T) {
		bare := NewQueryService(nil, nil)
		_, err := bare.LoanSummary(ctx, GetLoanSummary{LoanID: "loan-1"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestQueryService_LoansByStatus(t *testing.T) {
	ctx := context.Background()
	queries := queryFixture(t)

	active, err := queries.LoansByStatus(ctx, ListLoansByStatus{Status: StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "loan-1", active[0].LoanID)

	none, err := queries.LoansByStatus(ctx, ListLoansByStatus{Status: StatusDefaulted})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryService_LoanAtTime(t *testing.T) {
	ctx := context.Background()
	queries := queryFixture(t)

	loan, err := queries.LoanAtTime(ctx, GetLoanAtTime{LoanID: "loan-1", At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, loan.Status)

	t.Run("nil audit side", func(t *testing.T) {
		bare := NewQueryService(nil, nil)
		_, err := bare.LoanAtTime(ctx, GetLoanAtTime{LoanID: "loan-1", At: time.Now()})
		assert.ErrorIs(t, err, ErrAuditNotSupported)
	})
}

func TestQueryService_LoanHistory(t *testing.T) {
	ctx := context.Background()
	queries := queryFixture(t)

	entries, err := queries.LoanHistory(ctx, GetLoanHistory{
		LoanID: "loan-1",
		Since:  time.Now().Add(-time.Minute),
		Until:  time.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	t.Run("nil audit side", func(t *testing.T) {
		bare := NewQueryService(nil, nil)
		_, err := bare.LoanHistory(ctx, GetLoanHistory{LoanID: "loan-1"})
		assert.ErrorIs(t, err, ErrAuditNotSupported)
	})
}
