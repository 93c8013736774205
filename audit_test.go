package loanmaster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dahovitech/loanmaster-sub001/adapters/memory"
)

// auditFixture writes a loan lifecycle where every save happens at a
// distinct clock tick, so state can be reconstructed between any two saves.
func auditFixture(t *testing.T) (*AuditService, time.Time) {
	t.Helper()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	adapter := memory.NewAdapter(memory.WithClock(func() time.Time { return now }))
	store := New(adapter)
	t.Cleanup(func() { _ = store.Close() })
	repo := NewLoanRepository(store)
	ctx := context.Background()

	metadata := func(actor string) AppendOption {
		return WithAppendMetadata(Metadata{ActorID: actor, CorrelationID: "corr-1"})
	}

	loan := NewLoan("loan-1")
	require.NoError(t, loan.Submit("alice", 500_000, "USD", 36, "", base))
	require.NoError(t, repo.Save(ctx, loan, metadata("alice")))

	now = base.AddDate(0, 0, 1)
	require.NoError(t, loan.AssessRisk(720, "A", 0.31, "scoring-svc"))
	require.NoError(t, repo.Save(ctx, loan, metadata("underwriter-1")))

	now = base.AddDate(0, 0, 1).Add(2 * time.Hour)
	require.NoError(t, loan.Approve("good standing"))
	require.NoError(t, repo.Save(ctx, loan, metadata("underwriter-1")))

	now = base.AddDate(0, 0, 2)
	require.NoError(t, loan.Fund(500_000, 850, now))
	require.NoError(t, loan.Activate(""))
	require.NoError(t, repo.Save(ctx, loan, metadata("treasury")))

	now = base.AddDate(0, 0, 3)
	require.NoError(t, loan.ReceivePayment(60_000, 50_000, 10_000, now))
	require.NoError(t, repo.Save(ctx, loan, metadata("payments")))

	return NewAuditService(store), base
}

func TestAuditService_ReconstructLoanAt(t *testing.T) {
	ctx := context.Background()
	audit, base := auditFixture(t)

	t.Run("state after submission", func(t *testing.T) {
		loan, events, err := audit.ReconstructLoanAt(ctx, "loan-1", base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, loan.Status)
		assert.Equal(t, int64(1), loan.Version())
		assert.Len(t, events, 1)
	})

	t.Run("state while under review", func(t *testing.T) {
		loan, events, err := audit.ReconstructLoanAt(ctx, "loan-1", base.AddDate(0, 0, 1).Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, StatusUnderReview, loan.Status)
		assert.Equal(t, 720, loan.RiskScore)
		assert.Equal(t, "A", loan.RiskGrade)
		assert.Equal(t, int64(2), loan.Version())
		assert.Len(t, events, 2)
	})

	t.Run("state after approval but before funding", func(t *testing.T) {
		loan, events, err := audit.ReconstructLoanAt(ctx, "loan-1", base.AddDate(0, 0, 1).Add(3*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, loan.Status)
		assert.Equal(t, int64(3), loan.Version())
		assert.Len(t, events, 3)
		assert.Equal(t, int64(0), loan.CurrentBalance)
	})

	t.Run("state after first payment", func(t *testing.T) {
		loan, _, err := audit.ReconstructLoanAt(ctx, "loan-1", base.AddDate(0, 0, 3).Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, StatusActive, loan.Status)
		assert.Equal(t, int64(450_000), loan.CurrentBalance)
		assert.Equal(t, int64(60_000), loan.TotalPaid)
	})

	t.Run("timestamp before first event", func(t *testing.T) {
		_, _, err := audit.ReconstructLoanAt(ctx, "loan-1", base.Add(-time.Hour))
		assert.ErrorIs(t, err, ErrAggregateNotFound)
	})

	t.Run("future timestamp", func(t *testing.T) {
		_, _, err := audit.ReconstructLoanAt(ctx, "loan-1", time.Now().Add(time.Hour))
		assert.ErrorIs(t, err, ErrFutureTimestamp)
	})

	t.Run("empty id", func(t *testing.T) {
		_, _, err := audit.ReconstructLoanAt(ctx, "", time.Now())
		assert.ErrorIs(t, err, ErrEmptyAggregateID)
	})
}

func TestAuditService_History(t *testing.T) {
	ctx := context.Background()
	audit, base := auditFixture(t)

	t.Run("full trail with actors", func(t *testing.T) {
		entries, err := audit.History(ctx, "loan-1", base, base.AddDate(0, 0, 7), 0)
		require.NoError(t, err)
		require.Len(t, entries, 6)

		assert.Equal(t, "LoanApplicationSubmitted", entries[0].EventType)
		assert.Equal(t, "alice", entries[0].ActorID)
		assert.Equal(t, "corr-1", entries[0].CorrelationID)
		assert.Equal(t, "underwriter-1", entries[1].ActorID)
		assert.Equal(t, int64(1), entries[0].Version)
		assert.Equal(t, int64(6), entries[5].Version)
	})

	t.Run("window excludes later events", func(t *testing.T) {
		// Window ends between the risk assessment and the approval.
		entries, err := audit.History(ctx, "loan-1", base, base.AddDate(0, 0, 1).Add(time.Hour), 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "LoanRiskAssessed", entries[1].EventType)
	})

	t.Run("by type across loans", func(t *testing.T) {
		entries, err := audit.HistoryByType(ctx, "LoanPaymentReceived", time.Time{}, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		payment, ok := entries[0].Data.(LoanPaymentReceived)
		require.True(t, ok)
		assert.Equal(t, int64(50_000), payment.Principal)
	})

	t.Run("empty event type", func(t *testing.T) {
		_, err := audit.HistoryByType(ctx, "", time.Time{}, 0)
		assert.ErrorIs(t, err, ErrValidationFailed)
	})
}

func TestAuditService_Report(t *testing.T) {
	ctx := context.Background()
	audit, base := auditFixture(t)

	report, err := audit.Report(ctx, base, base.AddDate(0, 0, 7))
	require.NoError(t, err)

	assert.Equal(t, int64(6), report.TotalEvents)
	assert.Equal(t, int64(1), report.LoanCount)
	assert.Equal(t, int64(2), report.ByEventType["LoanStatusChanged"])
	assert.Equal(t, int64(1), report.ByEventType["LoanPaymentReceived"])
	assert.Equal(t, int64(1), report.ByActor["alice"])
	assert.Equal(t, int64(2), report.ByActor["underwriter-1"])
	assert.Equal(t, int64(2), report.ByActor["treasury"])
}
