package loanmaster

import (
	"context"
	"time"
)

// Query represents a read-side request. Queries never modify state and are
// served from read models or the event log, never from the aggregate.
type Query interface {
	// QueryType returns the type identifier for this query.
	QueryType() string
}

// GetLoanSummary fetches the current read model row for one loan.
type GetLoanSummary struct {
	LoanID string
}

func (q GetLoanSummary) QueryType() string { return "GetLoanSummary" }

// ListLoansByStatus lists read model rows in a given status.
type ListLoansByStatus struct {
	Status LoanStatus
	Limit  int
}

func (q ListLoansByStatus) QueryType() string { return "ListLoansByStatus" }

// GetLoanAtTime reconstructs a loan's state as of a past point in time.
type GetLoanAtTime struct {
	LoanID string
	At     time.Time
}

func (q GetLoanAtTime) QueryType() string { return "GetLoanAtTime" }

// GetLoanHistory fetches the audit trail for one loan.
type GetLoanHistory struct {
	LoanID string
	Since  time.Time
	Until  time.Time
	Limit  int
}

func (q GetLoanHistory) QueryType() string { return "GetLoanHistory" }

// QueryService serves the read side: summaries from the projection's read
// model, history and time travel from the event log via the audit service.
type QueryService struct {
	summaries SummaryRepository
	audit     *AuditService
}

// NewQueryService creates a QueryService. Either dependency may be nil when
// only one side is needed; queries against the missing side fail with
// ErrNotFound or ErrAuditNotSupported.
func NewQueryService(summaries SummaryRepository, audit *AuditService) *QueryService {
	return &QueryService{summaries: summaries, audit: audit}
}

// LoanSummary serves GetLoanSummary.
func (s *QueryService) LoanSummary(ctx context.Context, q GetLoanSummary) (*LoanSummary, error) {
	if q.LoanID == "" {
		return nil, ErrEmptyAggregateID
	}
	if s.summaries == nil {
		return nil, ErrNotFound
	}
	return s.summaries.Get(ctx, q.LoanID)
}

// LoansByStatus serves ListLoansByStatus.
func (s *QueryService) LoansByStatus(ctx context.Context, q ListLoansByStatus) ([]*LoanSummary, error) {
	if s.summaries == nil {
		return nil, ErrNotFound
	}
	return s.summaries.ListByStatus(ctx, q.Status, q.Limit)
}

// LoanAtTime serves GetLoanAtTime.
func (s *QueryService) LoanAtTime(ctx context.Context, q GetLoanAtTime) (*Loan, error) {
	if s.audit == nil {
		return nil, ErrAuditNotSupported
	}
	loan, _, err := s.audit.ReconstructLoanAt(ctx, q.LoanID, q.At)
	return loan, err
}

// LoanHistory serves GetLoanHistory.
func (s *QueryService) LoanHistory(ctx context.Context, q GetLoanHistory) ([]AuditEntry, error) {
	if s.audit == nil {
		return nil, ErrAuditNotSupported
	}
	return s.audit.History(ctx, q.LoanID, q.Since, q.Until, q.Limit)
}
