package loanmaster

import (
	"time"
)

// LoanStatus is the lifecycle status of a loan.
type LoanStatus string

// Loan lifecycle statuses. The happy path is pending → under_review →
// approved → funded → active → completed; rejected, defaulted and cancelled
// are absorbing.
const (
	StatusPending     LoanStatus = "pending"
	StatusUnderReview LoanStatus = "under_review"
	StatusApproved    LoanStatus = "approved"
	StatusFunded      LoanStatus = "funded"
	StatusActive      LoanStatus = "active"
	StatusCompleted   LoanStatus = "completed"
	StatusRejected    LoanStatus = "rejected"
	StatusDefaulted   LoanStatus = "defaulted"
	StatusCancelled   LoanStatus = "cancelled"
)

// validTransitions defines the loan status state machine.
var validTransitions = map[LoanStatus][]LoanStatus{
	StatusPending:     {StatusUnderReview, StatusRejected, StatusCancelled},
	StatusUnderReview: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:    {StatusFunded, StatusCancelled},
	StatusFunded:      {StatusActive, StatusDefaulted},
	StatusActive:      {StatusCompleted, StatusDefaulted},
}

// CanTransition reports whether the status state machine allows moving
// from one status to another.
func CanTransition(from, to LoanStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AggregateTypeLoan is the aggregate family name recorded with every event.
const AggregateTypeLoan = "Loan"

// DefaultCurrency is used when an application does not name a currency.
const DefaultCurrency = "USD"

// Loan is the event-sourced loan aggregate. Its state is derived entirely
// from its event stream; it is never persisted directly.
//
// Business methods validate transitions against the current state and emit
// events. ApplyEvent folds events without validation so that historical
// streams replay deterministically even when transition rules have since
// changed.
type Loan struct {
	AggregateBase

	Applicant       string     `json:"applicant"`
	Currency        string     `json:"currency"`
	RequestedAmount int64      `json:"requestedAmount"`
	ApprovedAmount  int64      `json:"approvedAmount"`
	CurrentBalance  int64      `json:"currentBalance"`
	TotalPaid       int64      `json:"totalPaid"`
	DurationMonths  int        `json:"durationMonths"`
	Purpose         string     `json:"purpose,omitempty"`
	Status          LoanStatus `json:"status"`
	RiskScore       int        `json:"riskScore"`
	RiskGrade       string     `json:"riskGrade,omitempty"`
	DebtToIncome    float64    `json:"debtToIncome,omitempty"`
	InterestRateBps int        `json:"interestRateBps"`
	SubmittedAt     time.Time  `json:"submittedAt"`
	FundedAt        time.Time  `json:"fundedAt,omitempty"`
}

// NewLoan creates an empty loan aggregate with the given ID.
// State is rebuilt by replaying events or applying business methods.
func NewLoan(id string) *Loan {
	return &Loan{
		AggregateBase: NewAggregateBase(id, AggregateTypeLoan),
	}
}

// record registers an event as uncommitted and immediately folds it into
// the aggregate state, keeping the in-memory state ahead of persistence.
func (l *Loan) record(event interface{}) {
	l.Apply(event)
	_ = l.ApplyEvent(event)
}

// Submit starts a new loan application. It must be the first operation on
// the aggregate.
func (l *Loan) Submit(applicant string, requestedAmount int64, currency string, durationMonths int, purpose string, at time.Time) error {
	if l.Status != "" {
		return NewInvalidTransitionError(l.AggregateID(), l.Status, StatusPending)
	}
	if applicant == "" {
		return NewValidationError("applicant", "required")
	}
	if requestedAmount <= 0 {
		return ErrInvalidAmount
	}
	if durationMonths <= 0 {
		return NewValidationError("durationMonths", "must be positive")
	}
	if currency == "" {
		currency = DefaultCurrency
	}

	l.record(LoanApplicationSubmitted{
		LoanID:          l.AggregateID(),
		Applicant:       applicant,
		RequestedAmount: requestedAmount,
		Currency:        currency,
		DurationMonths:  durationMonths,
		Purpose:         purpose,
		SubmittedAt:     at,
	})
	return nil
}

// AssessRisk records a risk assessment and moves the loan under review.
func (l *Loan) AssessRisk(score int, grade string, debtToIncome float64, assessedBy string) error {
	if !CanTransition(l.Status, StatusUnderReview) {
		return NewInvalidTransitionError(l.AggregateID(), l.Status, StatusUnderReview)
	}
	if score < 0 {
		return NewValidationError("score", "must not be negative")
	}

	l.record(LoanRiskAssessed{
		LoanID:       l.AggregateID(),
		Score:        score,
		Grade:        grade,
		DebtToIncome: debtToIncome,
		AssessedBy:   assessedBy,
	})
	return nil
}

// Approve moves a reviewed loan to approved. The approved amount equals the
// requested amount.
func (l *Loan) Approve(reason string) error {
	return l.changeStatus(StatusApproved, reason)
}

// Reject declines the loan. Terminal.
func (l *Loan) Reject(reason string) error {
	return l.changeStatus(StatusRejected, reason)
}

// Cancel withdraws the loan before funding. Terminal.
func (l *Loan) Cancel(reason string) error {
	return l.changeStatus(StatusCancelled, reason)
}

// Activate puts a funded loan into repayment.
func (l *Loan) Activate(reason string) error {
	return l.changeStatus(StatusActive, reason)
}

// MarkDefaulted marks a funded or active loan as defaulted. Terminal.
func (l *Loan) MarkDefaulted(reason string) error {
	return l.changeStatus(StatusDefaulted, reason)
}

func (l *Loan) changeStatus(to LoanStatus, reason string) error {
	if !CanTransition(l.Status, to) {
		return NewInvalidTransitionError(l.AggregateID(), l.Status, to)
	}

	l.record(LoanStatusChanged{
		LoanID: l.AggregateID(),
		From:   l.Status,
		To:     to,
		Reason: reason,
	})
	return nil
}

// Fund disburses an approved loan.
func (l *Loan) Fund(amount int64, interestRateBps int, at time.Time) error {
	if !CanTransition(l.Status, StatusFunded) {
		return NewInvalidTransitionError(l.AggregateID(), l.Status, StatusFunded)
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if interestRateBps < 0 {
		return NewValidationError("interestRateBps", "must not be negative")
	}

	l.record(LoanFunded{
		LoanID:          l.AggregateID(),
		Amount:          amount,
		InterestRateBps: interestRateBps,
		FundedAt:        at,
	})
	return nil
}

// ReceivePayment records a repayment against an active loan. The principal
// and interest split must sum to the payment amount, and principal must not
// exceed the outstanding balance. When the balance reaches zero the loan is
// completed in the same operation.
func (l *Loan) ReceivePayment(amount, principal, interest int64, at time.Time) error {
	if l.Status != StatusActive {
		return NewInvalidTransitionError(l.AggregateID(), l.Status, StatusActive)
	}
	if amount <= 0 || principal < 0 || interest < 0 || principal+interest != amount {
		return ErrInvalidAmount
	}
	if principal > l.CurrentBalance {
		return ErrOverpayment
	}

	l.record(LoanPaymentReceived{
		LoanID:        l.AggregateID(),
		Amount:        amount,
		Principal:     principal,
		Interest:      interest,
		ReceivedAt:    at,
		SchemaVersion: loanPaymentReceivedSchemaVersion,
	})

	if l.CurrentBalance == 0 {
		l.record(LoanStatusChanged{
			LoanID: l.AggregateID(),
			From:   StatusActive,
			To:     StatusCompleted,
			Reason: "balance repaid in full",
		})
	}
	return nil
}

// ApplyEvent folds a single event into the aggregate state. It is total:
// it accepts every event as committed history, performs no transition
// validation, and has no side effects, so replay is deterministic.
func (l *Loan) ApplyEvent(event interface{}) error {
	switch e := event.(type) {
	case LoanApplicationSubmitted:
		l.SetID(e.LoanID)
		l.Applicant = e.Applicant
		l.Currency = e.Currency
		l.RequestedAmount = e.RequestedAmount
		l.DurationMonths = e.DurationMonths
		l.Purpose = e.Purpose
		l.SubmittedAt = e.SubmittedAt
		l.Status = StatusPending

	case LoanRiskAssessed:
		l.RiskScore = e.Score
		l.RiskGrade = e.Grade
		l.DebtToIncome = e.DebtToIncome
		l.Status = StatusUnderReview

	case LoanStatusChanged:
		l.Status = e.To
		if e.To == StatusApproved && l.ApprovedAmount == 0 {
			l.ApprovedAmount = l.RequestedAmount
		}

	case LoanFunded:
		l.ApprovedAmount = e.Amount
		l.CurrentBalance = e.Amount
		l.InterestRateBps = e.InterestRateBps
		l.FundedAt = e.FundedAt
		l.Status = StatusFunded

	case LoanPaymentReceived:
		l.CurrentBalance -= e.Principal
		l.TotalPaid += e.Amount
	}

	l.IncrementVersion()
	return nil
}
