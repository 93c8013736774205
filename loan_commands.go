package loanmaster

import "time"

// SubmitLoanApplication opens a new loan aggregate. If LoanID is empty the
// handler assigns one.
type SubmitLoanApplication struct {
	CommandBase

	LoanID          string `json:"loanId,omitempty"`
	Applicant       string `json:"applicant"`
	RequestedAmount int64  `json:"requestedAmount"`
	Currency        string `json:"currency,omitempty"`
	DurationMonths  int    `json:"durationMonths"`
	Purpose         string `json:"purpose,omitempty"`

	// RequestID deduplicates client retries of the same submission.
	RequestID string `json:"requestId,omitempty"`
}

func (c SubmitLoanApplication) CommandType() string { return "SubmitLoanApplication" }
func (c SubmitLoanApplication) AggregateID() string { return c.LoanID }

func (c SubmitLoanApplication) IdempotencyKey() string { return c.RequestID }

func (c SubmitLoanApplication) Validate() error {
	if c.Applicant == "" {
		return NewValidationError("applicant", "is required")
	}
	if c.RequestedAmount <= 0 {
		return NewValidationError("requestedAmount", "must be positive")
	}
	if c.DurationMonths <= 0 {
		return NewValidationError("durationMonths", "must be positive")
	}
	return nil
}

// AssessLoanRisk records the outcome of risk scoring for a pending loan.
type AssessLoanRisk struct {
	CommandBase

	LoanID       string  `json:"loanId"`
	Score        int     `json:"score"`
	Grade        string  `json:"grade"`
	DebtToIncome float64 `json:"debtToIncome"`
	AssessedBy   string  `json:"assessedBy"`
}

func (c AssessLoanRisk) CommandType() string { return "AssessLoanRisk" }
func (c AssessLoanRisk) AggregateID() string { return c.LoanID }

func (c AssessLoanRisk) Validate() error {
	if c.LoanID == "" {
		return NewValidationError("loanId", "is required")
	}
	if c.Score < 0 || c.Score > 1000 {
		return NewValidationError("score", "must be between 0 and 1000")
	}
	if c.Grade == "" {
		return NewValidationError("grade", "is required")
	}
	return nil
}

// ApproveLoan moves a loan under review to approved.
type ApproveLoan struct {
	CommandBase

	LoanID string `json:"loanId"`
	Reason string `json:"reason,omitempty"`
}

func (c ApproveLoan) CommandType() string { return "ApproveLoan" }
func (c ApproveLoan) AggregateID() string { return c.LoanID }

func (c ApproveLoan) Validate() error {
	if c.LoanID == "" {
		return NewValidationError("loanId", "is required")
	}
	return nil
}

// RejectLoan terminally rejects a loan application.
type RejectLoan struct {
	CommandBase

	LoanID string `json:"loanId"`
	Reason string `json:"reason"`
}

func (c RejectLoan) CommandType() string { return "RejectLoan" }
func (c RejectLoan) AggregateID() string { return c.LoanID }

func (c RejectLoan) Validate() error {
	if c.LoanID == "" {
		return NewValidationError("loanId", "is required")
	}
	if c.Reason == "" {
		return NewValidationError("reason", "is required")
	}
	return nil
}

// FundLoan disburses an approved loan.
type FundLoan struct {
	CommandBase

	LoanID          string    `json:"loanId"`
	Amount          int64     `json:"amount"`
	InterestRateBps int       `json:"interestRateBps"`
	FundedAt        time.Time `json:"fundedAt,omitempty"`
}

func (c FundLoan) CommandType() string { return "FundLoan" }
func (c FundLoan) AggregateID() string { return c.LoanID }

func (c FundLoan) Validate() error {
	if c.LoanID == "" {
		return NewValidationError("loanId", "is required")
	}
	if c.Amount <= 0 {
		return NewValidationError("amount", "must be positive")
	}
	if c.InterestRateBps < 0 {
		return NewValidationError("interestRateBps", "must not be negative")
	}
	return nil
}

// ActivateLoan starts the repayment schedule on a funded loan.
type ActivateLoan struct {
	CommandBase

	LoanID string `json:"loanId"`
	Reason string `json:"reason,omitempty"`
}

func (c ActivateLoan) CommandType() string { return "ActivateLoan" }
func (c ActivateLoan) AggregateID() string { return c.LoanID }

func (c ActivateLoan) Validate() error {
	if c.LoanID == "" {
		return NewValidationError("loanId", "is required")
	}
	return nil
}

// ReceiveLoanPayment applies a borrower payment against an active loan.
type ReceiveLoanPayment struct {
	CommandBase

	LoanID     string    `json:"loanId"`
	Amount     int64     `json:"amount"`
	Principal  int64     `json:"principal"`
	Interest   int64     `json:"interest"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`

	// PaymentID deduplicates payment webhooks retried by the gateway.
	PaymentID string `json:"paymentId,omitempty"`
}

func (c ReceiveLoanPayment) CommandType() string { return "ReceiveLoanPayment" }
func (c ReceiveLoanPayment) AggregateID() string { return c.LoanID }

func (c ReceiveLoanPayment) IdempotencyKey() string { return c.PaymentID }

func (c ReceiveLoanPayment) Validate() error {
	if c.LoanID == "" {
		return NewValidationError("loanId", "is required")
	}
	if c.Amount <= 0 {
		return NewValidationError("amount", "must be positive")
	}
	if c.Principal < 0 || c.Interest < 0 {
		return NewValidationError("amount", "principal and interest must not be negative")
	}
	if c.Principal+c.Interest != c.Amount {
		return NewValidationError("amount", "principal plus interest must equal amount")
	}
	return nil
}

// CancelLoan withdraws a loan before funding.
type CancelLoan struct {
	CommandBase

	LoanID string `json:"loanId"`
	Reason string `json:"reason"`
}

func (c CancelLoan) CommandType() string { return "CancelLoan" }
func (c CancelLoan) AggregateID() string { return c.LoanID }

func (c CancelLoan) Validate() error {
	if c.LoanID == "" {
		return NewValidationError("loanId", "is required")
	}
	if c.Reason == "" {
		return NewValidationError("reason", "is required")
	}
	return nil
}

// MarkLoanDefaulted records a default on a funded or active loan.
type MarkLoanDefaulted struct {
	CommandBase

	LoanID string `json:"loanId"`
	Reason string `json:"reason"`
}

func (c MarkLoanDefaulted) CommandType() string { return "MarkLoanDefaulted" }
func (c MarkLoanDefaulted) AggregateID() string { return c.LoanID }

func (c MarkLoanDefaulted) Validate() error {
	if c.LoanID == "" {
		return NewValidationError("loanId", "is required")
	}
	if c.Reason == "" {
		return NewValidationError("reason", "is required")
	}
	return nil
}
