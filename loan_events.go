package loanmaster

import "time"

// Domain events for the Loan aggregate. Monetary amounts are int64 minor
// units (cents) so folding a stream is exact regardless of platform.
//
// Payloads are schema-versioned: a payload without a schemaVersion field is
// version 1. When a shape changes, the old shape keeps replaying through a
// registered upcaster (see RegisterLoanEvents).

// LoanApplicationSubmitted is emitted when a borrower submits a new loan
// application. It is always the first event in a loan's stream.
type LoanApplicationSubmitted struct {
	LoanID          string    `json:"loanId"`
	Applicant       string    `json:"applicant"`
	RequestedAmount int64     `json:"requestedAmount"`
	Currency        string    `json:"currency"`
	DurationMonths  int       `json:"durationMonths"`
	Purpose         string    `json:"purpose,omitempty"`
	SubmittedAt     time.Time `json:"submittedAt"`
}

// LoanRiskAssessed records the outcome of a risk assessment and moves the
// loan from pending to under_review.
type LoanRiskAssessed struct {
	LoanID       string  `json:"loanId"`
	Score        int     `json:"score"`
	Grade        string  `json:"grade"`
	DebtToIncome float64 `json:"debtToIncome,omitempty"`
	AssessedBy   string  `json:"assessedBy,omitempty"`
}

// LoanStatusChanged is the generic transition event used for approvals,
// rejections, activation, completion, default and cancellation.
type LoanStatusChanged struct {
	LoanID string     `json:"loanId"`
	From   LoanStatus `json:"from"`
	To     LoanStatus `json:"to"`
	Reason string     `json:"reason,omitempty"`
}

// LoanFunded records disbursement of an approved loan.
type LoanFunded struct {
	LoanID          string    `json:"loanId"`
	Amount          int64     `json:"amount"`
	InterestRateBps int       `json:"interestRateBps"`
	FundedAt        time.Time `json:"fundedAt"`
}

// LoanPaymentReceived records a repayment against an active loan.
//
// Schema version 2. Version 1 carried only the total amount; version 2 adds
// the principal/interest split. Old payloads are upcast on read with the
// whole amount attributed to principal.
type LoanPaymentReceived struct {
	LoanID        string    `json:"loanId"`
	Amount        int64     `json:"amount"`
	Principal     int64     `json:"principal"`
	Interest      int64     `json:"interest"`
	ReceivedAt    time.Time `json:"receivedAt"`
	SchemaVersion int       `json:"schemaVersion"`
}

// loanPaymentReceivedSchemaVersion is the current schema version written
// for LoanPaymentReceived payloads.
const loanPaymentReceivedSchemaVersion = 2

// upcastLoanPaymentReceivedV1 migrates a version-1 LoanPaymentReceived
// payload to version 2. V1 had no principal/interest split, so the full
// amount counts as principal.
func upcastLoanPaymentReceivedV1(payload map[string]interface{}) (map[string]interface{}, error) {
	if _, ok := payload["principal"]; !ok {
		payload["principal"] = payload["amount"]
	}
	if _, ok := payload["interest"]; !ok {
		payload["interest"] = 0
	}
	payload["schemaVersion"] = 2
	return payload, nil
}

// RegisterLoanEvents registers every loan event type and its upcasters on
// the given registry. Call this once per process before loading streams.
func RegisterLoanEvents(registry *EventRegistry) {
	registry.RegisterAll(
		LoanApplicationSubmitted{},
		LoanRiskAssessed{},
		LoanStatusChanged{},
		LoanFunded{},
		LoanPaymentReceived{},
	)
	registry.RegisterUpcaster("LoanPaymentReceived", 1, upcastLoanPaymentReceivedV1)
}
