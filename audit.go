package loanmaster

import (
	"context"
	"fmt"
	"time"
)

// AuditEntry is a read-only record of one event's effect, derived from the
// event log for compliance reporting. It is never a separate source of truth.
type AuditEntry struct {
	EventID       string     `json:"eventId"`
	LoanID        string     `json:"loanId"`
	EventType     string     `json:"eventType"`
	Version       int64      `json:"version"`
	OccurredAt    time.Time  `json:"occurredAt"`
	ActorID       string     `json:"actorId,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
	IPAddress     string     `json:"ipAddress,omitempty"`
	Data          interface{} `json:"data"`
}

// AuditReport aggregates event activity over a time window.
type AuditReport struct {
	Since       time.Time `json:"since"`
	Until       time.Time `json:"until"`
	GeneratedAt time.Time `json:"generatedAt"`

	TotalEvents int64            `json:"totalEvents"`
	LoanCount   int64            `json:"loanCount"`
	ByEventType map[string]int64 `json:"byEventType"`
	ByActor     map[string]int64 `json:"byActor"`
}

// AuditService answers "what did this loan look like at time T" and "what
// happened to it, and why". It replays the same event stream the repository
// uses, through the same fold, so point-in-time state matches what the live
// system produced when the last included event committed.
type AuditService struct {
	store  *EventStore
	logger Logger
}

// AuditOption configures an AuditService.
type AuditOption func(*AuditService)

// WithAuditLogger sets the audit service logger.
func WithAuditLogger(l Logger) AuditOption {
	return func(s *AuditService) {
		s.logger = l
	}
}

// NewAuditService creates an audit service over the given store.
// The store's adapter must implement adapters.AuditQueryAdapter.
func NewAuditService(store *EventStore, opts ...AuditOption) *AuditService {
	s := &AuditService{
		store:  store,
		logger: &noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReconstructLoanAt rebuilds the loan's state as of pointInTime by folding
// every event with occurredAt <= pointInTime, and returns the state along
// with the events that produced it. Returns ErrAggregateNotFound when no
// event precedes the timestamp, and ErrFutureTimestamp when pointInTime is
// ahead of the clock.
func (s *AuditService) ReconstructLoanAt(ctx context.Context, loanID string, pointInTime time.Time) (*Loan, []Event, error) {
	if loanID == "" {
		return nil, nil, ErrEmptyAggregateID
	}
	if pointInTime.After(time.Now()) {
		return nil, nil, ErrFutureTimestamp
	}

	stored, err := s.store.LoadEventsByTimeRange(ctx, loanID, time.Time{}, pointInTime, 0)
	if err != nil {
		return nil, nil, err
	}
	if len(stored) == 0 {
		return nil, nil, ErrAggregateNotFound
	}

	loan := NewLoan(loanID)
	events := make([]Event, len(stored))
	for i, se := range stored {
		data, err := s.store.Serializer().Deserialize(se.Data, se.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("loanmaster: failed to deserialize event %d: %w", i, err)
		}
		if err := loan.ApplyEvent(data); err != nil {
			return nil, nil, fmt.Errorf("loanmaster: failed to apply event %d: %w", i, err)
		}
		events[i] = EventFromStored(se, data)
	}
	loan.SetVersion(stored[len(stored)-1].Version)
	loan.MarkLoaded()

	s.logger.Debug("reconstructed loan state",
		"aggregateId", loanID, "pointInTime", pointInTime, "version", loan.Version())
	return loan, events, nil
}

// History returns the audit trail for a loan within the closed window
// [since, until], ordered by occurrence time ascending and bounded by limit.
func (s *AuditService) History(ctx context.Context, loanID string, since, until time.Time, limit int) ([]AuditEntry, error) {
	if loanID == "" {
		return nil, ErrEmptyAggregateID
	}

	stored, err := s.store.LoadEventsByTimeRange(ctx, loanID, since, until, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]AuditEntry, len(stored))
	for i, se := range stored {
		data, err := s.store.Serializer().Deserialize(se.Data, se.Type)
		if err != nil {
			return nil, fmt.Errorf("loanmaster: failed to deserialize event %d: %w", i, err)
		}
		entries[i] = AuditEntry{
			EventID:       se.ID,
			LoanID:        se.AggregateID,
			EventType:     se.Type,
			Version:       se.Version,
			OccurredAt:    se.OccurredAt,
			ActorID:       se.Metadata.ActorID,
			CorrelationID: se.Metadata.CorrelationID,
			IPAddress:     se.Metadata.IPAddress,
			Data:          data,
		}
	}
	return entries, nil
}

// HistoryByType returns audit entries for one event type since a timestamp,
// across all loans.
func (s *AuditService) HistoryByType(ctx context.Context, eventType string, since time.Time, limit int) ([]AuditEntry, error) {
	if eventType == "" {
		return nil, NewValidationError("eventType", "required")
	}

	stored, err := s.store.LoadEventsByType(ctx, eventType, since, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]AuditEntry, len(stored))
	for i, se := range stored {
		data, err := s.store.Serializer().Deserialize(se.Data, se.Type)
		if err != nil {
			return nil, fmt.Errorf("loanmaster: failed to deserialize event %d: %w", i, err)
		}
		entries[i] = AuditEntry{
			EventID:       se.ID,
			LoanID:        se.AggregateID,
			EventType:     se.Type,
			Version:       se.Version,
			OccurredAt:    se.OccurredAt,
			ActorID:       se.Metadata.ActorID,
			CorrelationID: se.Metadata.CorrelationID,
			IPAddress:     se.Metadata.IPAddress,
			Data:          data,
		}
	}
	return entries, nil
}

// Report aggregates counts over the event log in [since, until]. It is a
// reporting view over the same data, not a new data source.
func (s *AuditService) Report(ctx context.Context, since, until time.Time) (*AuditReport, error) {
	stored, err := s.store.LoadEventsByTimeRange(ctx, "", since, until, 0)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{
		Since:       since,
		Until:       until,
		GeneratedAt: time.Now(),
		ByEventType: make(map[string]int64),
		ByActor:     make(map[string]int64),
	}

	loans := make(map[string]struct{})
	for _, se := range stored {
		report.TotalEvents++
		report.ByEventType[se.Type]++
		if se.Metadata.ActorID != "" {
			report.ByActor[se.Metadata.ActorID]++
		}
		loans[se.AggregateID] = struct{}{}
	}
	report.LoanCount = int64(len(loans))

	return report, nil
}
