package loanmaster

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Projection transforms committed events into an optimized read model.
type Projection interface {
	// Name returns the unique identifier for this projection,
	// used for checkpointing and management.
	Name() string

	// HandledEvents returns the event types this projection handles.
	// An empty list means all event types.
	HandledEvents() []string

	// Apply processes a single committed event. Apply must be idempotent:
	// delivering the same event twice must not change the result beyond
	// the first application.
	Apply(ctx context.Context, event StoredEvent) error
}

// ProjectionBase provides a default partial implementation of Projection.
type ProjectionBase struct {
	name          string
	handledEvents []string
}

// NewProjectionBase creates a new ProjectionBase.
func NewProjectionBase(name string, handledEvents ...string) ProjectionBase {
	return ProjectionBase{
		name:          name,
		handledEvents: handledEvents,
	}
}

// Name returns the projection name.
func (p *ProjectionBase) Name() string {
	return p.name
}

// HandledEvents returns the event types this projection handles.
func (p *ProjectionBase) HandledEvents() []string {
	return p.handledEvents
}

// HandlesEvent returns true if this projection handles the given event type.
func (p *ProjectionBase) HandlesEvent(eventType string) bool {
	if len(p.handledEvents) == 0 {
		return true
	}
	for _, et := range p.handledEvents {
		if et == eventType {
			return true
		}
	}
	return false
}

// LoanSummary is the denormalized current-state row for one loan.
// It is a cache over the event stream, never authoritative: it must always
// equal the fold of all committed events and is fully rebuildable.
type LoanSummary struct {
	LoanID           string     `json:"loanId"`
	BorrowerID       string     `json:"borrowerId"`
	PrincipalCents   int64      `json:"principalCents"`
	OutstandingCents int64      `json:"outstandingCents"`
	TotalPaidCents   int64      `json:"totalPaidCents"`
	Currency         string     `json:"currency"`
	Status           LoanStatus `json:"status"`
	RiskGrade        string     `json:"riskGrade,omitempty"`

	// LastVersion is the aggregate version of the last applied event;
	// the idempotency guard that makes at-least-once delivery safe.
	LastVersion int64 `json:"lastVersion"`

	// LastPosition is the global position of the last applied event.
	LastPosition uint64 `json:"lastPosition"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// SummaryRepository persists LoanSummary rows. Save must silently drop
// writes whose LastVersion does not advance the stored row, so concurrent
// or redelivered applies can race harmlessly.
type SummaryRepository interface {
	// Get retrieves the summary for a loan. Returns ErrNotFound if absent.
	Get(ctx context.Context, loanID string) (*LoanSummary, error)

	// Save upserts a summary. Writes with LastVersion <= the stored row's
	// are dropped without error.
	Save(ctx context.Context, summary *LoanSummary) error

	// ListByStatus returns summaries with the given status, most recently
	// updated first, bounded by limit.
	ListByStatus(ctx context.Context, status LoanStatus, limit int) ([]*LoanSummary, error)

	// Delete removes the summary for a loan. Returns ErrNotFound if absent.
	Delete(ctx context.Context, loanID string) error

	// Truncate removes all summaries.
	Truncate(ctx context.Context) error

	// Count returns the number of summaries.
	Count(ctx context.Context) (int64, error)
}

// InMemorySummaryRepository is a SummaryRepository backed by a map.
// Useful for tests and prototyping.
type InMemorySummaryRepository struct {
	mu   sync.RWMutex
	rows map[string]*LoanSummary
}

var _ SummaryRepository = (*InMemorySummaryRepository)(nil)

// NewInMemorySummaryRepository creates an empty in-memory repository.
func NewInMemorySummaryRepository() *InMemorySummaryRepository {
	return &InMemorySummaryRepository{
		rows: make(map[string]*LoanSummary),
	}
}

// Get retrieves the summary for a loan.
func (r *InMemorySummaryRepository) Get(ctx context.Context, loanID string) (*LoanSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[loanID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *row
	return &copied, nil
}

// Save upserts a summary, dropping writes that do not advance LastVersion.
func (r *InMemorySummaryRepository) Save(ctx context.Context, summary *LoanSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rows[summary.LoanID]; ok && summary.LastVersion <= existing.LastVersion {
		return nil
	}
	copied := *summary
	r.rows[summary.LoanID] = &copied
	return nil
}

// ListByStatus returns summaries with the given status.
func (r *InMemorySummaryRepository) ListByStatus(ctx context.Context, status LoanStatus, limit int) ([]*LoanSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*LoanSummary
	for _, row := range r.rows {
		if row.Status != status {
			continue
		}
		copied := *row
		results = append(results, &copied)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Delete removes the summary for a loan.
func (r *InMemorySummaryRepository) Delete(ctx context.Context, loanID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[loanID]; !ok {
		return ErrNotFound
	}
	delete(r.rows, loanID)
	return nil
}

// Truncate removes all summaries.
func (r *InMemorySummaryRepository) Truncate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = make(map[string]*LoanSummary)
	return nil
}

// Count returns the number of summaries.
func (r *InMemorySummaryRepository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.rows)), nil
}

// LoanSummaryProjectionName identifies the loan summary projection for
// checkpointing.
const LoanSummaryProjectionName = "loan_summary"

// LoanSummaryProjection maintains the LoanSummary read model.
// It can run inline (as a repository subscriber) or asynchronously behind
// the projection engine; the per-row LastVersion guard makes both paths
// tolerate redelivery and reordering within one aggregate.
type LoanSummaryProjection struct {
	ProjectionBase
	repo       SummaryRepository
	serializer Serializer
	logger     Logger
}

var _ Projection = (*LoanSummaryProjection)(nil)
var _ EventSubscriber = (*LoanSummaryProjection)(nil)

// ProjectionOption configures a LoanSummaryProjection.
type ProjectionOption func(*LoanSummaryProjection)

// WithProjectionLogger sets the projection logger.
func WithProjectionLogger(l Logger) ProjectionOption {
	return func(p *LoanSummaryProjection) {
		p.logger = l
	}
}

// WithProjectionSerializer sets the serializer used to decode event payloads.
func WithProjectionSerializer(s Serializer) ProjectionOption {
	return func(p *LoanSummaryProjection) {
		p.serializer = s
	}
}

// NewLoanSummaryProjection creates the loan summary projection over the
// given repository.
func NewLoanSummaryProjection(repo SummaryRepository, opts ...ProjectionOption) *LoanSummaryProjection {
	js := NewJSONSerializer()
	RegisterLoanEvents(js.Registry())

	p := &LoanSummaryProjection{
		ProjectionBase: NewProjectionBase(LoanSummaryProjectionName),
		repo:           repo,
		serializer:     js,
		logger:         &noopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Repository returns the underlying summary repository.
func (p *LoanSummaryProjection) Repository() SummaryRepository {
	return p.repo
}

// HandleEvent implements EventSubscriber for inline delivery.
func (p *LoanSummaryProjection) HandleEvent(ctx context.Context, event StoredEvent) error {
	return p.Apply(ctx, event)
}

// Apply folds one committed event into the loan's summary row.
// Events at or below the row's LastVersion are skipped, which makes the
// apply path idempotent under at-least-once delivery.
func (p *LoanSummaryProjection) Apply(ctx context.Context, event StoredEvent) error {
	summary, err := p.repo.Get(ctx, event.AggregateID)
	if err == ErrNotFound {
		summary = &LoanSummary{LoanID: event.AggregateID}
	} else if err != nil {
		return err
	}

	if event.Version <= summary.LastVersion {
		p.logger.Debug("projection skipped stale event",
			"aggregateId", event.AggregateID, "version", event.Version,
			"lastVersion", summary.LastVersion)
		return nil
	}

	data, err := p.serializer.Deserialize(event.Data, event.Type)
	if err != nil {
		return err
	}

	p.fold(summary, data)
	summary.LastVersion = event.Version
	summary.LastPosition = event.GlobalPosition
	summary.UpdatedAt = event.OccurredAt

	return p.repo.Save(ctx, summary)
}

// fold mirrors Loan.ApplyEvent for the denormalized row. Unknown event
// types only advance the version bookkeeping.
func (p *LoanSummaryProjection) fold(summary *LoanSummary, data interface{}) {
	switch e := data.(type) {
	case LoanApplicationSubmitted:
		summary.BorrowerID = e.Applicant
		summary.PrincipalCents = e.RequestedAmount
		summary.Currency = e.Currency
		summary.Status = StatusPending

	case LoanRiskAssessed:
		summary.RiskGrade = e.Grade
		summary.Status = StatusUnderReview

	case LoanStatusChanged:
		summary.Status = e.To

	case LoanFunded:
		summary.PrincipalCents = e.Amount
		summary.OutstandingCents = e.Amount
		summary.Status = StatusFunded

	case LoanPaymentReceived:
		summary.OutstandingCents -= e.Principal
		summary.TotalPaidCents += e.Amount
	}

	if summary.Currency == "" {
		summary.Currency = DefaultCurrency
	}
}

// Rebuild drops the summary row for a loan and replays its full event
// stream. Used for disaster recovery or read-model schema migration.
func (p *LoanSummaryProjection) Rebuild(ctx context.Context, store *EventStore, loanID string) error {
	if loanID == "" {
		return ErrEmptyAggregateID
	}

	if err := p.repo.Delete(ctx, loanID); err != nil && err != ErrNotFound {
		return err
	}

	events, err := store.LoadRaw(ctx, loanID, 0)
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := p.Apply(ctx, event); err != nil {
			return err
		}
	}

	p.logger.Info("projection rebuilt", "aggregateId", loanID, "events", len(events))
	return nil
}

// CheckDrift compares the summary row's LastVersion against the event
// store's latest version for the loan. When the lag exceeds threshold it
// returns a ProjectionDriftError; Rebuild is the recovery path.
func (p *LoanSummaryProjection) CheckDrift(ctx context.Context, store *EventStore, loanID string, threshold int64) error {
	latest, err := store.GetLastVersion(ctx, loanID)
	if err != nil {
		return err
	}

	var applied int64
	summary, err := p.repo.Get(ctx, loanID)
	if err == nil {
		applied = summary.LastVersion
	} else if err != ErrNotFound {
		return err
	}

	if latest-applied > threshold {
		return NewProjectionDriftError(p.Name(), loanID,
			fmt.Sprintf("read model at version %d, store at version %d", applied, latest))
	}
	return nil
}
