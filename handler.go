package loanmaster

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommandHandler processes a single command type.
type CommandHandler interface {
	// Handle executes the command and returns a result.
	Handle(ctx context.Context, cmd Command) (CommandResult, error)

	// CommandType returns the type of command this handler processes.
	CommandType() string
}

// CommandHandlerFunc adapts a function to the CommandHandler interface.
type CommandHandlerFunc struct {
	Type string
	Func func(ctx context.Context, cmd Command) (CommandResult, error)
}

func (h CommandHandlerFunc) Handle(ctx context.Context, cmd Command) (CommandResult, error) {
	return h.Func(ctx, cmd)
}

func (h CommandHandlerFunc) CommandType() string {
	return h.Type
}

// NewHandlerFunc creates a CommandHandler from a function.
func NewHandlerFunc(commandType string, fn func(ctx context.Context, cmd Command) (CommandResult, error)) CommandHandler {
	return CommandHandlerFunc{Type: commandType, Func: fn}
}

// GenericHandler wraps a typed handler function, taking care of the type
// assertion from the bus.
type GenericHandler[C Command] struct {
	commandType string
	handle      func(ctx context.Context, cmd C) (CommandResult, error)
}

// NewGenericHandler creates a typed command handler. The command type is
// taken from the zero value of C.
func NewGenericHandler[C Command](handle func(ctx context.Context, cmd C) (CommandResult, error)) *GenericHandler[C] {
	var zero C
	return &GenericHandler[C]{
		commandType: zero.CommandType(),
		handle:      handle,
	}
}

func (h *GenericHandler[C]) CommandType() string {
	return h.commandType
}

func (h *GenericHandler[C]) Handle(ctx context.Context, cmd Command) (CommandResult, error) {
	typed, ok := cmd.(C)
	if !ok {
		err := fmt.Errorf("loanmaster: handler for %q received %T", h.commandType, cmd)
		return NewErrorResult(err), err
	}
	return h.handle(ctx, typed)
}

var _ CommandHandler = (*GenericHandler[SubmitLoanApplication])(nil)

// LoanCommandHandlers executes loan commands against the repository: load the
// aggregate, invoke the business method, save the new events.
type LoanCommandHandlers struct {
	repo  *LoanRepository
	clock func() time.Time
	newID func() string
}

// LoanHandlerOption configures LoanCommandHandlers.
type LoanHandlerOption func(*LoanCommandHandlers)

// WithHandlerClock overrides the time source used for event timestamps.
func WithHandlerClock(clock func() time.Time) LoanHandlerOption {
	return func(h *LoanCommandHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHandlerIDGenerator overrides how new loan IDs are generated.
func WithHandlerIDGenerator(newID func() string) LoanHandlerOption {
	return func(h *LoanCommandHandlers) {
		if newID != nil {
			h.newID = newID
		}
	}
}

// NewLoanCommandHandlers creates the handler set for all loan commands.
func NewLoanCommandHandlers(repo *LoanRepository, opts ...LoanHandlerOption) *LoanCommandHandlers {
	h := &LoanCommandHandlers{
		repo:  repo,
		clock: time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterAll registers every loan command handler on the bus.
func (h *LoanCommandHandlers) RegisterAll(bus *CommandBus) error {
	handlers := []CommandHandler{
		NewGenericHandler(h.HandleSubmit),
		NewGenericHandler(h.HandleAssessRisk),
		NewGenericHandler(h.HandleApprove),
		NewGenericHandler(h.HandleReject),
		NewGenericHandler(h.HandleFund),
		NewGenericHandler(h.HandleActivate),
		NewGenericHandler(h.HandleReceivePayment),
		NewGenericHandler(h.HandleCancel),
		NewGenericHandler(h.HandleMarkDefaulted),
	}
	for _, handler := range handlers {
		if err := bus.Register(handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *LoanCommandHandlers) HandleSubmit(ctx context.Context, cmd SubmitLoanApplication) (CommandResult, error) {
	loanID := cmd.LoanID
	if loanID == "" {
		loanID = h.newID()
	}

	loan := NewLoan(loanID)
	if err := loan.Submit(cmd.Applicant, cmd.RequestedAmount, cmd.Currency, cmd.DurationMonths, cmd.Purpose, h.clock()); err != nil {
		return NewErrorResult(err), err
	}

	return h.save(ctx, loan, cmd.CommandBase)
}

func (h *LoanCommandHandlers) HandleAssessRisk(ctx context.Context, cmd AssessLoanRisk) (CommandResult, error) {
	return h.mutate(ctx, cmd.LoanID, cmd.CommandBase, func(loan *Loan) error {
		return loan.AssessRisk(cmd.Score, cmd.Grade, cmd.DebtToIncome, cmd.AssessedBy)
	})
}

func (h *LoanCommandHandlers) HandleApprove(ctx context.Context, cmd ApproveLoan) (CommandResult, error) {
	return h.mutate(ctx, cmd.LoanID, cmd.CommandBase, func(loan *Loan) error {
		return loan.Approve(cmd.Reason)
	})
}

func (h *LoanCommandHandlers) HandleReject(ctx context.Context, cmd RejectLoan) (CommandResult, error) {
	return h.mutate(ctx, cmd.LoanID, cmd.CommandBase, func(loan *Loan) error {
		return loan.Reject(cmd.Reason)
	})
}

func (h *LoanCommandHandlers) HandleFund(ctx context.Context, cmd FundLoan) (CommandResult, error) {
	fundedAt := cmd.FundedAt
	if fundedAt.IsZero() {
		fundedAt = h.clock()
	}
	return h.mutate(ctx, cmd.LoanID, cmd.CommandBase, func(loan *Loan) error {
		return loan.Fund(cmd.Amount, cmd.InterestRateBps, fundedAt)
	})
}

func (h *LoanCommandHandlers) HandleActivate(ctx context.Context, cmd ActivateLoan) (CommandResult, error) {
	return h.mutate(ctx, cmd.LoanID, cmd.CommandBase, func(loan *Loan) error {
		return loan.Activate(cmd.Reason)
	})
}

func (h *LoanCommandHandlers) HandleReceivePayment(ctx context.Context, cmd ReceiveLoanPayment) (CommandResult, error) {
	receivedAt := cmd.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = h.clock()
	}
	return h.mutate(ctx, cmd.LoanID, cmd.CommandBase, func(loan *Loan) error {
		return loan.ReceivePayment(cmd.Amount, cmd.Principal, cmd.Interest, receivedAt)
	})
}

func (h *LoanCommandHandlers) HandleCancel(ctx context.Context, cmd CancelLoan) (CommandResult, error) {
	return h.mutate(ctx, cmd.LoanID, cmd.CommandBase, func(loan *Loan) error {
		return loan.Cancel(cmd.Reason)
	})
}

func (h *LoanCommandHandlers) HandleMarkDefaulted(ctx context.Context, cmd MarkLoanDefaulted) (CommandResult, error) {
	return h.mutate(ctx, cmd.LoanID, cmd.CommandBase, func(loan *Loan) error {
		return loan.MarkDefaulted(cmd.Reason)
	})
}

func (h *LoanCommandHandlers) mutate(ctx context.Context, loanID string, base CommandBase, fn func(loan *Loan) error) (CommandResult, error) {
	loan, err := h.repo.Load(ctx, loanID)
	if err != nil {
		return NewErrorResult(err), err
	}
	if err := fn(loan); err != nil {
		return NewErrorResult(err), err
	}
	return h.save(ctx, loan, base)
}

func (h *LoanCommandHandlers) save(ctx context.Context, loan *Loan, base CommandBase) (CommandResult, error) {
	if err := h.repo.Save(ctx, loan, WithAppendMetadata(base.EventMetadata())); err != nil {
		return NewErrorResult(err), err
	}
	return NewSuccessResult(loan.AggregateID(), loan.Version()), nil
}
