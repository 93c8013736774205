package loanmaster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBus_Register(t *testing.T) {
	t.Run("registers and reports handlers", func(t *testing.T) {
		bus := NewCommandBus()
		err := bus.RegisterFunc("ApproveLoan", func(ctx context.Context, cmd Command) (CommandResult, error) {
			return NewSuccessResult("loan-1", 1), nil
		})

		require.NoError(t, err)
		assert.True(t, bus.HasHandler("ApproveLoan"))
		assert.False(t, bus.HasHandler("RejectLoan"))
		assert.Equal(t, []string{"ApproveLoan"}, bus.HandlerTypes())
	})

	t.Run("rejects duplicate registration", func(t *testing.T) {
		bus := NewCommandBus()
		noop := func(ctx context.Context, cmd Command) (CommandResult, error) {
			return CommandResult{}, nil
		}
		require.NoError(t, bus.RegisterFunc("ApproveLoan", noop))
		assert.ErrorIs(t, bus.RegisterFunc("ApproveLoan", noop), ErrHandlerAlreadyRegistered)
	})

	t.Run("rejects nil handler", func(t *testing.T) {
		bus := NewCommandBus()
		assert.ErrorIs(t, bus.Register(nil), ErrNilHandler)
	})

	t.Run("rejects empty command type", func(t *testing.T) {
		bus := NewCommandBus()
		err := bus.RegisterFunc("", func(ctx context.Context, cmd Command) (CommandResult, error) {
			return CommandResult{}, nil
		})
		assert.ErrorIs(t, err, ErrEmptyCommandType)
	})

	t.Run("rejects registration after close", func(t *testing.T) {
		bus := NewCommandBus()
		require.NoError(t, bus.Close())
		err := bus.RegisterFunc("ApproveLoan", func(ctx context.Context, cmd Command) (CommandResult, error) {
			return CommandResult{}, nil
		})
		assert.ErrorIs(t, err, ErrCommandBusClosed)
	})
}

func TestCommandBus_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("routes to the registered handler", func(t *testing.T) {
		bus := NewCommandBus()
		require.NoError(t, bus.RegisterFunc("ApproveLoan", func(ctx context.Context, cmd Command) (CommandResult, error) {
			approve, ok := cmd.(ApproveLoan)
			require.True(t, ok)
			return NewSuccessResult(approve.LoanID, 3), nil
		}))

		result, err := bus.Dispatch(ctx, ApproveLoan{LoanID: "loan-1"})
		require.NoError(t, err)
		assert.True(t, result.IsSuccess())
		assert.Equal(t, "loan-1", result.AggregateID)
		assert.Equal(t, int64(3), result.Version)
	})

	t.Run("nil command", func(t *testing.T) {
		bus := NewCommandBus()
		_, err := bus.Dispatch(ctx, nil)
		assert.ErrorIs(t, err, ErrNilCommand)
	})

	t.Run("unregistered command type", func(t *testing.T) {
		bus := NewCommandBus()
		_, err := bus.Dispatch(ctx, ApproveLoan{LoanID: "loan-1"})
		assert.ErrorIs(t, err, ErrHandlerNotFound)

		var notFound *HandlerNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "ApproveLoan", notFound.CommandType)
	})

	t.Run("closed bus", func(t *testing.T) {
		bus := NewCommandBus()
		require.NoError(t, bus.Close())
		_, err := bus.Dispatch(ctx, ApproveLoan{LoanID: "loan-1"})
		assert.ErrorIs(t, err, ErrCommandBusClosed)
	})
}

func TestCommandBus_Middleware(t *testing.T) {
	ctx := context.Background()

	t.Run("applies middleware in registration order", func(t *testing.T) {
		var order []string
		tag := func(name string) Middleware {
			return func(next DispatchFunc) DispatchFunc {
				return func(ctx context.Context, cmd Command) (CommandResult, error) {
					order = append(order, name)
					return next(ctx, cmd)
				}
			}
		}

		bus := NewCommandBus(WithMiddleware(tag("outer"), tag("inner")))
		require.NoError(t, bus.RegisterFunc("ApproveLoan", func(ctx context.Context, cmd Command) (CommandResult, error) {
			order = append(order, "handler")
			return CommandResult{Success: true}, nil
		}))

		_, err := bus.Dispatch(ctx, ApproveLoan{LoanID: "loan-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"outer", "inner", "handler"}, order)
	})

	t.Run("Use adds middleware after construction", func(t *testing.T) {
		bus := NewCommandBus()
		calls := 0
		bus.Use(func(next DispatchFunc) DispatchFunc {
			return func(ctx context.Context, cmd Command) (CommandResult, error) {
				calls++
				return next(ctx, cmd)
			}
		})
		require.NoError(t, bus.RegisterFunc("ApproveLoan", func(ctx context.Context, cmd Command) (CommandResult, error) {
			return CommandResult{Success: true}, nil
		}))

		_, err := bus.Dispatch(ctx, ApproveLoan{LoanID: "loan-1"})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestCommandBus_DispatchAll(t *testing.T) {
	ctx := context.Background()

	t.Run("stops at the first failure", func(t *testing.T) {
		bus := NewCommandBus()
		handlerErr := errors.New("loan not found")
		require.NoError(t, bus.RegisterFunc("ApproveLoan", func(ctx context.Context, cmd Command) (CommandResult, error) {
			return NewSuccessResult(cmd.(ApproveLoan).LoanID, 1), nil
		}))
		require.NoError(t, bus.RegisterFunc("RejectLoan", func(ctx context.Context, cmd Command) (CommandResult, error) {
			return NewErrorResult(handlerErr), handlerErr
		}))

		results, err := bus.DispatchAll(ctx,
			ApproveLoan{LoanID: "loan-1"},
			RejectLoan{LoanID: "loan-2", Reason: "fraud"},
			ApproveLoan{LoanID: "loan-3"},
		)

		assert.ErrorIs(t, err, handlerErr)
		require.Len(t, results, 2)
		assert.True(t, results[0].IsSuccess())
		assert.True(t, results[1].IsError())
	})
}

func TestCommandBus_DispatchAsync(t *testing.T) {
	bus := NewCommandBus()
	require.NoError(t, bus.RegisterFunc("ApproveLoan", func(ctx context.Context, cmd Command) (CommandResult, error) {
		return NewSuccessResult("loan-1", 1), nil
	}))

	result := <-bus.DispatchAsync(context.Background(), ApproveLoan{LoanID: "loan-1"})
	require.NoError(t, result.Err)
	assert.True(t, result.Result.IsSuccess())
}

func TestGenericHandler(t *testing.T) {
	t.Run("derives command type from the type parameter", func(t *testing.T) {
		handler := NewGenericHandler(func(ctx context.Context, cmd ApproveLoan) (CommandResult, error) {
			return NewSuccessResult(cmd.LoanID, 1), nil
		})
		assert.Equal(t, "ApproveLoan", handler.CommandType())
	})

	t.Run("rejects mismatched command", func(t *testing.T) {
		handler := NewGenericHandler(func(ctx context.Context, cmd ApproveLoan) (CommandResult, error) {
			return CommandResult{}, nil
		})
		_, err := handler.Handle(context.Background(), RejectLoan{LoanID: "loan-1", Reason: "fraud"})
		assert.Error(t, err)
	})
}
