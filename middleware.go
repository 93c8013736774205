package loanmaster

import (
	"context"
	"errors"
	"runtime/debug"
	"time"
)

// ValidationMiddleware rejects invalid commands before they reach a handler.
func ValidationMiddleware() Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			if err := cmd.Validate(); err != nil {
				return NewErrorResult(err), err
			}
			return next(ctx, cmd)
		}
	}
}

// RecoveryMiddleware converts handler panics into PanicError results so a
// single bad command cannot take down the caller.
func RecoveryMiddleware(logger Logger) Middleware {
	if logger == nil {
		logger = NoopLogger()
	}
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, cmd Command) (result CommandResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					stack := string(debug.Stack())
					logger.Error("command handler panicked",
						"commandType", cmd.CommandType(),
						"panic", r)
					err = NewPanicError(cmd.CommandType(), r, stack)
					result = NewErrorResult(err)
				}
			}()
			return next(ctx, cmd)
		}
	}
}

// LoggingMiddleware logs each dispatch with its duration and outcome.
func LoggingMiddleware(logger Logger) Middleware {
	if logger == nil {
		logger = NoopLogger()
	}
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			start := time.Now()
			result, err := next(ctx, cmd)
			elapsed := time.Since(start)
			if err != nil {
				logger.Error("command failed",
					"commandType", cmd.CommandType(),
					"duration", elapsed,
					"error", err)
				return result, err
			}
			logger.Info("command executed",
				"commandType", cmd.CommandType(),
				"aggregateId", result.AggregateID,
				"version", result.Version,
				"duration", elapsed)
			return result, nil
		}
	}
}

// TimeoutMiddleware bounds handler execution time.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, cmd)
		}
	}
}

// RetryConfig controls RetryMiddleware.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. It doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns sensible defaults for concurrency retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   25 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}
}

// RetryMiddleware re-dispatches a command when the handler loses an
// optimistic concurrency race. The handler reloads the aggregate on each
// attempt, so the command is re-applied against fresh state. Other errors
// are returned immediately.
func RetryMiddleware(config RetryConfig, logger Logger) Middleware {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 25 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = NoopLogger()
	}

	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			var result CommandResult
			var err error

			delay := config.BaseDelay
			for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
				result, err = next(ctx, cmd)
				if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
					return result, err
				}
				if attempt == config.MaxAttempts {
					break
				}

				logger.Warn("concurrency conflict, retrying command",
					"commandType", cmd.CommandType(),
					"attempt", attempt,
					"delay", delay)

				select {
				case <-ctx.Done():
					return NewErrorResult(ctx.Err()), ctx.Err()
				case <-time.After(delay):
				}
				delay *= 2
				if delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			}
			return result, err
		}
	}
}
