package loanmaster

import (
	"context"
	"time"

	"github.com/dahovitech/loanmaster-sub001/adapters"
)

// IdempotencyConfig controls IdempotencyMiddleware.
type IdempotencyConfig struct {
	// TTL is how long processed-command records are retained. Expired
	// records no longer block reprocessing.
	TTL time.Duration

	// StoreFailures records failed commands too, so retries of a
	// permanently failing command short-circuit. Transient failures are
	// better left unrecorded; defaults to false.
	StoreFailures bool

	// ReturnStored replays the stored result for a duplicate instead of
	// returning ErrCommandAlreadyProcessed.
	ReturnStored bool
}

// DefaultIdempotencyConfig returns the default configuration.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:          24 * time.Hour,
		ReturnStored: true,
	}
}

// IdempotencyMiddleware deduplicates commands that implement
// IdempotentCommand with a non-empty key. Duplicates either replay the
// stored result or fail with ErrCommandAlreadyProcessed, per config.
// Commands without a key pass through untouched.
func IdempotencyMiddleware(store adapters.IdempotencyStore, config IdempotencyConfig, logger Logger) Middleware {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if logger == nil {
		logger = NoopLogger()
	}

	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			idempotent, ok := cmd.(IdempotentCommand)
			if !ok || idempotent.IdempotencyKey() == "" {
				return next(ctx, cmd)
			}
			key := idempotent.IdempotencyKey()

			existing, err := store.Get(ctx, key)
			if err != nil {
				return NewErrorResult(err), err
			}
			if existing != nil && !existing.IsExpired() {
				logger.Debug("duplicate command suppressed",
					"commandType", cmd.CommandType(),
					"idempotencyKey", key)
				if config.ReturnStored {
					return resultFromRecord(existing), nil
				}
				return NewErrorResult(ErrCommandAlreadyProcessed), ErrCommandAlreadyProcessed
			}

			result, err := next(ctx, cmd)
			if err != nil && !config.StoreFailures {
				return result, err
			}

			now := time.Now().UTC()
			record := &adapters.IdempotencyRecord{
				Key:         key,
				CommandType: cmd.CommandType(),
				AggregateID: result.AggregateID,
				Version:     result.Version,
				Success:     err == nil,
				ProcessedAt: now,
				ExpiresAt:   now.Add(config.TTL),
			}
			if err != nil {
				record.Error = err.Error()
			}
			if storeErr := store.Store(ctx, record); storeErr != nil {
				// The command itself succeeded; a failed record write only
				// weakens dedup, so log and return the real outcome.
				logger.Error("failed to store idempotency record",
					"commandType", cmd.CommandType(),
					"idempotencyKey", key,
					"error", storeErr)
			}
			return result, err
		}
	}
}

func resultFromRecord(record *adapters.IdempotencyRecord) CommandResult {
	result := CommandResult{
		Success:     record.Success,
		AggregateID: record.AggregateID,
		Version:     record.Version,
	}
	if record.Error != "" {
		result.Error = ErrCommandAlreadyProcessed
	}
	return result
}
