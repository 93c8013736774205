package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
	"github.com/dahovitech/loanmaster-sub001/adapters"
	"github.com/dahovitech/loanmaster-sub001/adapters/memory"
	"github.com/dahovitech/loanmaster-sub001/adapters/postgres"
	"github.com/dahovitech/loanmaster-sub001/cli/config"
)

// CLIAdapter combines the adapter capabilities the CLI commands use.
// Both the postgres and memory adapters satisfy it.
type CLIAdapter interface {
	adapters.EventStoreAdapter
	adapters.AuditQueryAdapter
	adapters.SubscriptionAdapter
	adapters.SnapshotAdapter
	adapters.CheckpointAdapter
	adapters.HealthChecker
}

var (
	_ CLIAdapter = (*postgres.PostgresAdapter)(nil)
	_ CLIAdapter = (*memory.MemoryAdapter)(nil)
)

// AdapterFactory creates the configured storage adapter.
type AdapterFactory struct {
	config *config.Config
	dbURL  string
}

// NewAdapterFactory creates an adapter factory from config. The database URL
// supports ${VAR} expansion from the environment.
func NewAdapterFactory(cfg *config.Config) (*AdapterFactory, error) {
	dbURL := os.ExpandEnv(cfg.Database.URL)
	if cfg.Database.Driver != "memory" && (dbURL == "" || dbURL == "${DATABASE_URL}") {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}
	return &AdapterFactory{config: cfg, dbURL: dbURL}, nil
}

// CreateAdapter creates the adapter named by the driver config. Postgres
// connections are pinged with a short timeout to fail fast on bad URLs.
func (f *AdapterFactory) CreateAdapter(ctx context.Context) (CLIAdapter, error) {
	switch f.config.Database.Driver {
	case "postgres", "postgresql":
		adapter, err := postgres.NewAdapter(f.dbURL, postgres.WithSchema(f.config.Database.Schema))
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres adapter: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := adapter.Ping(pingCtx); err != nil {
			_ = adapter.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return adapter, nil

	case "memory":
		return memory.NewAdapter(), nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", f.config.Database.Driver)
	}
}

// IsMemoryDriver reports whether the memory driver is configured.
func (f *AdapterFactory) IsMemoryDriver() bool {
	return f.config.Database.Driver == "memory"
}

// loadConfig loads config by walking up from the working directory.
func loadConfig() (*config.Config, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}
	_, cfg, err := config.FindConfig(cwd)
	if err != nil {
		return nil, cwd, err
	}
	return cfg, cwd, nil
}

// getAdapterWithConfig loads config and creates the adapter plus a cleanup
// function.
func getAdapterWithConfig(ctx context.Context) (CLIAdapter, *config.Config, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("no %s found: %w", config.ConfigFileName, err)
	}

	factory, err := NewAdapterFactory(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	adapter, err := factory.CreateAdapter(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() { _ = adapter.Close() }
	return adapter, cfg, cleanup, nil
}

// newSummaryRepository creates the read model repository matching the adapter.
func newSummaryRepository(adapter CLIAdapter) loanmaster.SummaryRepository {
	if pg, ok := adapter.(*postgres.PostgresAdapter); ok {
		return postgres.NewLoanSummaryRepositoryFromAdapter(pg)
	}
	return loanmaster.NewInMemorySummaryRepository()
}
