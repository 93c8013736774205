// loanmaster is the command-line interface for the event-sourced loan ledger.
//
// Usage:
//
//	loanmaster <command> [flags]
//
// Commands:
//
//	init        Create a loanmaster.yaml configuration file
//	migrate     Manage the event store schema
//	projection  Inspect and rebuild read model projections
//	audit       Audit trail and point-in-time queries
//	diagnose    Check configuration and storage health
//	version     Show version information
//
// Examples:
//
//	# Initialize a project
//	loanmaster init
//
//	# Apply schema migrations
//	loanmaster migrate up
//
//	# Rebuild the loan summary read model
//	loanmaster projection rebuild
//
//	# Reconstruct a loan as of last quarter
//	loanmaster audit at loan-123 --at 2026-06-30
package main

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dahovitech/loanmaster-sub001/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	// LOANMASTER_TRACE=1 dumps spans to stderr, useful when debugging
	// slow rebuilds or migrations.
	var shutdown func()
	if os.Getenv("LOANMASTER_TRACE") != "" {
		var err error
		if shutdown, err = setupTracing(); err != nil {
			fmt.Fprintf(os.Stderr, "tracing disabled: %v\n", err)
		}
	}

	err := commands.Execute()
	if shutdown != nil {
		shutdown()
	}
	if err != nil {
		os.Exit(1)
	}
}

func setupTracing() (func(), error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)

	return func() {
		_ = tp.Shutdown(context.Background())
	}, nil
}
