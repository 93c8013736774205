package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
	"github.com/dahovitech/loanmaster-sub001/adapters"
	"github.com/dahovitech/loanmaster-sub001/cli/config"
	"github.com/dahovitech/loanmaster-sub001/cli/styles"
)

func newDiagnoseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check configuration and storage health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			failures := 0

			cfg, _, err := loadConfig()
			if err != nil {
				fmt.Println(styles.FormatError(fmt.Sprintf("config: no %s found (%v)", config.ConfigFileName, err)))
				return fmt.Errorf("diagnostics failed")
			}
			fmt.Println(styles.FormatSuccess("config: " + config.ConfigFileName + " found"))

			if problems := cfg.Validate(); len(problems) > 0 {
				for _, problem := range problems {
					fmt.Println(styles.FormatError("config: " + problem))
				}
				failures++
			} else {
				fmt.Println(styles.FormatSuccess("config: valid"))
			}

			factory, err := NewAdapterFactory(cfg)
			if err != nil {
				fmt.Println(styles.FormatError("database: " + err.Error()))
				return fmt.Errorf("diagnostics failed")
			}

			adapter, err := factory.CreateAdapter(ctx)
			if err != nil {
				fmt.Println(styles.FormatError("database: " + err.Error()))
				return fmt.Errorf("diagnostics failed")
			}
			defer func() { _ = adapter.Close() }()

			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = adapter.Ping(pingCtx)
			cancel()
			if err != nil {
				fmt.Println(styles.FormatError("database: ping failed: " + err.Error()))
				failures++
			} else {
				fmt.Println(styles.FormatSuccess("database: reachable (" + cfg.Database.Driver + ")"))
			}

			if migrator, ok := adapter.(adapters.Migrator); ok {
				version, err := migrator.MigrationVersion(ctx)
				switch {
				case err != nil:
					fmt.Println(styles.FormatError("schema: " + err.Error()))
					failures++
				case version == 0:
					fmt.Println(styles.FormatWarning("schema: not migrated, run `loanmaster migrate up`"))
				default:
					fmt.Println(styles.FormatSuccess(fmt.Sprintf("schema: migration version %d", version)))
				}
			} else {
				fmt.Println(styles.FormatInfo("schema: none (in-memory driver)"))
			}

			store := loanmaster.New(adapter)
			head, err := store.GetLastPosition(ctx)
			if err != nil {
				fmt.Println(styles.FormatError("event log: " + err.Error()))
				failures++
			} else {
				fmt.Println(styles.FormatSuccess(fmt.Sprintf("event log: %d events", head)))
			}

			checkpoint, err := adapter.GetCheckpoint(ctx, loanmaster.LoanSummaryProjectionName)
			if err != nil {
				fmt.Println(styles.FormatError("projections: " + err.Error()))
				failures++
			} else if lag := head - checkpoint; lag > 0 {
				fmt.Println(styles.FormatWarning(fmt.Sprintf("projections: %s is %d events behind", loanmaster.LoanSummaryProjectionName, lag)))
			} else {
				fmt.Println(styles.FormatSuccess("projections: up to date"))
			}

			if failures > 0 {
				return fmt.Errorf("%d diagnostic check(s) failed", failures)
			}
			return nil
		},
	}
}
