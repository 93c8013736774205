package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dahovitech/loanmaster-sub001/adapters"
	"github.com/dahovitech/loanmaster-sub001/cli/styles"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the event store schema",
	}
	cmd.AddCommand(newMigrateUpCommand(), newMigrateStatusCommand())
	return cmd
}

func newMigrateUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			adapter, cfg, cleanup, err := getAdapterWithConfig(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			migrator, ok := adapter.(adapters.Migrator)
			if !ok {
				fmt.Println(styles.FormatInfo(fmt.Sprintf("the %s driver has no schema, nothing to migrate", cfg.Database.Driver)))
				return nil
			}

			before, err := migrator.MigrationVersion(ctx)
			if err != nil {
				return fmt.Errorf("failed to read migration version: %w", err)
			}

			if err := migrator.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			after, err := migrator.MigrationVersion(ctx)
			if err != nil {
				return fmt.Errorf("failed to read migration version: %w", err)
			}

			if after == before {
				fmt.Println(styles.FormatSuccess(fmt.Sprintf("schema up to date at version %d", after)))
			} else {
				fmt.Println(styles.FormatSuccess(fmt.Sprintf("migrated schema from version %d to %d", before, after)))
			}
			return nil
		},
	}
}

func newMigrateStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			adapter, cfg, cleanup, err := getAdapterWithConfig(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			migrator, ok := adapter.(adapters.Migrator)
			if !ok {
				fmt.Println(styles.FormatKeyValue("driver", cfg.Database.Driver))
				fmt.Println(styles.FormatKeyValue("schema", "none (in-memory)"))
				return nil
			}

			version, err := migrator.MigrationVersion(ctx)
			if err != nil {
				return fmt.Errorf("failed to read migration version: %w", err)
			}

			fmt.Println(styles.FormatKeyValue("driver", cfg.Database.Driver))
			fmt.Println(styles.FormatKeyValue("schema", cfg.Database.Schema))
			fmt.Println(styles.FormatKeyValue("migration version", fmt.Sprintf("%d", version)))
			return nil
		},
	}
}
