package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/dahovitech/loanmaster-sub001/cli/config"
	"github.com/dahovitech/loanmaster-sub001/cli/styles"
)

func newInitCommand() *cobra.Command {
	var (
		nonInteractive bool
		serviceName    string
		driver         string
		force          bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a loanmaster.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			path := filepath.Join(cwd, config.ConfigFileName)
			if config.Exists(cwd) && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", config.ConfigFileName)
			}

			cfg := config.DefaultConfig()
			if serviceName != "" {
				cfg.Service.Name = serviceName
			}
			if driver != "" {
				cfg.Database.Driver = driver
			}

			if !nonInteractive {
				if err := runInitForm(cfg); err != nil {
					return err
				}
			}

			if problems := cfg.Validate(); len(problems) > 0 {
				return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
			}

			if err := os.WriteFile(path, []byte(config.GenerateYAML(cfg)), 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Println(styles.FormatSuccess("created " + config.ConfigFileName))
			if cfg.Database.Driver != "memory" {
				fmt.Println(styles.FormatInfo("set DATABASE_URL before running migrate"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "skip the interactive form")
	cmd.Flags().StringVar(&serviceName, "service", "", "service name")
	cmd.Flags().StringVar(&driver, "driver", "", "database driver (postgres or memory)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

func runInitForm(cfg *config.Config) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Service name").
				Description("Used in logs and metrics labels").
				Value(&cfg.Service.Name),
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("debug", "debug"),
					huh.NewOption("info", "info"),
					huh.NewOption("warn", "warn"),
					huh.NewOption("error", "error"),
				).
				Value(&cfg.Service.LogLevel),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Database driver").
				Description("memory is for local experiments only").
				Options(
					huh.NewOption("PostgreSQL", "postgres"),
					huh.NewOption("In-memory", "memory"),
				).
				Value(&cfg.Database.Driver),
			huh.NewConfirm().
				Title("Enable the outbox relay?").
				Description("Schedules committed events for delivery to external systems").
				Value(&cfg.Outbox.Enabled),
		),
	)
	return form.Run()
}
