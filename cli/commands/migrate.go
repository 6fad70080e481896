package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/cli/internal/config"
	"github.com/schemaguard/schemaguard/cli/internal/ui"
	"github.com/schemaguard/schemaguard/engine"
)

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	cmd.AddCommand(newMigrateCreateCommand(cfg))
	cmd.AddCommand(newMigrateApplyCommand(cfg))
	cmd.AddCommand(newMigrateRollbackCommand(cfg))
	cmd.AddCommand(newMigrateStatusCommand(cfg))

	return cmd
}

func newInitCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the migrations and audit tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := buildEngine(cfg, db).EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			ui.PrintSuccess("schemaguard tables ready")
			return nil
		},
	}
}

func newMigrateCreateCommand(cfg *config.Config) *cobra.Command {
	var upFile, downFile string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a new migration from SQL files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upSQL, err := os.ReadFile(upFile)
			if err != nil {
				return fmt.Errorf("read forward SQL: %w", err)
			}
			var downSQL []byte
			if downFile != "" {
				if downSQL, err = os.ReadFile(downFile); err != nil {
					return fmt.Errorf("read reverse SQL: %w", err)
				}
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			m, err := buildEngine(cfg, db).CreateMigration(cmd.Context(), args[0], string(upSQL), string(downSQL), cfg.Actor)
			if err != nil {
				return err
			}

			ui.PrintSuccess("migration %q registered (id %s)", m.Name, m.ID)
			if m.Risk != nil {
				fmt.Printf("  risk: %s\n", ui.RiskLabel(string(m.Risk.Level)))
				ui.PrintSignals(m.Risk.Signals)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&upFile, "up", "", "path to the forward SQL file")
	cmd.Flags().StringVar(&downFile, "down", "", "path to the reverse SQL file")
	cmd.MarkFlagRequired("up")

	return cmd
}

func newMigrateApplyCommand(cfg *config.Config) *cobra.Command {
	var yes bool
	var adminKey string

	cmd := &cobra.Command{
		Use:   "apply <id>",
		Short: "Apply a migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecution(cmd.Context(), cfg, args[0], yes, adminKey, false)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm a risky operation up front")
	cmd.Flags().StringVar(&adminKey, "admin-key", "", "supplemental admin credential")

	return cmd
}

func newMigrateRollbackCommand(cfg *config.Config) *cobra.Command {
	var yes bool
	var adminKey string

	cmd := &cobra.Command{
		Use:   "rollback <id>",
		Short: "Roll back an applied migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecution(cmd.Context(), cfg, args[0], yes, adminKey, true)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm a risky operation up front")
	cmd.Flags().StringVar(&adminKey, "admin-key", "", "supplemental admin credential")

	return cmd
}

func runExecution(ctx context.Context, cfg *config.Config, id string, confirmed bool, adminKey string, rollback bool) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	eng := buildEngine(cfg, db)
	opts := engine.Options{AdminKey: adminKey}
	if confirmed {
		opts.ConfirmationToken = "cli-confirmed"
	}

	run := eng.Apply
	if rollback {
		run = eng.Rollback
	}

	res, err := run(ctx, id, cfg.Actor, opts)
	if res.Status == engine.StatusConfirmationRequired {
		ui.PrintWarning("%s", res.Reason)
		ui.PrintSignals(res.Signals)

		proceed := false
		prompt := &survey.Confirm{Message: "Proceed anyway?"}
		if promptErr := survey.AskOne(prompt, &proceed); promptErr != nil {
			return promptErr
		}
		if !proceed {
			ui.PrintInfo("aborted")
			return nil
		}

		opts.ConfirmationToken = "cli-confirmed"
		res, err = run(ctx, id, cfg.Actor, opts)
	}

	printResult(res)
	return err
}

func printResult(res engine.Result) {
	switch res.Status {
	case engine.StatusApplied:
		ui.PrintSuccess("migration applied in %dms", res.ElapsedMs)
	case engine.StatusRolledBack:
		ui.PrintSuccess("migration rolled back in %dms", res.ElapsedMs)
	case engine.StatusAlreadyApplied:
		ui.PrintInfo("migration is already applied")
	case engine.StatusNotApplied:
		ui.PrintInfo("migration has not been applied; nothing to roll back")
	case engine.StatusDenied:
		ui.PrintError("operation denied: %s", res.Reason)
		ui.PrintSignals(res.Signals)
	case engine.StatusFailed:
		ui.PrintError("execution failed after %dms", res.ElapsedMs)
	}
}

func newMigrateStatusCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			migrations, err := buildEngine(cfg, db).List(cmd.Context())
			if err != nil {
				return err
			}

			var rows [][]string
			applied := 0
			for _, m := range migrations {
				state := "pending"
				if m.Applied {
					state = "applied"
					applied++
				}
				level := ""
				if m.Risk != nil {
					level = ui.RiskLabel(string(m.Risk.Level))
				}
				rows = append(rows, []string{m.ID, m.Name, state, level, string(m.Environment)})
			}

			ui.PrintTable([]string{"ID", "NAME", "STATE", "RISK", "ENVIRONMENT"}, rows)
			ui.PrintInfo("%s total, %s applied, %s pending",
				strconv.Itoa(len(migrations)), strconv.Itoa(applied), strconv.Itoa(len(migrations)-applied))
			return nil
		},
	}
}
