// Package commands implements the schemaguard CLI commands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/cli/internal/config"
	"github.com/schemaguard/schemaguard/internal/debug"
)

// Execute is the main entry point for the CLI.
func Execute() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	debug.Init(cfg.Debug)

	root := NewRootCommand(cfg)
	return root.Execute()
}

// NewRootCommand creates the root command tree.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "schemaguard",
		Short:         "Audited, risk-gated schema migrations",
		Long:          "schemaguard applies and reverses versioned schema changes with a tamper-evident audit trail, environment-aware authorization and pre-execution risk assessment.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&cfg.Environment, "environment", cfg.Environment, "environment tag (development|staging|production)")
	root.PersistentFlags().StringVar(&cfg.Provider, "provider", cfg.Provider, "database provider (postgres|mysql|sqlite)")
	root.PersistentFlags().StringVar(&cfg.Actor, "actor", cfg.Actor, "actor recorded on migrations and audit entries")

	root.AddCommand(newInitCommand(cfg))
	root.AddCommand(newMigrateCommand(cfg))
	root.AddCommand(newAuditCommand(cfg))
	root.AddCommand(newSecurityCommand(cfg))
	root.AddCommand(newAnalyzeCommand())
	root.AddCommand(newWatchCommand(cfg))

	return root
}
