package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/cli/internal/ui"
	"github.com/schemaguard/schemaguard/risk"
)

// newAnalyzeCommand classifies a SQL file without touching a database.
func newAnalyzeCommand() *cobra.Command {
	var downFile string

	cmd := &cobra.Command{
		Use:   "analyze <sql-file>",
		Short: "Assess the execution risk of a SQL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upSQL, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read SQL: %w", err)
			}
			var downSQL []byte
			if downFile != "" {
				if downSQL, err = os.ReadFile(downFile); err != nil {
					return fmt.Errorf("read reverse SQL: %w", err)
				}
			}

			assessment := risk.NewAnalyzer(nil).Assess(cmd.Context(), string(upSQL), string(downSQL))

			var b strings.Builder
			fmt.Fprintf(&b, "# Risk assessment\n\n")
			fmt.Fprintf(&b, "**Level:** %s\n\n", assessment.Level)
			if len(assessment.Signals) > 0 {
				b.WriteString("Signals:\n\n")
				for _, s := range assessment.Signals {
					fmt.Fprintf(&b, "- %s\n", s)
				}
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "```sql\n%s\n```\n", strings.TrimSpace(string(upSQL)))

			if err := ui.PrintMarkdown(b.String()); err != nil {
				// Fall back to plain output on dumb terminals.
				fmt.Printf("risk: %s\n", assessment.Level)
				ui.PrintSignals(assessment.Signals)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&downFile, "down", "", "path to the reverse SQL file")

	return cmd
}
