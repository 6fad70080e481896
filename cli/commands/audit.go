package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/cli/internal/config"
	"github.com/schemaguard/schemaguard/cli/internal/ui"
)

func newAuditCommand(cfg *config.Config) *cobra.Command {
	var migrationID string
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the execution audit trail",
		Long:  "Print audit entries most-recent-first. Without --migration the result is capped at 100 entries.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := buildEngine(cfg, db).AuditTrail(cmd.Context(), migrationID, limit)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, e := range entries {
				outcome := "ok"
				if !e.Success {
					outcome = "FAILED"
				}
				detail := e.ErrorDetail
				if len(detail) > 60 {
					detail = detail[:57] + "..."
				}
				rows = append(rows, []string{
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.MigrationID,
					string(e.Action),
					e.Actor,
					strconv.FormatInt(e.ElapsedMs, 10) + "ms",
					outcome,
					detail,
				})
			}

			ui.PrintTable([]string{"TIME", "MIGRATION", "ACTION", "ACTOR", "ELAPSED", "OUTCOME", "DETAIL"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&migrationID, "migration", "", "restrict to one migration id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries (0 = default)")

	return cmd
}
