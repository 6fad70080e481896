package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/cli/internal/config"
	"github.com/schemaguard/schemaguard/cli/internal/ui"
	"github.com/schemaguard/schemaguard/introspect"
)

func newSecurityCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "security",
		Short: "Show the access-control posture of every table",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			statuses, err := introspect.NewSecurityIntrospector(db, cfg.Provider).Status(cmd.Context())
			if err != nil {
				return err
			}

			var rows [][]string
			unprotected := 0
			for _, st := range statuses {
				rls := "disabled"
				if st.RLSEnabled {
					rls = "enabled"
				} else {
					unprotected++
				}
				rows = append(rows, []string{
					st.Table,
					rls,
					strconv.Itoa(st.PolicyCount),
					strconv.Itoa(st.ColumnCount),
					ui.RiskLabel(string(st.RiskLabel)),
				})
			}

			ui.PrintHeader("Security Dashboard", "row-level security posture per table")
			ui.PrintTable([]string{"TABLE", "RLS", "POLICIES", "COLUMNS", "RISK"}, rows)
			if unprotected > 0 {
				ui.PrintWarning("%d table(s) have no row-level security", unprotected)
			}
			return nil
		},
	}
}
