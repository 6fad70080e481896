// Package introspect summarizes the access-control posture of a database.
package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/schemaguard/schemaguard/internal/debug"
)

// RiskLabel grades a table's access-control posture.
type RiskLabel string

const (
	// LabelHigh means row-level security is not enabled at all.
	LabelHigh RiskLabel = "HIGH"
	// LabelMedium means RLS is enabled but no policies exist.
	LabelMedium RiskLabel = "MEDIUM"
	// LabelLow means RLS is enabled and at least one policy exists.
	LabelLow RiskLabel = "LOW"
)

// TableStatus is one row of the security dashboard.
type TableStatus struct {
	Table       string
	RLSEnabled  bool
	PolicyCount int
	ColumnCount int
	RiskLabel   RiskLabel
}

// minRLSVersion is the first PostgreSQL release with row-level security.
var minRLSVersion = goversion.Must(goversion.NewVersion("9.5"))

// SecurityIntrospector reads access-control state. It performs no
// mutation; everything here is a read-only catalog query.
type SecurityIntrospector struct {
	db       *sql.DB
	provider string
}

// NewSecurityIntrospector creates an introspector for the given provider.
func NewSecurityIntrospector(db *sql.DB, provider string) *SecurityIntrospector {
	return &SecurityIntrospector{db: db, provider: provider}
}

// Status reports per-table RLS enablement, policy counts and a derived
// risk label for every table in the governed schema.
func (i *SecurityIntrospector) Status(ctx context.Context) ([]TableStatus, error) {
	switch i.provider {
	case "postgres", "postgresql":
		return i.postgresStatus(ctx)
	case "mysql", "sqlite", "sqlite3":
		// No row-level security support on these engines; every table
		// reports as unprotected.
		return i.fallbackStatus(ctx)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", i.provider)
	}
}

// RowSecurityEnabled reports whether RLS is enabled on one table. It
// satisfies the risk analyzer's access-checker capability.
func (i *SecurityIntrospector) RowSecurityEnabled(ctx context.Context, table string) (bool, error) {
	if i.provider != "postgres" && i.provider != "postgresql" {
		return false, nil
	}
	var enabled bool
	err := i.db.QueryRowContext(ctx,
		`SELECT rowsecurity FROM pg_tables WHERE schemaname = 'public' AND tablename = $1`,
		table,
	).Scan(&enabled)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("query row security for %s: %w", table, err)
	}
	return enabled, nil
}

func (i *SecurityIntrospector) postgresStatus(ctx context.Context) ([]TableStatus, error) {
	if err := i.checkServerVersion(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT
			t.tablename,
			t.rowsecurity,
			COUNT(DISTINCT p.policyname),
			(SELECT COUNT(*) FROM information_schema.columns c
			 WHERE c.table_schema = t.schemaname AND c.table_name = t.tablename)
		FROM pg_tables t
		LEFT JOIN pg_policies p
			ON p.schemaname = t.schemaname AND p.tablename = t.tablename
		WHERE t.schemaname = 'public'
		GROUP BY t.schemaname, t.tablename, t.rowsecurity
		ORDER BY t.tablename
	`

	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query security status: %w", err)
	}
	defer rows.Close()

	var statuses []TableStatus
	for rows.Next() {
		var st TableStatus
		if err := rows.Scan(&st.Table, &st.RLSEnabled, &st.PolicyCount, &st.ColumnCount); err != nil {
			return nil, fmt.Errorf("scan security status: %w", err)
		}
		st.RiskLabel = deriveLabel(st.RLSEnabled, st.PolicyCount)
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

// fallbackStatus lists tables on engines without RLS support.
func (i *SecurityIntrospector) fallbackStatus(ctx context.Context) ([]TableStatus, error) {
	rows, err := i.db.QueryContext(ctx, i.listTablesSQL())
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var statuses []TableStatus
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		statuses = append(statuses, TableStatus{
			Table:     name,
			RiskLabel: LabelHigh,
		})
	}
	return statuses, rows.Err()
}

func (i *SecurityIntrospector) listTablesSQL() string {
	if i.provider == "mysql" {
		return `SELECT table_name FROM information_schema.tables
			WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
			ORDER BY table_name`
	}
	return `SELECT name FROM sqlite_master WHERE type = 'table'
		AND name NOT LIKE 'sqlite_%' ORDER BY name`
}

// checkServerVersion refuses to query RLS catalogs on servers that
// predate row-level security.
func (i *SecurityIntrospector) checkServerVersion(ctx context.Context) error {
	var raw string
	if err := i.db.QueryRowContext(ctx, `SHOW server_version`).Scan(&raw); err != nil {
		// Some pooled connections reject SHOW; proceed and let the
		// catalog query itself fail if the server is too old.
		debug.Debug("server version check skipped", "error", err)
		return nil
	}
	// Strip packaging suffixes like "14.2 (Debian 14.2-1)".
	raw = strings.Fields(raw)[0]
	v, err := goversion.NewVersion(raw)
	if err != nil {
		debug.Debug("unparseable server version", "version", raw)
		return nil
	}
	if v.LessThan(minRLSVersion) {
		return fmt.Errorf("server version %s predates row-level security (requires >= %s)", v, minRLSVersion)
	}
	return nil
}

func deriveLabel(rlsEnabled bool, policyCount int) RiskLabel {
	switch {
	case !rlsEnabled:
		return LabelHigh
	case policyCount == 0:
		return LabelMedium
	default:
		return LabelLow
	}
}
