package store

import (
	"strconv"
	"strings"
)

const columns = `id, name, up_sql, down_sql, applied, environment, risk_assessment,
	created_at, applied_at, rolled_back_at, created_by, applied_by, rolled_back_by`

func (s *Store) createTableSQL() string {
	switch s.provider {
	case "postgres", "postgresql":
		return `
			CREATE TABLE IF NOT EXISTS schemaguard_migrations (
				id VARCHAR(36) PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				up_sql TEXT NOT NULL,
				down_sql TEXT NOT NULL,
				applied BOOLEAN NOT NULL DEFAULT FALSE,
				environment VARCHAR(32) NOT NULL DEFAULT 'development',
				risk_assessment TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				applied_at TIMESTAMPTZ,
				rolled_back_at TIMESTAMPTZ,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				applied_by VARCHAR(255),
				rolled_back_by VARCHAR(255)
			)
		`
	case "mysql":
		return `
			CREATE TABLE IF NOT EXISTS schemaguard_migrations (
				id VARCHAR(36) PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				up_sql TEXT NOT NULL,
				down_sql TEXT NOT NULL,
				applied TINYINT(1) NOT NULL DEFAULT 0,
				environment VARCHAR(32) NOT NULL DEFAULT 'development',
				risk_assessment TEXT,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				applied_at TIMESTAMP NULL,
				rolled_back_at TIMESTAMP NULL,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				applied_by VARCHAR(255),
				rolled_back_by VARCHAR(255)
			)
		`
	case "sqlite", "sqlite3":
		return `
			CREATE TABLE IF NOT EXISTS schemaguard_migrations (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				up_sql TEXT NOT NULL,
				down_sql TEXT NOT NULL,
				applied INTEGER NOT NULL DEFAULT 0,
				environment TEXT NOT NULL DEFAULT 'development',
				risk_assessment TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				applied_at DATETIME,
				rolled_back_at DATETIME,
				created_by TEXT NOT NULL DEFAULT '',
				applied_by TEXT,
				rolled_back_by TEXT
			)
		`
	default:
		return ""
	}
}

func (s *Store) createIndexSQL() []string {
	if s.provider == "mysql" {
		// MySQL lacks CREATE INDEX IF NOT EXISTS; the UNIQUE name
		// constraint already carries an index.
		return nil
	}
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_schemaguard_migrations_name ON schemaguard_migrations(name)`,
		`CREATE INDEX IF NOT EXISTS idx_schemaguard_migrations_applied ON schemaguard_migrations(applied)`,
	}
}

func (s *Store) insertSQL() string {
	q := `
		INSERT INTO schemaguard_migrations
			(id, name, up_sql, down_sql, environment, risk_assessment, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	return s.rebind(q)
}

func (s *Store) selectSQL() string {
	return `SELECT ` + columns + ` FROM schemaguard_migrations`
}

func (s *Store) whereID() string   { return s.rebind(" WHERE id = ?") }
func (s *Store) whereName() string { return s.rebind(" WHERE name = ?") }

func (s *Store) markAppliedSQL() string {
	return s.rebind(`
		UPDATE schemaguard_migrations
		SET applied = ` + s.boolLit(true) + `,
		    applied_by = ?,
		    applied_at = ?,
		    rolled_back_at = NULL,
		    rolled_back_by = NULL
		WHERE id = ? AND applied = ` + s.boolLit(false))
}

func (s *Store) markRolledBackSQL() string {
	return s.rebind(`
		UPDATE schemaguard_migrations
		SET applied = ` + s.boolLit(false) + `,
		    rolled_back_by = ?,
		    rolled_back_at = ?
		WHERE id = ? AND applied = ` + s.boolLit(true))
}

func (s *Store) updateRiskSQL() string {
	return s.rebind(`UPDATE schemaguard_migrations SET risk_assessment = ? WHERE id = ?`)
}

func (s *Store) boolLit(v bool) string {
	switch s.provider {
	case "postgres", "postgresql":
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		if v {
			return "1"
		}
		return "0"
	}
}

// rebind converts ? placeholders to $N for postgres.
func (s *Store) rebind(query string) string {
	if s.provider != "postgres" && s.provider != "postgresql" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation matches driver-specific unique constraint errors
// lexically, the same way idempotent DDL errors are matched elsewhere.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
