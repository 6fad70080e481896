// Package audit keeps an append-only record of every execution attempt.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of execution an entry records.
type Action string

const (
	ActionApply    Action = "apply"
	ActionRollback Action = "rollback"
)

// Entry is an immutable record of one apply/rollback attempt. Entries
// are written exactly once per attempt and never updated or deleted.
type Entry struct {
	ID          string
	MigrationID string
	Action      Action
	Actor       string
	ElapsedMs   int64
	Success     bool
	ErrorDetail string
	CreatedAt   time.Time
}

// DefaultQueryLimit caps unfiltered trail queries.
const DefaultQueryLimit = 100

// Log appends and queries audit entries.
type Log struct {
	db       *sql.DB
	provider string
}

// NewLog creates an audit log for the given provider.
func NewLog(db *sql.DB, provider string) *Log {
	return &Log{db: db, provider: provider}
}

// EnsureSchema creates the audit table if absent.
func (l *Log) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, l.createTableSQL()); err != nil {
		return fmt.Errorf("ensure audit table: %w", err)
	}
	return nil
}

// Record appends one entry. A failed write propagates to the caller;
// it must never be swallowed, but also must never replace the primary
// execution outcome it accompanies.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := l.db.ExecContext(ctx, l.insertSQL(),
		e.ID, e.MigrationID, string(e.Action), e.Actor,
		e.ElapsedMs, e.Success, nullable(e.ErrorDetail), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Query returns entries most-recent-first. With an empty migrationID
// the result is capped at limit (DefaultQueryLimit when limit <= 0);
// with a migrationID the sequence is unbounded unless limit is set.
func (l *Log) Query(ctx context.Context, migrationID string, limit int) ([]Entry, error) {
	query := l.selectSQL()
	var args []any
	if migrationID != "" {
		query += l.whereMigration()
		args = append(args, migrationID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if migrationID == "" && limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			action string
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.MigrationID, &action, &e.Actor,
			&e.ElapsedMs, &e.Success, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = Action(action)
		e.ErrorDetail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Log) createTableSQL() string {
	switch l.provider {
	case "postgres", "postgresql":
		return `
			CREATE TABLE IF NOT EXISTS schemaguard_audit (
				id VARCHAR(36) PRIMARY KEY,
				migration_id VARCHAR(36) NOT NULL,
				action VARCHAR(16) NOT NULL,
				actor VARCHAR(255) NOT NULL,
				elapsed_ms BIGINT NOT NULL DEFAULT 0,
				success BOOLEAN NOT NULL,
				error_detail TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`
	case "mysql":
		return `
			CREATE TABLE IF NOT EXISTS schemaguard_audit (
				id VARCHAR(36) PRIMARY KEY,
				migration_id VARCHAR(36) NOT NULL,
				action VARCHAR(16) NOT NULL,
				actor VARCHAR(255) NOT NULL,
				elapsed_ms BIGINT NOT NULL DEFAULT 0,
				success TINYINT(1) NOT NULL,
				error_detail TEXT,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`
	case "sqlite", "sqlite3":
		return `
			CREATE TABLE IF NOT EXISTS schemaguard_audit (
				id TEXT PRIMARY KEY,
				migration_id TEXT NOT NULL,
				action TEXT NOT NULL,
				actor TEXT NOT NULL,
				elapsed_ms INTEGER NOT NULL DEFAULT 0,
				success INTEGER NOT NULL,
				error_detail TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`
	default:
		return ""
	}
}

func (l *Log) insertSQL() string {
	return l.rebind(`
		INSERT INTO schemaguard_audit
			(id, migration_id, action, actor, elapsed_ms, success, error_detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
}

func (l *Log) selectSQL() string {
	return `SELECT id, migration_id, action, actor, elapsed_ms, success, error_detail, created_at
		FROM schemaguard_audit`
}

func (l *Log) whereMigration() string {
	return l.rebind(" WHERE migration_id = ?")
}

func (l *Log) rebind(query string) string {
	if l.provider != "postgres" && l.provider != "postgresql" {
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

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
