// Package store persists migration definitions and their applied state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/schemaguard/schemaguard/authorize"
	"github.com/schemaguard/schemaguard/risk"
)

var (
	// ErrNotFound indicates the migration id is unknown.
	ErrNotFound = errors.New("migration not found")
	// ErrDuplicateName indicates the migration name is already taken.
	ErrDuplicateName = errors.New("migration name already exists")
	// ErrInvalidStateTransition indicates the migration is not in the
	// state the mutation requires. A same-state no-op is rejected, not
	// silently accepted, so the caller observes the conflict.
	ErrInvalidStateTransition = errors.New("invalid migration state transition")
)

// Migration is a named, versioned unit of forward/reverse schema
// change. Forward and reverse SQL are immutable after creation; state
// fields are mutated only through MarkApplied and MarkRolledBack.
type Migration struct {
	ID           string
	Name         string
	UpSQL        string
	DownSQL      string
	Applied      bool
	Environment  authorize.Environment
	Risk         *risk.Assessment
	CreatedAt    time.Time
	AppliedAt    *time.Time
	RolledBackAt *time.Time
	CreatedBy    string
	AppliedBy    string
	RolledBackBy string
}

// Store reads and writes the migrations table.
type Store struct {
	db       *sql.DB
	provider string
}

// NewStore creates a store for the given provider
// (postgres, mysql or sqlite).
func NewStore(db *sql.DB, provider string) *Store {
	return &Store{db: db, provider: provider}
}

// EnsureSchema creates the migrations table and indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.createTableSQL()); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}
	for _, stmt := range s.createIndexSQL() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure migrations index: %w", err)
		}
	}
	return nil
}

// Create inserts a new migration in the pending state.
func (s *Store) Create(ctx context.Context, m *Migration) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	riskJSON, err := marshalRisk(m.Risk)
	if err != nil {
		return fmt.Errorf("encode risk assessment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.insertSQL(),
		m.ID, m.Name, m.UpSQL, m.DownSQL, string(m.Environment),
		riskJSON, m.CreatedAt, m.CreatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateName, m.Name)
		}
		return fmt.Errorf("insert migration: %w", err)
	}
	return nil
}

// Get returns a migration by id.
func (s *Store) Get(ctx context.Context, id string) (*Migration, error) {
	row := s.db.QueryRowContext(ctx, s.selectSQL()+s.whereID(), id)
	return s.scan(row)
}

// GetByName returns a migration by its unique name.
func (s *Store) GetByName(ctx context.Context, name string) (*Migration, error) {
	row := s.db.QueryRowContext(ctx, s.selectSQL()+s.whereName(), name)
	return s.scan(row)
}

// List returns all migrations ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*Migration, error) {
	rows, err := s.db.QueryContext(ctx, s.selectSQL()+" ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	var migrations []*Migration
	for rows.Next() {
		m, err := s.scanRows(rows)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, m)
	}
	return migrations, rows.Err()
}

// MarkApplied transitions a pending migration to applied. The UPDATE
// is conditional on the current state; losing a race surfaces as
// ErrInvalidStateTransition rather than a silent double transition.
func (s *Store) MarkApplied(ctx context.Context, id, actor string, at time.Time) error {
	return s.transition(ctx, s.markAppliedSQL(), id, actor, at)
}

// MarkRolledBack transitions an applied migration back to pending.
func (s *Store) MarkRolledBack(ctx context.Context, id, actor string, at time.Time) error {
	return s.transition(ctx, s.markRolledBackSQL(), id, actor, at)
}

// SaveRisk caches a computed risk assessment on the migration row.
func (s *Store) SaveRisk(ctx context.Context, id string, assessment *risk.Assessment) error {
	riskJSON, err := marshalRisk(assessment)
	if err != nil {
		return fmt.Errorf("encode risk assessment: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.updateRiskSQL(), riskJSON, id)
	if err != nil {
		return fmt.Errorf("save risk assessment: %w", err)
	}
	return nil
}

func (s *Store) transition(ctx context.Context, query, id, actor string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, query, actor, at, id)
	if err != nil {
		return fmt.Errorf("update migration state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update migration state: %w", err)
	}
	if n == 0 {
		// Either the id is unknown or the row is already in the
		// target state; distinguish so callers see the right error.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvalidStateTransition
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row scanner) (*Migration, error) {
	m, err := s.scanRows(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) scanRows(row scanner) (*Migration, error) {
	var (
		m           Migration
		env         string
		riskJSON    sql.NullString
		appliedAt   sql.NullTime
		rolledAt    sql.NullTime
		appliedBy   sql.NullString
		rolledBy    sql.NullString
		appliedFlag bool
	)
	err := row.Scan(
		&m.ID, &m.Name, &m.UpSQL, &m.DownSQL, &appliedFlag, &env,
		&riskJSON, &m.CreatedAt, &appliedAt, &rolledAt,
		&m.CreatedBy, &appliedBy, &rolledBy,
	)
	if err != nil {
		return nil, err
	}
	m.Applied = appliedFlag
	m.Environment = authorize.ParseEnvironment(env)
	if appliedAt.Valid {
		t := appliedAt.Time
		m.AppliedAt = &t
	}
	if rolledAt.Valid {
		t := rolledAt.Time
		m.RolledBackAt = &t
	}
	m.AppliedBy = appliedBy.String
	m.RolledBackBy = rolledBy.String
	if riskJSON.Valid && riskJSON.String != "" {
		var a risk.Assessment
		if err := json.Unmarshal([]byte(riskJSON.String), &a); err != nil {
			return nil, fmt.Errorf("decode risk assessment: %w", err)
		}
		m.Risk = &a
	}
	return &m, nil
}

func marshalRisk(a *risk.Assessment) (any, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
