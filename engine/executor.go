package engine

import (
	"context"
	"database/sql"
	"fmt"
)

// TrustedExecutor runs migration SQL with elevated schema privileges.
// It is the single audited chokepoint for arbitrary DDL/DML; nothing
// else in the engine touches the database outside of store and audit
// writes.
type TrustedExecutor interface {
	// ExecTransactional runs sqlText inside one transaction. Any
	// failure rolls the transaction back entirely so no partial
	// schema change persists.
	ExecTransactional(ctx context.Context, sqlText string) error
}

// SQLExecutor implements TrustedExecutor on a *sql.DB.
type SQLExecutor struct {
	db *sql.DB
}

// NewSQLExecutor creates an executor over db.
func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// ExecTransactional runs sqlText as a single transaction.
func (e *SQLExecutor) ExecTransactional(ctx context.Context, sqlText string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if _, err := tx.ExecContext(ctx, sqlText); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ TrustedExecutor = (*SQLExecutor)(nil)
