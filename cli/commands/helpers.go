package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/schemaguard/schemaguard/audit"
	"github.com/schemaguard/schemaguard/authorize"
	"github.com/schemaguard/schemaguard/cli/internal/config"
	"github.com/schemaguard/schemaguard/engine"
	"github.com/schemaguard/schemaguard/introspect"
	"github.com/schemaguard/schemaguard/risk"
	"github.com/schemaguard/schemaguard/store"
)

// openDB connects and pings the configured database.
func openDB(cfg *config.Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.DriverName(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// buildEngine wires the engine and its collaborators over db.
func buildEngine(cfg *config.Config, db *sql.DB) *engine.Engine {
	introspector := introspect.NewSecurityIntrospector(db, cfg.Provider)
	analyzer := risk.NewAnalyzer(introspector)
	st := store.NewStore(db, cfg.Provider)
	log := audit.NewLog(db, cfg.Provider)

	return engine.NewEngine(st, log, analyzer, engine.NewSQLExecutor(db), engine.Config{
		Environment:         authorize.ParseEnvironment(cfg.Environment),
		AdminKey:            cfg.AdminKey,
		RequireConfirmation: cfg.RequireConfirmation,
	}, engine.WithIdentity(cfg))
}
