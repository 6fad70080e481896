package engine

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaguard/schemaguard/audit"
	"github.com/schemaguard/schemaguard/authorize"
	"github.com/schemaguard/schemaguard/risk"
	"github.com/schemaguard/schemaguard/store"
)

type harness struct {
	engine  *Engine
	store   *store.Store
	audit   *audit.Log
	auditDB *sql.DB
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// In-memory sqlite exists per connection; pin the pool to one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// newHarness wires an engine over two in-memory databases: one for
// migrations plus executed SQL, one for the audit trail so audit
// failures can be induced without touching the store.
func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	mainDB := openSQLite(t)
	auditDB := openSQLite(t)

	st := store.NewStore(mainDB, "sqlite")
	require.NoError(t, st.EnsureSchema(context.Background()))

	log := audit.NewLog(auditDB, "sqlite")
	require.NoError(t, log.EnsureSchema(context.Background()))

	e := NewEngine(st, log, risk.NewAnalyzer(nil), NewSQLExecutor(mainDB), cfg)
	return &harness{engine: e, store: st, audit: log, auditDB: auditDB}
}

func devConfig() Config {
	return Config{Environment: authorize.Development, RequireConfirmation: true}
}

func (h *harness) create(t *testing.T, name, up, down string) *store.Migration {
	t.Helper()
	m, err := h.engine.CreateMigration(context.Background(), name, up, down, "alice")
	require.NoError(t, err)
	return m
}

func (h *harness) trail(t *testing.T, migrationID string) []audit.Entry {
	t.Helper()
	entries, err := h.engine.AuditTrail(context.Background(), migrationID, 0)
	require.NoError(t, err)
	return entries
}

func TestCreateMigrationValidatesInput(t *testing.T) {
	h := newHarness(t, devConfig())
	ctx := context.Background()

	_, err := h.engine.CreateMigration(ctx, "", "CREATE TABLE t (id INTEGER);", "", "alice")
	require.Error(t, err)

	_, err = h.engine.CreateMigration(ctx, "no-up", "   ", "", "alice")
	require.Error(t, err)
}

func TestCreateMigrationCachesRisk(t *testing.T) {
	h := newHarness(t, devConfig())

	m := h.create(t, "drop-legacy", "DROP TABLE legacy;", "")

	got, err := h.store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Risk)
	assert.Equal(t, risk.High, got.Risk.Level)
}

func TestApplyHappyPath(t *testing.T) {
	h := newHarness(t, devConfig())
	ctx := context.Background()

	m := h.create(t, "add-users",
		"CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT);",
		"DROP TABLE users;")

	res, err := h.engine.Apply(ctx, m.ID, "alice", Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, res.Status)
	assert.Equal(t, m.ID, res.Migration)

	got, err := h.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Applied)
	assert.Equal(t, "alice", got.AppliedBy)

	entries := h.trail(t, m.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionApply, entries[0].Action)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "alice", entries[0].Actor)
}

func TestApplyThenRollbackLifecycle(t *testing.T) {
	h := newHarness(t, devConfig())
	ctx := context.Background()

	m := h.create(t, "add-users",
		"CREATE TABLE users (id INTEGER PRIMARY KEY);",
		"DROP TABLE users;")

	res, err := h.engine.Apply(ctx, m.ID, "alice", Options{})
	require.NoError(t, err)
	require.Equal(t, StatusApplied, res.Status)

	res, err = h.engine.Rollback(ctx, m.ID, "bob", Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, res.Status)

	got, err := h.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Applied)
	assert.Equal(t, "bob", got.RolledBackBy)

	// The cycle closes: re-applying reproduces the applied state.
	res, err = h.engine.Apply(ctx, m.ID, "alice", Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, res.Status)

	entries := h.trail(t, m.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, audit.ActionApply, entries[0].Action)
	assert.Equal(t, audit.ActionRollback, entries[1].Action)
	assert.Equal(t, audit.ActionApply, entries[2].Action)
	for _, e := range entries {
		assert.True(t, e.Success)
	}
}

func TestApplyTwiceIsInformational(t *testing.T) {
	h := newHarness(t, devConfig())
	ctx := context.Background()

	m := h.create(t, "add-users", "CREATE TABLE users (id INTEGER);", "DROP TABLE users;")

	_, err := h.engine.Apply(ctx, m.ID, "alice", Options{})
	require.NoError(t, err)

	res, err := h.engine.Apply(ctx, m.ID, "alice", Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyApplied, res.Status)

	// The second request never reached the executor: still one entry.
	assert.Len(t, h.trail(t, m.ID), 1)
}

func TestRollbackPendingIsInformational(t *testing.T) {
	h := newHarness(t, devConfig())

	m := h.create(t, "add-users", "CREATE TABLE users (id INTEGER);", "DROP TABLE users;")

	res, err := h.engine.Rollback(context.Background(), m.ID, "alice", Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusNotApplied, res.Status)
	assert.Empty(t, h.trail(t, m.ID))
}

func TestApplyUnknownMigration(t *testing.T) {
	h := newHarness(t, devConfig())

	_, err := h.engine.Apply(context.Background(), "missing-id", "alice", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFailedExecutionKeepsStateAndAudits(t *testing.T) {
	h := newHarness(t, devConfig())
	ctx := context.Background()

	m := h.create(t, "broken", "THIS IS NOT SQL;", "")

	res, err := h.engine.Apply(ctx, m.ID, "alice", Options{})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	var execErr *ExecutionError
	assert.ErrorAs(t, err, &execErr)

	got, err := h.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Applied)

	entries := h.trail(t, m.ID)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.NotEmpty(t, entries[0].ErrorDetail)
}

func TestRiskyProductionApplyRequiresConfirmation(t *testing.T) {
	h := newHarness(t, Config{Environment: authorize.Production, RequireConfirmation: true})
	ctx := context.Background()

	m := h.create(t, "drop-legacy", "DROP TABLE legacy;", "")

	res, err := h.engine.Apply(ctx, m.ID, "alice", Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmationRequired, res.Status)
	assert.Contains(t, res.Signals, "drops a table")

	// A confirmation request is not an execution attempt.
	assert.Empty(t, h.trail(t, m.ID))
}

func TestConfirmedProductionApplyExecutes(t *testing.T) {
	h := newHarness(t, Config{Environment: authorize.Production, RequireConfirmation: true})
	ctx := context.Background()

	m := h.create(t, "add-users",
		"CREATE TABLE users (id INTEGER);",
		"") // missing reverse keeps this above LOW

	res, err := h.engine.Apply(ctx, m.ID, "alice", Options{ConfirmationToken: "yes"})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, res.Status)
}

func TestDenialWithoutAdminKeyIsAudited(t *testing.T) {
	h := newHarness(t, Config{
		Environment:         authorize.Production,
		AdminKey:            "s3cret",
		RequireConfirmation: true,
	})
	ctx := context.Background()

	m := h.create(t, "drop-legacy", "DROP TABLE legacy;", "")

	res, err := h.engine.Apply(ctx, m.ID, "alice", Options{ConfirmationToken: "yes"})
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, res.Status)
	assert.Equal(t, "admin-key-required", res.Reason)

	got, err := h.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Applied)

	entries := h.trail(t, m.ID)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Contains(t, entries[0].ErrorDetail, "admin-key-required")
}

func TestAdminKeyUnlocksConfirmedApply(t *testing.T) {
	h := newHarness(t, Config{
		Environment:         authorize.Production,
		AdminKey:            "s3cret",
		RequireConfirmation: true,
	})
	ctx := context.Background()

	m := h.create(t, "drop-legacy", "DROP TABLE IF EXISTS legacy;", "")

	// A wrong key still denies.
	res, err := h.engine.Apply(ctx, m.ID, "alice", Options{ConfirmationToken: "yes", AdminKey: "wrong"})
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, res.Status)

	res, err = h.engine.Apply(ctx, m.ID, "alice", Options{ConfirmationToken: "yes", AdminKey: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, res.Status)
}

func TestAuditFailureDoesNotMaskOutcome(t *testing.T) {
	h := newHarness(t, devConfig())
	ctx := context.Background()

	m := h.create(t, "add-users", "CREATE TABLE users (id INTEGER);", "DROP TABLE users;")

	// Closing the audit database makes every Record fail.
	require.NoError(t, h.auditDB.Close())

	res, err := h.engine.Apply(ctx, m.ID, "alice", Options{})
	require.Error(t, err)

	var auditErr *AuditWriteError
	assert.ErrorAs(t, err, &auditErr)

	// The execution outcome survives the secondary failure.
	assert.Equal(t, StatusApplied, res.Status)
	got, getErr := h.store.Get(ctx, m.ID)
	require.NoError(t, getErr)
	assert.True(t, got.Applied)
}

func TestAuditFailureJoinsExecutionFailure(t *testing.T) {
	h := newHarness(t, devConfig())
	ctx := context.Background()

	m := h.create(t, "broken", "THIS IS NOT SQL;", "")
	require.NoError(t, h.auditDB.Close())

	res, err := h.engine.Apply(ctx, m.ID, "alice", Options{})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	var execErr *ExecutionError
	var auditErr *AuditWriteError
	assert.ErrorAs(t, err, &execErr)
	assert.ErrorAs(t, err, &auditErr)
}

func TestConcurrentApplyExecutesOnce(t *testing.T) {
	h := newHarness(t, devConfig())
	ctx := context.Background()

	m := h.create(t, "add-users", "CREATE TABLE users (id INTEGER);", "DROP TABLE users;")

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[Status]int{}
		errs     []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.engine.Apply(ctx, m.ID, "alice", Options{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			statuses[res.Status]++
		}()
	}
	wg.Wait()

	require.Empty(t, errs)

	assert.Equal(t, 1, statuses[StatusApplied])
	assert.Equal(t, workers-1, statuses[StatusAlreadyApplied])
	assert.Len(t, h.trail(t, m.ID), 1)
}

type fixedIdentity struct{ actor string }

func (f fixedIdentity) CurrentActor() string { return f.actor }

func TestIdentityProviderFillsActor(t *testing.T) {
	mainDB := openSQLite(t)
	auditDB := openSQLite(t)

	st := store.NewStore(mainDB, "sqlite")
	require.NoError(t, st.EnsureSchema(context.Background()))
	log := audit.NewLog(auditDB, "sqlite")
	require.NoError(t, log.EnsureSchema(context.Background()))

	e := NewEngine(st, log, risk.NewAnalyzer(nil), NewSQLExecutor(mainDB), devConfig(),
		WithIdentity(fixedIdentity{actor: "ci-bot"}))

	ctx := context.Background()
	m, err := e.CreateMigration(ctx, "add-users", "CREATE TABLE users (id INTEGER);", "DROP TABLE users;", "")
	require.NoError(t, err)
	assert.Equal(t, "ci-bot", m.CreatedBy)

	_, err = e.Apply(ctx, m.ID, "", Options{})
	require.NoError(t, err)

	entries, err := e.AuditTrail(ctx, m.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ci-bot", entries[0].Actor)
}

func TestWithClockControlsTimestamps(t *testing.T) {
	mainDB := openSQLite(t)
	auditDB := openSQLite(t)

	st := store.NewStore(mainDB, "sqlite")
	require.NoError(t, st.EnsureSchema(context.Background()))
	log := audit.NewLog(auditDB, "sqlite")
	require.NoError(t, log.EnsureSchema(context.Background()))

	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	e := NewEngine(st, log, risk.NewAnalyzer(nil), NewSQLExecutor(mainDB), devConfig(),
		WithClock(func() time.Time { return fixed }))

	ctx := context.Background()
	m, err := e.CreateMigration(ctx, "add-users", "CREATE TABLE users (id INTEGER);", "DROP TABLE users;", "alice")
	require.NoError(t, err)

	_, err = e.Apply(ctx, m.ID, "alice", Options{})
	require.NoError(t, err)

	got, err := st.Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AppliedAt)
	assert.True(t, got.AppliedAt.Equal(fixed))
}

func TestExecutionErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := &ExecutionError{Operation: "apply", Migration: "add-users", Err: base}
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "add-users")
}
