// Package engine orchestrates migration execution: state checks,
// authorization, transactional SQL, state transitions and audit.
package engine

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/schemaguard/schemaguard/audit"
	"github.com/schemaguard/schemaguard/authorize"
	"github.com/schemaguard/schemaguard/internal/debug"
	"github.com/schemaguard/schemaguard/risk"
	"github.com/schemaguard/schemaguard/store"
	"github.com/schemaguard/schemaguard/telemetry"
)

// Config is the engine's static configuration, supplied at
// construction time so authorization decisions stay deterministic.
// It is never read from the environment mid-operation.
type Config struct {
	// Environment tags every invocation for the authorization gate.
	Environment authorize.Environment
	// AdminKey is an optional supplemental credential required for
	// confirmed risky operations outside development. Empty disables
	// the check.
	AdminKey string
	// RequireConfirmation enables the confirmation step for risky
	// operations. Disabling it records the operator's opt-out.
	RequireConfirmation bool
}

// IdentityProvider supplies the current actor when a call omits one.
type IdentityProvider interface {
	CurrentActor() string
}

// Options carries per-call caller input.
type Options struct {
	// ConfirmationToken, when non-empty, acknowledges a prior
	// confirmation request.
	ConfirmationToken string
	// AdminKey is the caller-supplied supplemental credential.
	AdminKey string
}

// Engine executes and reverses migrations.
type Engine struct {
	store    *store.Store
	auditLog *audit.Log
	gate     *authorize.Gate
	analyzer *risk.Analyzer
	exec     TrustedExecutor
	cfg      Config

	telemetry telemetry.Telemetry
	identity  IdentityProvider
	now       func() time.Time

	// locks serializes execution per migration id; attempts against
	// different migrations proceed concurrently.
	locks sync.Map
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTelemetry attaches a telemetry adapter.
func WithTelemetry(t telemetry.Telemetry) Option {
	return func(e *Engine) { e.telemetry = t }
}

// WithIdentity attaches an identity provider used when a call passes
// an empty actor.
func WithIdentity(p IdentityProvider) Option {
	return func(e *Engine) { e.identity = p }
}

// NewEngine creates an engine.
func NewEngine(st *store.Store, log *audit.Log, analyzer *risk.Analyzer, exec TrustedExecutor, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		auditLog:  log,
		gate:      authorize.NewGate(cfg.AdminKey != "", cfg.RequireConfirmation),
		analyzer:  analyzer,
		exec:      exec,
		cfg:       cfg,
		telemetry: telemetry.NewNoopTelemetry(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureSchema creates the migrations and audit tables if absent.
func (e *Engine) EnsureSchema(ctx context.Context) error {
	if err := e.store.EnsureSchema(ctx); err != nil {
		return err
	}
	return e.auditLog.EnsureSchema(ctx)
}

// CreateMigration registers a new migration in the pending state. The
// forward and reverse SQL are immutable afterwards. The risk
// assessment is computed up front and cached on the row for display.
func (e *Engine) CreateMigration(ctx context.Context, name, upSQL, downSQL, actor string) (*store.Migration, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("migration name is required")
	}
	if strings.TrimSpace(upSQL) == "" {
		return nil, errors.New("forward SQL is required")
	}

	assessment := e.analyzer.Assess(ctx, upSQL, downSQL)
	m := &store.Migration{
		Name:        name,
		UpSQL:       upSQL,
		DownSQL:     downSQL,
		Environment: e.cfg.Environment,
		Risk:        &assessment,
		CreatedAt:   e.now().UTC(),
		CreatedBy:   e.resolveActor(actor),
	}
	if err := e.store.Create(ctx, m); err != nil {
		return nil, err
	}
	debug.Info("migration created", "id", m.ID, "name", m.Name, "risk", assessment.Level)
	return m, nil
}

// Apply executes a migration's forward SQL.
func (e *Engine) Apply(ctx context.Context, id, actor string, opts Options) (Result, error) {
	return e.run(ctx, id, actor, opts, authorize.OpApply)
}

// Rollback executes a migration's reverse SQL.
func (e *Engine) Rollback(ctx context.Context, id, actor string, opts Options) (Result, error) {
	return e.run(ctx, id, actor, opts, authorize.OpRollback)
}

// AuditTrail returns audit entries most-recent-first. With an empty
// migrationID the result is capped (default 100); with a migrationID
// the sequence is unbounded unless limit is set.
func (e *Engine) AuditTrail(ctx context.Context, migrationID string, limit int) ([]audit.Entry, error) {
	return e.auditLog.Query(ctx, migrationID, limit)
}

// List returns all migrations ordered by creation time.
func (e *Engine) List(ctx context.Context) ([]*store.Migration, error) {
	return e.store.List(ctx)
}

func (e *Engine) run(ctx context.Context, id, actor string, opts Options, op authorize.Operation) (Result, error) {
	actor = e.resolveActor(actor)

	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	m, err := e.store.Get(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("fetch migration %s: %w", id, err)
	}

	// State check: a same-state request is an informational outcome,
	// not an error and not an execution attempt.
	if op == authorize.OpApply && m.Applied {
		return Result{Status: StatusAlreadyApplied, Migration: m.ID}, nil
	}
	if op == authorize.OpRollback && !m.Applied {
		return Result{Status: StatusNotApplied, Migration: m.ID}, nil
	}

	sqlText := m.UpSQL
	if op == authorize.OpRollback {
		sqlText = m.DownSQL
	}

	assessment := e.analyzer.Assess(ctx, sqlText, reverseOf(m, op))
	if err := e.store.SaveRisk(ctx, m.ID, &assessment); err != nil {
		// Cache only; execution does not depend on it.
		debug.Warn("risk cache write failed", "id", m.ID, "error", err)
	}

	decision := e.gate.Authorize(authorize.Request{
		Operation:        op,
		Environment:      e.cfg.Environment,
		Assessment:       assessment,
		Confirmed:        opts.ConfirmationToken != "",
		AdminKeyVerified: e.verifyAdminKey(opts.AdminKey),
	})

	switch decision.Verdict {
	case authorize.RequireConfirmation:
		// A request for more information, not an attempt: no audit.
		return Result{
			Status:    StatusConfirmationRequired,
			Migration: m.ID,
			Reason:    decision.Reason,
			Signals:   decision.Signals,
		}, nil
	case authorize.Deny:
		res := Result{
			Status:    StatusDenied,
			Migration: m.ID,
			Reason:    decision.Reason,
			Signals:   decision.Signals,
		}
		auditErr := e.record(ctx, m.ID, op, actor, 0, false, "unauthorized: "+decision.Reason)
		return res, auditErr
	}

	return e.execute(ctx, m, op, actor, sqlText)
}

func (e *Engine) execute(ctx context.Context, m *store.Migration, op authorize.Operation, actor, sqlText string) (Result, error) {
	start := e.now()
	execErr := e.exec.ExecTransactional(ctx, sqlText)
	elapsed := e.now().Sub(start)
	elapsedMs := elapsed.Milliseconds()

	e.telemetry.RecordExecution(ctx, telemetry.ExecutionInfo{
		Migration:   m.Name,
		Operation:   string(op),
		Environment: string(e.cfg.Environment),
		Duration:    elapsed,
		Success:     execErr == nil,
	})

	if execErr != nil {
		res := Result{Status: StatusFailed, Migration: m.ID, ElapsedMs: elapsedMs}
		wrapped := &ExecutionError{Operation: string(op), Migration: m.Name, Err: execErr}
		if auditErr := e.record(ctx, m.ID, op, actor, elapsedMs, false, execErr.Error()); auditErr != nil {
			return res, errors.Join(wrapped, auditErr)
		}
		return res, wrapped
	}

	// The transaction outcome is confirmed; only now transition state.
	var transitionErr error
	if op == authorize.OpApply {
		transitionErr = e.store.MarkApplied(ctx, m.ID, actor, e.now().UTC())
	} else {
		transitionErr = e.store.MarkRolledBack(ctx, m.ID, actor, e.now().UTC())
	}
	if transitionErr != nil {
		res := Result{Status: StatusFailed, Migration: m.ID, ElapsedMs: elapsedMs}
		if auditErr := e.record(ctx, m.ID, op, actor, elapsedMs, false, transitionErr.Error()); auditErr != nil {
			return res, errors.Join(transitionErr, auditErr)
		}
		return res, transitionErr
	}

	status := StatusApplied
	if op == authorize.OpRollback {
		status = StatusRolledBack
	}
	res := Result{Status: status, Migration: m.ID, ElapsedMs: elapsedMs}
	debug.Info("migration executed", "id", m.ID, "operation", op, "elapsed_ms", elapsedMs)
	if auditErr := e.record(ctx, m.ID, op, actor, elapsedMs, true, ""); auditErr != nil {
		// Secondary failure: report alongside the primary outcome,
		// never in place of it.
		return res, auditErr
	}
	return res, nil
}

// record writes one audit entry; exactly one per execution attempt.
func (e *Engine) record(ctx context.Context, migrationID string, op authorize.Operation, actor string, elapsedMs int64, success bool, detail string) error {
	err := e.auditLog.Record(ctx, audit.Entry{
		MigrationID: migrationID,
		Action:      actionFor(op),
		Actor:       actor,
		ElapsedMs:   elapsedMs,
		Success:     success,
		ErrorDetail: detail,
		CreatedAt:   e.now().UTC(),
	})
	if err != nil {
		e.telemetry.RecordError(ctx, telemetry.ErrorInfo{Error: err, Operation: "audit"})
		return &AuditWriteError{Err: err}
	}
	return nil
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (e *Engine) verifyAdminKey(supplied string) bool {
	if e.cfg.AdminKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(e.cfg.AdminKey), []byte(supplied)) == 1
}

func (e *Engine) resolveActor(actor string) string {
	if actor != "" {
		return actor
	}
	if e.identity != nil {
		return e.identity.CurrentActor()
	}
	return "unknown"
}

func actionFor(op authorize.Operation) audit.Action {
	if op == authorize.OpRollback {
		return audit.ActionRollback
	}
	return audit.ActionApply
}

// reverseOf returns the SQL body whose absence would remove the safety
// net for this operation: applying without a down body is risky, while
// rolling back is judged against the up body it undoes.
func reverseOf(m *store.Migration, op authorize.Operation) string {
	if op == authorize.OpApply {
		return m.DownSQL
	}
	return m.UpSQL
}
