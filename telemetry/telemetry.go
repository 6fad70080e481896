// Package telemetry provides execution telemetry adapters.
package telemetry

import (
	"context"
	"time"
)

// Telemetry receives execution events from the engine.
type Telemetry interface {
	// RecordExecution records one apply/rollback attempt.
	RecordExecution(ctx context.Context, info ExecutionInfo)

	// RecordError records a failure outside the execution path.
	RecordError(ctx context.Context, info ErrorInfo)

	// Flush flushes any buffered telemetry data.
	Flush(ctx context.Context) error

	// Close closes the telemetry adapter.
	Close(ctx context.Context) error
}

// ExecutionInfo describes one execution attempt.
type ExecutionInfo struct {
	// Migration is the migration name.
	Migration string

	// Operation is apply or rollback.
	Operation string

	// Environment is the environment tag of the invocation.
	Environment string

	// Duration is how long the transaction took.
	Duration time.Duration

	// Success indicates if the execution succeeded.
	Success bool
}

// ErrorInfo describes a non-execution failure.
type ErrorInfo struct {
	// Error is the error that occurred.
	Error error

	// Operation is the operation that failed.
	Operation string
}
