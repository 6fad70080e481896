package engine

import "fmt"

// Status is the outcome of an apply or rollback request.
type Status string

const (
	// StatusApplied means the forward SQL committed.
	StatusApplied Status = "applied"
	// StatusRolledBack means the reverse SQL committed.
	StatusRolledBack Status = "rolled_back"
	// StatusAlreadyApplied is informational: the migration was applied
	// before this request. No execution occurred.
	StatusAlreadyApplied Status = "already_applied"
	// StatusNotApplied is informational: rollback was requested for a
	// pending migration. No execution occurred.
	StatusNotApplied Status = "not_applied"
	// StatusDenied means the authorization gate refused the operation.
	// The denied attempt is audited; no SQL ran.
	StatusDenied Status = "denied"
	// StatusConfirmationRequired asks the caller to retry with
	// explicit confirmation. Not audited, since no attempt occurred.
	StatusConfirmationRequired Status = "confirmation_required"
	// StatusFailed means the SQL itself failed and was rolled back.
	StatusFailed Status = "failed"
)

// Result reports one apply/rollback request.
type Result struct {
	Status    Status
	Migration string
	ElapsedMs int64
	// Reason explains a denial or confirmation request.
	Reason string
	// Signals are the risk signals behind a denial or confirmation
	// request, so the caller can make an informed retry.
	Signals []string
}

// ExecutionError carries the verbatim failure of a forward or reverse
// SQL body. The underlying transaction was fully rolled back.
type ExecutionError struct {
	Operation string
	Migration string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s of migration %q failed: %v", e.Operation, e.Migration, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// AuditWriteError is a secondary failure: the execution outcome stands,
// but its audit entry could not be written.
type AuditWriteError struct {
	Err error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write failed: %v", e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }
