// Package authorize decides whether a migration operation may proceed.
package authorize

import (
	"github.com/schemaguard/schemaguard/risk"
)

// Environment tags where a migration runs.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// ParseEnvironment normalizes a tag, defaulting to development.
func ParseEnvironment(s string) Environment {
	switch Environment(s) {
	case Staging:
		return Staging
	case Production:
		return Production
	default:
		return Development
	}
}

// Operation is the kind of execution being authorized.
type Operation string

const (
	OpApply    Operation = "apply"
	OpRollback Operation = "rollback"
)

// Verdict is the gate's decision.
type Verdict string

const (
	Allow               Verdict = "allow"
	Deny                Verdict = "deny"
	RequireConfirmation Verdict = "require_confirmation"
)

// Decision carries the verdict plus enough context for the caller to
// retry with confirmation or surface the denial reason.
type Decision struct {
	Verdict Verdict
	Reason  string
	Signals []string
}

// Request is one authorization question. The gate is stateless and
// performs no I/O; recording the decision is the audit log's job.
type Request struct {
	Operation        Operation
	Environment      Environment
	Assessment       risk.Assessment
	Confirmed        bool
	AdminKeyVerified bool
}

// Gate evaluates the authorization policy.
type Gate struct {
	adminKeyConfigured  bool
	confirmationEnabled bool
}

// NewGate creates a gate. adminKeyConfigured reports whether a
// supplemental admin credential is configured at all; when it is, any
// confirmed risky operation must also have verified that credential.
// When confirmationEnabled is false the operator has opted out of
// interactive confirmation and confirmation is treated as supplied.
func NewGate(adminKeyConfigured, confirmationEnabled bool) *Gate {
	return &Gate{
		adminKeyConfigured:  adminKeyConfigured,
		confirmationEnabled: confirmationEnabled,
	}
}

// Authorize applies the policy table in order; the first match wins.
func (g *Gate) Authorize(req Request) Decision {
	if req.Environment == Development {
		return Decision{Verdict: Allow}
	}

	if req.Assessment.Level == risk.Low {
		return Decision{Verdict: Allow}
	}

	confirmed := req.Confirmed || !g.confirmationEnabled
	if confirmed {
		if g.adminKeyConfigured && !req.AdminKeyVerified {
			return Decision{
				Verdict: Deny,
				Reason:  "admin-key-required",
				Signals: req.Assessment.Signals,
			}
		}
		return Decision{Verdict: Allow}
	}

	return Decision{
		Verdict: RequireConfirmation,
		Reason:  "confirmation required for " + string(req.Assessment.Level) + " risk operation",
		Signals: req.Assessment.Signals,
	}
}
