// Package risk classifies the danger of executing a SQL body.
package risk

import (
	"context"
	"regexp"
	"strings"
)

// Level grades how dangerous a SQL body is to execute.
type Level string

const (
	// Low indicates no destructive signal was found.
	Low Level = "LOW"
	// Medium indicates at least one signal that warrants review.
	Medium Level = "MEDIUM"
	// High indicates a destructive or irreversible signal.
	High Level = "HIGH"
)

// rank orders levels so signals can only raise the classification.
func (l Level) rank() int {
	switch l {
	case High:
		return 2
	case Medium:
		return 1
	default:
		return 0
	}
}

// Max returns the higher of two levels.
func Max(a, b Level) Level {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Assessment is the result of analyzing a SQL body.
type Assessment struct {
	Level      Level    `json:"level"`
	Signals    []string `json:"signals,omitempty"`
	RLSEnabled bool     `json:"rls_enabled"`
}

// AccessChecker reports whether row-level security is enabled on the
// table a SQL body touches. Injected so the analyzer stays free of
// hidden I/O; a nil checker skips the signal entirely.
type AccessChecker interface {
	RowSecurityEnabled(ctx context.Context, table string) (bool, error)
}

// Analyzer inspects SQL text for lexical risk signals. It is
// deliberately conservative: ambiguous patterns classify at the higher
// tier, and a false positive is always preferred over a false negative.
type Analyzer struct {
	access AccessChecker
}

// NewAnalyzer creates an analyzer. access may be nil.
func NewAnalyzer(access AccessChecker) *Analyzer {
	return &Analyzer{access: access}
}

type signal struct {
	pattern *regexp.Regexp
	level   Level
	message string
}

var signals = []signal{
	{regexp.MustCompile(`(?is)\bDROP\s+TABLE\b`), High, "drops a table"},
	{regexp.MustCompile(`(?is)\bDROP\s+COLUMN\b`), High, "drops a column"},
	{regexp.MustCompile(`(?is)\bDROP\s+(SCHEMA|DATABASE|INDEX|VIEW|SEQUENCE|TRIGGER|FUNCTION)\b`), High, "drops a database object"},
	{regexp.MustCompile(`(?is)\bTRUNCATE\b`), High, "truncates a table"},
	{regexp.MustCompile(`(?is)\bDISABLE\s+ROW\s+LEVEL\s+SECURITY\b`), High, "disables row level security"},
	{regexp.MustCompile(`(?is)\bALTER\s+TABLE\b.*?\bTYPE\b`), Medium, "alters a column type"},
	{regexp.MustCompile(`(?is)\bALTER\s+TABLE\b`), Medium, "alters a table"},
	{regexp.MustCompile(`(?is)\bUPDATE\b(?:[^;]*)`), Medium, "updates rows"},
}

var (
	deleteStmt  = regexp.MustCompile(`(?is)\bDELETE\s+FROM\b[^;]*`)
	whereClause = regexp.MustCompile(`(?is)\bWHERE\b`)
	tableRef    = regexp.MustCompile(`(?is)\b(?:ALTER\s+TABLE|DROP\s+TABLE|TRUNCATE(?:\s+TABLE)?|DELETE\s+FROM|UPDATE|INSERT\s+INTO)\s+(?:IF\s+EXISTS\s+)?(?:ONLY\s+)?"?([A-Za-z_][A-Za-z0-9_]*)"?`)
)

// Assess classifies upSQL. downSQL is the reverse body; an empty or
// trivial reverse removes the safety net and is itself a MEDIUM signal.
// Output is deterministic for identical inputs.
func (a *Analyzer) Assess(ctx context.Context, upSQL, downSQL string) Assessment {
	assessment := Assessment{Level: Low, RLSEnabled: true}

	for _, s := range signals {
		if s.pattern.MatchString(upSQL) {
			assessment.Signals = append(assessment.Signals, s.message)
			assessment.Level = Max(assessment.Level, s.level)
		}
	}

	for _, stmt := range deleteStmt.FindAllString(upSQL, -1) {
		if whereClause.MatchString(stmt) {
			assessment.Signals = append(assessment.Signals, "deletes rows")
			assessment.Level = Max(assessment.Level, Medium)
		} else {
			assessment.Signals = append(assessment.Signals, "deletes all rows without a WHERE clause")
			assessment.Level = Max(assessment.Level, High)
		}
	}

	if trivialReverse(downSQL) {
		assessment.Signals = append(assessment.Signals, "no usable reverse operation")
		assessment.Level = Max(assessment.Level, Medium)
	}

	if a.access != nil {
		if table := ReferencedTable(upSQL); table != "" {
			enabled, err := a.access.RowSecurityEnabled(ctx, table)
			if err != nil || !enabled {
				// Conservative: an unanswerable check reads as disabled.
				assessment.RLSEnabled = false
				assessment.Signals = append(assessment.Signals, "target table has no row level security")
				assessment.Level = Max(assessment.Level, Medium)
			}
		}
	}

	return assessment
}

// ReferencedTable extracts the first table name a mutating statement
// targets, or "" when none is found.
func ReferencedTable(sqlText string) string {
	m := tableRef.FindStringSubmatch(sqlText)
	if len(m) < 2 {
		return ""
	}
	return strings.ToLower(m[1])
}

// trivialReverse reports whether downSQL offers no real rollback path.
func trivialReverse(downSQL string) bool {
	stripped := strings.TrimSpace(downSQL)
	if stripped == "" {
		return true
	}
	var kept []string
	for _, line := range strings.Split(stripped, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		kept = append(kept, line)
	}
	joined := strings.TrimRight(strings.Join(kept, " "), "; \t")
	return joined == "" || strings.EqualFold(joined, "SELECT 1")
}
