package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssessDropTableIsHigh(t *testing.T) {
	a := NewAnalyzer(nil)

	got := a.Assess(context.Background(), "DROP TABLE users;", "CREATE TABLE users (id INT);")

	assert.Equal(t, High, got.Level)
	assert.Contains(t, got.Signals, "drops a table")
}

func TestAssessUnguardedDeleteIsHigh(t *testing.T) {
	a := NewAnalyzer(nil)

	got := a.Assess(context.Background(), "DELETE FROM sessions;", "SELECT 1;")

	assert.Equal(t, High, got.Level)
	assert.Contains(t, got.Signals, "deletes all rows without a WHERE clause")
}

func TestAssessGuardedDeleteIsMedium(t *testing.T) {
	a := NewAnalyzer(nil)

	got := a.Assess(context.Background(),
		"DELETE FROM sessions WHERE expires_at < NOW();",
		"INSERT INTO sessions SELECT * FROM sessions_backup;")

	assert.Equal(t, Medium, got.Level)
	assert.Contains(t, got.Signals, "deletes rows")
}

func TestAssessAlterColumnTypeIsMedium(t *testing.T) {
	a := NewAnalyzer(nil)

	got := a.Assess(context.Background(),
		"ALTER TABLE users ALTER COLUMN age TYPE BIGINT;",
		"ALTER TABLE users ALTER COLUMN age TYPE INTEGER;")

	assert.Equal(t, Medium, got.Level)
	assert.Contains(t, got.Signals, "alters a column type")
}

func TestAssessMissingReverseIsMedium(t *testing.T) {
	a := NewAnalyzer(nil)

	for _, down := range []string{"", "  ", "-- nothing to do\n", "SELECT 1;"} {
		got := a.Assess(context.Background(), "CREATE TABLE posts (id INT);", down)
		assert.Equal(t, Medium, got.Level, "down = %q", down)
		assert.Contains(t, got.Signals, "no usable reverse operation")
	}
}

func TestAssessSafeSQLIsLow(t *testing.T) {
	a := NewAnalyzer(nil)

	got := a.Assess(context.Background(),
		"CREATE TABLE posts (id INT PRIMARY KEY);",
		"DROP TABLE posts;")

	assert.Equal(t, Low, got.Level)
	assert.Empty(t, got.Signals)
}

func TestAssessDisablingRowSecurityIsHigh(t *testing.T) {
	a := NewAnalyzer(nil)

	got := a.Assess(context.Background(),
		"ALTER TABLE accounts DISABLE ROW LEVEL SECURITY;",
		"ALTER TABLE accounts ENABLE ROW LEVEL SECURITY;")

	assert.Equal(t, High, got.Level)
	assert.Contains(t, got.Signals, "disables row level security")
}

func TestAssessIsDeterministic(t *testing.T) {
	a := NewAnalyzer(nil)
	up := "DROP TABLE users; DELETE FROM audit;"
	down := ""

	first := a.Assess(context.Background(), up, down)
	second := a.Assess(context.Background(), up, down)

	assert.Equal(t, first, second)
}

func TestAssessCaseInsensitive(t *testing.T) {
	a := NewAnalyzer(nil)

	got := a.Assess(context.Background(), "drop table Users;", "create table Users (id int);")

	assert.Equal(t, High, got.Level)
}

type stubAccess struct {
	enabled bool
	err     error
	asked   string
}

func (s *stubAccess) RowSecurityEnabled(_ context.Context, table string) (bool, error) {
	s.asked = table
	return s.enabled, s.err
}

func TestAssessFlagsMissingRowSecurity(t *testing.T) {
	access := &stubAccess{enabled: false}
	a := NewAnalyzer(access)

	got := a.Assess(context.Background(),
		"ALTER TABLE accounts ADD COLUMN note TEXT;",
		"ALTER TABLE accounts DROP COLUMN note;")

	require.Equal(t, "accounts", access.asked)
	assert.False(t, got.RLSEnabled)
	assert.Contains(t, got.Signals, "target table has no row level security")
}

func TestAssessKeepsRLSFlagWhenEnabled(t *testing.T) {
	access := &stubAccess{enabled: true}
	a := NewAnalyzer(access)

	got := a.Assess(context.Background(),
		"ALTER TABLE accounts ADD COLUMN note TEXT;",
		"ALTER TABLE accounts DROP COLUMN note;")

	assert.True(t, got.RLSEnabled)
	assert.NotContains(t, got.Signals, "target table has no row level security")
}

func TestReferencedTable(t *testing.T) {
	cases := map[string]string{
		"DROP TABLE users;":                          "users",
		"ALTER TABLE \"Accounts\" ADD COLUMN x INT;": "accounts",
		"DELETE FROM sessions WHERE id = 1;":         "sessions",
		"TRUNCATE logs;":                             "logs",
		"SELECT * FROM anything;":                    "",
	}
	for sqlText, want := range cases {
		assert.Equal(t, want, ReferencedTable(sqlText), "sql = %q", sqlText)
	}
}
