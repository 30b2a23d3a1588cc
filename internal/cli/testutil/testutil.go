// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

// ProjectConfig is a small tasks/people model over a sqlite file in the
// project directory.
const ProjectConfig = `database:
  type: sqlite
  path: app.db
realtime:
  poll_interval: 20ms
tables:
  - name: people
    fields:
      - {name: name, type: SingleLineText, required: true}
      - {name: hours, type: Number}
  - name: tasks
    fields:
      - {name: title, type: SingleLineText, required: true}
      - {name: status, type: SingleSelect, options: [todo, done], default: todo}
      - {name: helpers, type: MultipleLinkedRecord, table: people}
      - name: helper_hours
        type: Rollup
        linkedRecords: helpers
        linkedField: hours
        formula: SUM(values)
        output: Number
`

// SetupTestProject creates a temporary project holding leapbase.yaml with
// the given body, or ProjectConfig when body is empty. It returns the path
// of the config file.
func SetupTestProject(t *testing.T, body string) string {
	t.Helper()
	if body == "" {
		body = ProjectConfig
	}
	path := filepath.Join(t.TempDir(), "leapbase.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}
