package commands

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapbase/internal/cli/output"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/schema"
	"github.com/leapstack-labs/leapbase/pkg/storage"
)

func TestNewListCommand(t *testing.T) {
	cmd := NewListCommand()

	assert.Equal(t, "list <table>", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	for _, flag := range []string{"filter", "limit"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
	assert.Error(t, cmd.Args(cmd, nil), "a table is required")
}

func TestNewMigrateCommand(t *testing.T) {
	cmd := NewMigrateCommand()

	assert.Equal(t, "migrate", cmd.Use)
	assert.Equal(t, []string{"setup"}, cmd.Aliases)
	assert.NotEmpty(t, cmd.Long, "Long should not be empty")
}

func TestNewWatchCommand(t *testing.T) {
	cmd := NewWatchCommand()

	assert.Equal(t, "watch", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("no-reload"))
}

func TestCommandsWithoutConfig(t *testing.T) {
	for _, cmd := range []*cobra.Command{NewValidateCommand(), NewPlanCommand(), NewMigrateCommand()} {
		t.Run(cmd.Name(), func(t *testing.T) {
			cmd.SetContext(context.Background())
			assert.ErrorContains(t, cmd.RunE(cmd, nil), "no configuration loaded")
		})
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		res  storage.MigrationResult
		want string
	}{
		{"unchanged", storage.MigrationResult{Table: "tasks"}, "none"},
		{"created", storage.MigrationResult{Table: "tasks", Created: true, Statements: []string{"CREATE TABLE"}}, "create"},
		{"rebuilt", storage.MigrationResult{Table: "tasks", Rebuilt: true, Statements: []string{"INSERT"}}, "rebuild"},
		{"altered", storage.MigrationResult{Table: "tasks", Statements: []string{"ALTER TABLE"}}, "alter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarize(&tt.res).Action)
		})
	}

	s := summarize(&storage.MigrationResult{Table: "tasks", Plan: schema.MigrationPlan{
		Orphans: []core.Column{{Name: "legacy"}},
	}})
	assert.Equal(t, []string{"legacy"}, s.Orphans)
}

func TestRenderMigrations_WarnsAboutOrphans(t *testing.T) {
	var out, errOut bytes.Buffer
	r := output.NewRenderer(&out, &errOut, output.ModeText)

	err := renderMigrations(r, []*storage.MigrationResult{{
		Table:      "tasks",
		Statements: []string{`ALTER TABLE "tasks" ADD COLUMN "due" TEXT`},
		Plan:       schema.MigrationPlan{Orphans: []core.Column{{Name: "legacy"}}},
	}}, false)
	require.NoError(t, err)

	assert.Contains(t, out.String(), `ADD COLUMN "due"`)
	assert.Contains(t, out.String(), "leapbase migrate")
	assert.Contains(t, errOut.String(), "tasks.legacy has no field and is kept")
}

func TestRenderRecords_Text(t *testing.T) {
	var out bytes.Buffer
	r := output.NewRenderer(&out, &out, output.ModeText)
	def := &core.Table{Name: "tasks", Fields: []core.Field{
		core.SingleLineText{FieldBase: core.FieldBase{Name: "title"}},
		core.MultipleLinkedRecord{FieldBase: core.FieldBase{Name: "helpers"}, Table: "people"},
	}}

	require.NoError(t, renderRecords(r, def, []core.Record{
		{ID: "t1", Fields: map[string]any{"title": "Ship it", "helpers": []string{"ann", "bob"}}},
	}))
	assert.Contains(t, out.String(), "helpers")
	assert.Contains(t, out.String(), "ann, bob")
	assert.Contains(t, out.String(), "(1 rows)")
}
