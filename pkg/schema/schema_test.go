package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialects/postgres"
	"github.com/leapstack-labs/leapbase/pkg/dialects/sqlite"
)

func tasks() *core.Table {
	return &core.Table{Name: "tasks", Fields: []core.Field{
		core.SingleLineText{FieldBase: core.FieldBase{Name: "title", Required: true}},
		core.Number{FieldBase: core.FieldBase{Name: "estimate"}},
		core.SingleSelect{FieldBase: core.FieldBase{Name: "status", Default: "todo"}, Options: []string{"todo", "done"}},
		core.SingleLinkedRecord{FieldBase: core.FieldBase{Name: "owner"}, Table: "people"},
		core.MultipleLinkedRecord{FieldBase: core.FieldBase{Name: "helpers"}, Table: "people"},
		core.Formula{FieldBase: core.FieldBase{Name: "big"}, Formula: "estimate > 5", Output: core.TypeCheckbox},
	}}
}

func TestPlan(t *testing.T) {
	cols, err := Plan(tasks())
	require.NoError(t, err)

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"id", "created_at", "updated_at", "title", "estimate", "status", "owner", "helpers", "big"}, names)

	assert.True(t, cols[0].PrimaryKey)
	assert.False(t, cols[0].Nullable)
	assert.Equal(t, core.ClassTimestamp, cols[1].Class)
	assert.False(t, cols[1].Nullable)
	assert.True(t, cols[2].Nullable)
	assert.Equal(t, core.ClassNumeric, cols[4].Class)
	assert.Equal(t, []string{"todo", "done"}, cols[5].Options)
	assert.Equal(t, "todo", cols[5].Default)
	assert.Equal(t, "people", cols[6].References)
	assert.True(t, cols[7].ViewOnly)
	assert.True(t, cols[8].ViewOnly)
	assert.Equal(t, core.ClassBoolean, cols[8].Class)

	assert.Len(t, Stored(cols), 7)
}

func TestPlan_Deterministic(t *testing.T) {
	a, err := Plan(tasks())
	require.NoError(t, err)
	b, err := Plan(tasks())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPlan_BadOutput(t *testing.T) {
	tbl := &core.Table{Name: "a", Fields: []core.Field{
		core.Formula{FieldBase: core.FieldBase{Name: "f"}, Formula: "1", Output: "Bogus"},
	}}
	_, err := Plan(tbl)
	var typeErr *core.InvalidFieldTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "a", typeErr.Table)
	assert.Equal(t, "f", typeErr.Field)
}

func live() []core.Column {
	return []core.Column{
		{Name: "id", Type: "TEXT", PrimaryKey: true},
		{Name: "created_at", Type: "TIMESTAMP"},
		{Name: "updated_at", Type: "TIMESTAMP", Nullable: true},
		{Name: "title", Type: "TEXT"},
		{Name: "estimate", Type: "NUMERIC", Nullable: true},
		{Name: "status", Type: "TEXT", Nullable: true},
		{Name: "owner", Type: "TEXT", Nullable: true},
	}
}

func TestDiff_Unchanged(t *testing.T) {
	cols, err := Plan(tasks())
	require.NoError(t, err)
	mp := Diff(live(), cols, sqlite.SQLite)
	assert.True(t, mp.Empty())
	assert.False(t, mp.NeedsRebuild(sqlite.SQLite))
	assert.Empty(t, mp.Orphans)
}

func TestDiff(t *testing.T) {
	tbl := tasks()
	tbl.Fields = append(tbl.Fields,
		core.Checkbox{FieldBase: core.FieldBase{Name: "urgent", Required: true, Default: false}},
		core.LongText{FieldBase: core.FieldBase{Name: "notes", OnMigration: core.OnMigration{Replace: "description"}}},
	)
	// estimate becomes text, title becomes optional.
	tbl.Fields[1] = core.SingleLineText{FieldBase: core.FieldBase{Name: "estimate"}}
	tbl.Fields[0] = core.SingleLineText{FieldBase: core.FieldBase{Name: "title"}}

	existing := append(live(),
		core.Column{Name: "description", Type: "TEXT", Nullable: true},
		core.Column{Name: "legacy", Type: "TEXT", Nullable: true},
	)

	cols, err := Plan(tbl)
	require.NoError(t, err)
	mp := Diff(existing, cols, sqlite.SQLite)

	require.Len(t, mp.ToAdd, 1)
	assert.Equal(t, "urgent", mp.ToAdd[0].Name)

	require.Len(t, mp.ToRename, 1)
	assert.Equal(t, "description", mp.ToRename[0].From)
	assert.Equal(t, "notes", mp.ToRename[0].Column.Name)

	require.Len(t, mp.ToAlter, 2)
	assert.Equal(t, "title", mp.ToAlter[0].Name)
	assert.Equal(t, "estimate", mp.ToAlter[1].Name)

	require.Len(t, mp.Orphans, 1)
	assert.Equal(t, "legacy", mp.Orphans[0].Name)

	assert.True(t, mp.NeedsRebuild(sqlite.SQLite))
	assert.False(t, mp.NeedsRebuild(postgres.Postgres))
}

func TestDiff_RequiredWithoutDefaultNeedsRebuildOnSQLite(t *testing.T) {
	tbl := tasks()
	tbl.Fields = append(tbl.Fields, core.Number{FieldBase: core.FieldBase{Name: "points", Required: true}})
	cols, err := Plan(tbl)
	require.NoError(t, err)

	mp := Diff(live(), cols, sqlite.SQLite)
	require.Len(t, mp.ToAdd, 1)
	assert.Empty(t, mp.ToAlter)
	assert.True(t, mp.NeedsRebuild(sqlite.SQLite))
}

func TestDiff_IntrospectedAliases(t *testing.T) {
	existing := []core.Column{
		{Name: "id", Type: "text", PrimaryKey: true},
		{Name: "created_at", Type: "timestamp with time zone"},
		{Name: "updated_at", Type: "timestamp with time zone", Nullable: true},
		{Name: "title", Type: "text"},
		{Name: "estimate", Type: "numeric", Nullable: true},
		{Name: "status", Type: "text", Nullable: true},
		{Name: "owner", Type: "text", Nullable: true},
	}
	cols, err := Plan(tasks())
	require.NoError(t, err)
	assert.True(t, Diff(existing, cols, postgres.Postgres).Empty())
}
