package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapbase/internal/testutil"
	"github.com/leapstack-labs/leapbase/pkg/adapter"
	"github.com/leapstack-labs/leapbase/pkg/adapters/sqlite"
	"github.com/leapstack-labs/leapbase/pkg/core"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// testClock advances one second per call.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func sequentialIDs(prefix string) IDGenerator {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

// connectSQLite opens a private in-memory database.
func connectSQLite(t *testing.T) *sqlite.Adapter {
	t.Helper()
	a := sqlite.New(testutil.NewTestLogger(t))
	require.NoError(t, a.Connect(context.Background(), adapter.Config{Type: "sqlite"}))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// newTestEngine builds an engine over a and closes it when the test ends.
func newTestEngine(t *testing.T, a adapter.Adapter, tables []core.Table, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithLogger(testutil.NewTestLogger(t)),
		WithClock((&testClock{now: epoch}).Now),
	}, opts...)
	e, err := New(context.Background(), a, tables, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// setupEngine builds an engine over a fresh database and creates every
// table.
func setupEngine(t *testing.T, tables []core.Table, opts ...Option) *Engine {
	t.Helper()
	e := newTestEngine(t, connectSQLite(t), tables, opts...)
	_, err := e.Setup(context.Background())
	require.NoError(t, err)
	return e
}

func table(t *testing.T, e *Engine, name string) *Table {
	t.Helper()
	tbl, err := e.Table(name)
	require.NoError(t, err)
	return tbl
}

func peopleTable() core.Table {
	return core.Table{Name: "people", Fields: []core.Field{
		core.SingleLineText{FieldBase: core.FieldBase{Name: "name", Required: true}},
		core.Number{FieldBase: core.FieldBase{Name: "hours"}},
		core.Email{FieldBase: core.FieldBase{Name: "email"}},
	}}
}

func tasksTable() core.Table {
	return core.Table{Name: "tasks", Fields: []core.Field{
		core.SingleLineText{FieldBase: core.FieldBase{Name: "title", Required: true}},
		core.SingleSelect{FieldBase: core.FieldBase{Name: "status", Default: "todo"}, Options: []string{"todo", "done"}},
		core.Number{FieldBase: core.FieldBase{Name: "estimate"}},
		core.Checkbox{FieldBase: core.FieldBase{Name: "done"}},
		core.DateTime{FieldBase: core.FieldBase{Name: "due"}},
		core.SingleLinkedRecord{FieldBase: core.FieldBase{Name: "owner"}, Table: "people"},
		core.MultipleLinkedRecord{FieldBase: core.FieldBase{Name: "helpers"}, Table: "people"},
		core.Rollup{FieldBase: core.FieldBase{Name: "helper_hours"}, LinkedRecords: "helpers", LinkedField: "hours", Formula: "SUM(values)", Output: core.TypeNumber},
		core.Formula{FieldBase: core.FieldBase{Name: "shout"}, Formula: "UPPER(title)", Output: core.TypeSingleLineText},
	}}
}

// tasksAndPeople lists tasks first so Setup has to order by foreign keys.
func tasksAndPeople() []core.Table {
	return []core.Table{tasksTable(), peopleTable()}
}

func TestNew_RejectsInvalidModel(t *testing.T) {
	a := connectSQLite(t)
	_, err := New(context.Background(), a, []core.Table{
		{Name: "tasks", Fields: []core.Field{
			core.SingleLinkedRecord{FieldBase: core.FieldBase{Name: "owner"}, Table: "ghosts"},
		}},
	})
	var ce *core.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestNew_RequiresConnection(t *testing.T) {
	a := sqlite.New(nil)
	_, err := New(context.Background(), a, tasksAndPeople())
	assert.ErrorIs(t, err, adapter.ErrNotConnected)
}

func TestOpen_OwnsAdapter(t *testing.T) {
	e, err := Open(context.Background(), core.AdapterConfig{Type: "sqlite"}, []core.Table{peopleTable()})
	require.NoError(t, err)
	_, err = e.Setup(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close is idempotent")
}

func TestEngine_Table(t *testing.T) {
	e := newTestEngine(t, connectSQLite(t), tasksAndPeople())

	tbl, err := e.Table("tasks")
	require.NoError(t, err)
	assert.Equal(t, "tasks", tbl.Name())
	assert.Equal(t, "tasks_view", tbl.ViewName())
	assert.Len(t, tbl.Definition().Fields, 9)

	_, err = e.Table("ghosts")
	var ce *core.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestEngine_Setup(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, connectSQLite(t), tasksAndPeople())

	results, err := e.Setup(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "people", results[0].Table, "referenced tables come first")
	assert.Equal(t, "tasks", results[1].Table)
	for _, res := range results {
		assert.True(t, res.Created, res.Table)
		assert.True(t, res.Changed(), res.Table)
	}

	for _, name := range []string{"people", "tasks"} {
		tbl := table(t, e, name)
		assert.True(t, tbl.Exists(ctx), name)
		assert.True(t, tbl.ViewExists(ctx), name)
	}

	// A second run finds nothing to do.
	results, err = e.Setup(ctx)
	require.NoError(t, err)
	for _, res := range results {
		assert.False(t, res.Created, res.Table)
		assert.Empty(t, res.Statements, res.Table)
		assert.True(t, res.Plan.Empty(), res.Table)
	}
}

func TestEngine_Plan(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, connectSQLite(t), tasksAndPeople())

	results, err := e.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Created)
	assert.Contains(t, results[1].Views, "tasks_view", "views over planned tables are planned too")
	assert.NotEmpty(t, results[1].Statements)

	assert.False(t, table(t, e, "people").Exists(ctx), "planning runs nothing")
	assert.False(t, table(t, e, "tasks").Exists(ctx))
}

func TestTable_Create(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, connectSQLite(t), []core.Table{peopleTable()})
	people := table(t, e, "people")

	require.NoError(t, people.Create(ctx))
	assert.True(t, people.Exists(ctx))
	assert.True(t, people.ViewExists(ctx))

	err := people.Create(ctx)
	var exists *core.TableAlreadyExistsError
	assert.ErrorAs(t, err, &exists)
}

// lateTableAdapter reports hidden tables as missing, as if another
// process created them right after the lookup. It records the querier
// each lookup ran on.
type lateTableAdapter struct {
	*sqlite.Adapter
	hidden string

	mu        sync.Mutex
	queriers []core.Querier
}

func (a *lateTableAdapter) TableExists(ctx context.Context, q core.Querier, name string) (bool, error) {
	a.mu.Lock()
	a.queriers = append(a.queriers, q)
	a.mu.Unlock()
	if name == a.hidden {
		return false, nil
	}
	return a.Adapter.TableExists(ctx, q, name)
}

func TestTable_CreateRacingCreator(t *testing.T) {
	ctx := context.Background()
	base := connectSQLite(t)
	a := &lateTableAdapter{Adapter: base, hidden: "people"}
	e := newTestEngine(t, a, []core.Table{peopleTable()})

	_, err := base.DB().ExecContext(ctx, `CREATE TABLE "people" ("id" TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	err = table(t, e, "people").Create(ctx)
	var exists *core.TableAlreadyExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "people", exists.Table)

	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.queriers)
	_, inTx := a.queriers[len(a.queriers)-1].(*sql.Tx)
	assert.True(t, inTx, "existence checks run inside the create transaction")
}

func TestRelationAlreadyExists(t *testing.T) {
	a := connectSQLite(t)
	_, err := a.DB().Exec(`CREATE TABLE "dup" ("id" TEXT)`)
	require.NoError(t, err)
	_, err = a.DB().Exec(`CREATE TABLE "dup" ("id" TEXT)`)
	require.Error(t, err)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "sqlite", err: err, want: true},
		{name: "postgres", err: errors.New(`ERROR: relation "dup" already exists (SQLSTATE 42P07)`), want: true},
		{name: "duckdb", err: errors.New("Catalog Error: Table with name dup already exists!"), want: true},
		{name: "other", err: errors.New("no such table: dup"), want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relationAlreadyExists(tt.err), tt.name)
	}
}

func TestTable_CreateDefersViewUntilLinksExist(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, connectSQLite(t), tasksAndPeople())
	tasks := table(t, e, "tasks")
	people := table(t, e, "people")

	// tasks links to people, which does not exist yet.
	require.NoError(t, tasks.Create(ctx))
	assert.True(t, tasks.Exists(ctx))
	assert.False(t, tasks.ViewExists(ctx), "the view waits for the join table")

	require.NoError(t, people.Create(ctx))
	assert.True(t, tasks.ViewExists(ctx), "creating the linked table completes the view")
}
