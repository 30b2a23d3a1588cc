package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapbase/internal/state"
	"github.com/leapstack-labs/leapbase/internal/testutil"
	"github.com/leapstack-labs/leapbase/pkg/adapter"
	"github.com/leapstack-labs/leapbase/pkg/core"
)

func connect(t *testing.T) *Adapter {
	t.Helper()
	a := New(testutil.NewTestLogger(t))
	require.NoError(t, a.Connect(context.Background(), adapter.Config{Type: "sqlite"}))
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Bootstrap(context.Background()))
	return a
}

func exec(t *testing.T, a *Adapter, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		_, err := a.DB().Exec(s)
		require.NoError(t, err, s)
	}
}

const peopleAndTasks = `CREATE TABLE "people" ("id" TEXT PRIMARY KEY NOT NULL, "name" TEXT NOT NULL);
CREATE TABLE "tasks" (
  "id" TEXT PRIMARY KEY NOT NULL,
  "title" TEXT NOT NULL,
  "estimate" NUMERIC,
  "owner" TEXT,
  FOREIGN KEY ("owner") REFERENCES "people"("id")
)`

func TestBuildSQLiteDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  adapter.Config
		want string
	}{
		{"empty is memory", adapter.Config{}, ":memory:"},
		{"path", adapter.Config{Path: "data/app.db"}, "data/app.db"},
		{"dsn wins", adapter.Config{Path: "ignored.db", DSN: "file:x?mode=memory"}, "file:x?mode=memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildSQLiteDSN(tt.cfg))
		})
	}
}

func TestAdapter_Introspection(t *testing.T) {
	a := connect(t)
	ctx := context.Background()
	exec(t, a, peopleAndTasks, `CREATE VIEW "tasks_view" AS SELECT * FROM "tasks"`)

	ok, err := a.TableExists(ctx, a.DB(), "tasks")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.TableExists(ctx, a.DB(), "tasks_view")
	require.NoError(t, err)
	assert.False(t, ok, "a view is not a table")

	ok, err = a.ViewExists(ctx, a.DB(), "tasks_view")
	require.NoError(t, err)
	assert.True(t, ok)

	cols, err := a.Columns(ctx, a.DB(), "tasks")
	require.NoError(t, err)
	assert.Equal(t, []core.Column{
		{Name: "id", Type: "TEXT", PrimaryKey: true, Position: 1},
		{Name: "title", Type: "TEXT", Position: 2},
		{Name: "estimate", Type: "NUMERIC", Nullable: true, Position: 3},
		{Name: "owner", Type: "TEXT", Nullable: true, Position: 4},
	}, cols)

	_, err = a.Columns(ctx, a.DB(), "ghosts")
	assert.ErrorContains(t, err, "table ghosts not found")
}

func TestAdapter_ClassifyError(t *testing.T) {
	a := connect(t)
	exec(t, a, peopleAndTasks, `INSERT INTO "people" ("id", "name") VALUES ('p1', 'Ada')`)

	_, err := a.DB().Exec(`INSERT INTO "people" ("id", "name") VALUES ('p1', 'Again')`)
	require.Error(t, err)
	var dup *core.DuplicateIDError
	assert.ErrorAs(t, a.ClassifyError("insert", "people", err), &dup)

	_, err = a.DB().Exec(`INSERT INTO "tasks" ("id", "title", "owner") VALUES ('t1', 'x', 'nobody')`)
	require.Error(t, err)
	var link *core.InvalidLinkedRecordError
	assert.ErrorAs(t, a.ClassifyError("insert", "tasks", err), &link)

	_, err = a.DB().Exec(`SELECT * FROM "missing"`)
	require.Error(t, err)
	var se *core.StorageError
	assert.ErrorAs(t, a.ClassifyError("read", "missing", err), &se)

	assert.NoError(t, a.ClassifyError("read", "tasks", nil))
}

func TestAdapter_TriggerFeed(t *testing.T) {
	a := connect(t)
	ctx := context.Background()
	exec(t, a, peopleAndTasks)

	feed := a.ChangeFeed()
	require.NoError(t, feed.Install(ctx, []string{"people"}))
	require.NoError(t, feed.Install(ctx, []string{"people"}), "install is idempotent")

	exec(t, a,
		`INSERT INTO "people" ("id", "name") VALUES ('p1', 'Ada')`,
		`UPDATE "people" SET "name" = 'Ada L.' WHERE "id" = 'p1'`,
		`DELETE FROM "people" WHERE "id" = 'p1'`,
	)

	events, err := state.New(a.Dialect()).Pending(ctx, a.DB(), 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, action := range []string{core.ActionInsert, core.ActionUpdate, core.ActionDelete} {
		assert.Equal(t, "people", events[i].Table)
		assert.Equal(t, action, events[i].Action)
		assert.Equal(t, "p1", events[i].RecordID)
	}
}

func TestTriggerName(t *testing.T) {
	assert.Equal(t, "after_insert_tasks_trigger", TriggerName("tasks", core.ActionInsert))
	assert.Equal(t, "after_delete_people_trigger", TriggerName("people", core.ActionDelete))
}

func TestAdapter_RebuildVerify(t *testing.T) {
	a := connect(t)
	ctx := context.Background()
	exec(t, a, peopleAndTasks,
		`INSERT INTO "people" ("id", "name") VALUES ('p1', 'Ada')`,
		`INSERT INTO "tasks" ("id", "title", "owner") VALUES ('t1', 'x', 'p1')`,
	)

	conn, err := a.DB().Conn(ctx)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	restore, err := a.BeginRebuild(ctx, conn)
	require.NoError(t, err)

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `DELETE FROM "people"`)
	require.NoError(t, err, "enforcement is off during a rebuild")

	err = a.VerifyRebuild(ctx, tx)
	var link *core.InvalidLinkedRecordError
	require.ErrorAs(t, err, &link)
	assert.Equal(t, "tasks", link.Table)
	require.NoError(t, tx.Rollback())

	require.NoError(t, restore(ctx))
	_, err = conn.ExecContext(ctx, `DELETE FROM "people"`)
	assert.Error(t, err, "enforcement is back on")
}
