package duckdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapbase/internal/state"
	"github.com/leapstack-labs/leapbase/internal/testutil"
	"github.com/leapstack-labs/leapbase/pkg/adapter"
	"github.com/leapstack-labs/leapbase/pkg/core"
)

func connect(t *testing.T, cfg adapter.Config) *Adapter {
	t.Helper()
	adp := New(testutil.NewTestLogger(t))
	require.NoError(t, adp.Connect(context.Background(), cfg))
	t.Cleanup(func() { _ = adp.Close() })
	return adp
}

func TestAdapter_Connect(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{name: "in-memory database", path: func(*testing.T) string { return "" }},
		{name: "file database", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "leapbase.duckdb") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adp := connect(t, adapter.Config{Type: "duckdb", Path: tt.path(t)})
			assert.True(t, adp.IsConnected())
			assert.NotNil(t, adp.ChangeFeed())
		})
	}
}

func TestAdapter_NotConnected(t *testing.T) {
	adp := New(nil)
	assert.Nil(t, adp.DB())
	assert.Nil(t, adp.ChangeFeed())
	assert.ErrorIs(t, adp.Bootstrap(context.Background()), adapter.ErrNotConnected)
	assert.NoError(t, adp.Close())
}

func TestAdapter_BootstrapAndIntrospection(t *testing.T) {
	ctx := context.Background()
	adp := connect(t, adapter.Config{Type: "duckdb"})
	require.NoError(t, adp.Bootstrap(ctx))
	require.NoError(t, adp.Bootstrap(ctx), "bootstrap is idempotent")

	_, err := adp.DB().ExecContext(ctx, `CREATE TABLE "tasks" ("id" VARCHAR PRIMARY KEY, "title" VARCHAR NOT NULL, "estimate" DOUBLE)`)
	require.NoError(t, err)
	_, err = adp.DB().ExecContext(ctx, `CREATE VIEW "tasks_view" AS SELECT * FROM "tasks"`)
	require.NoError(t, err)

	ok, err := adp.TableExists(ctx, adp.DB(), "tasks")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adp.ViewExists(ctx, adp.DB(), "tasks_view")
	require.NoError(t, err)
	assert.True(t, ok)

	cols, err := adp.Columns(ctx, adp.DB(), "tasks")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "id", cols[0].Name)
	assert.True(t, cols[0].PrimaryKey)
	assert.False(t, cols[1].Nullable)
	assert.True(t, cols[2].Nullable)

	class, ok := adp.Dialect().ClassOf(cols[2].Type)
	require.True(t, ok)
	assert.Equal(t, core.ClassNumeric, class)
}

func TestAdapter_OutboxFeed(t *testing.T) {
	ctx := context.Background()
	adp := connect(t, adapter.Config{Type: "duckdb"})
	require.NoError(t, adp.Bootstrap(ctx))

	require.NoError(t, adp.ChangeFeed().Install(ctx, []string{"tasks"}), "outbox has nothing to install")
	require.NoError(t, state.New(adp.Dialect()).Enqueue(ctx, adp.DB(),
		core.ChangeEvent{Table: "tasks", Action: core.ActionInsert, RecordID: "t1"}))

	feed, ok := adp.ChangeFeed().(*adapter.QueueFeed)
	require.True(t, ok)

	var got []core.ChangeEvent
	require.NoError(t, feed.Poll(ctx, func(ev core.ChangeEvent) error {
		got = append(got, ev)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].RecordID)
}

func TestAdapter_ClassifyError(t *testing.T) {
	adp := New(nil)

	var dup *core.DuplicateIDError
	assert.ErrorAs(t, adp.ClassifyError("insert", "tasks",
		errors.New(`Constraint Error: Duplicate key "id: t1" violates primary key constraint.`)), &dup)

	var link *core.InvalidLinkedRecordError
	assert.ErrorAs(t, adp.ClassifyError("insert", "tasks",
		errors.New(`Constraint Error: Violates foreign key constraint because key "id: p9" does not exist in the referenced table`)), &link)

	var se *core.StorageError
	assert.ErrorAs(t, adp.ClassifyError("read", "tasks", errors.New("Catalog Error: Table with name tasks does not exist!")), &se)
}

func TestConnect_WithSettings(t *testing.T) {
	adp := connect(t, adapter.Config{
		Type:    "duckdb",
		Options: map[string]string{"threads": "2", "memory_limit": "512MB"},
	})

	var threads int64
	require.NoError(t, adp.DB().QueryRow("SELECT current_setting('threads')").Scan(&threads))
	assert.Equal(t, int64(2), threads)
}

func TestConnect_InvalidSettingName(t *testing.T) {
	adp := New(nil)
	err := adp.Connect(context.Background(), adapter.Config{
		Options: map[string]string{"drop table x; --": "1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duckdb setting name")
}
