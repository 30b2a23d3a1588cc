package state

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialects/postgres"
	"github.com/leapstack-labs/leapbase/pkg/dialects/sqlite"
)

func setupTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := New(sqlite.SQLite)
	require.NoError(t, s.Migrate(context.Background(), db))
	return s, db
}

func TestMigrate_Idempotent(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx, db), "second run applies nothing")

	version, err := s.Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	for _, table := range []string{NotificationsTable, ViewsTable} {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s should exist", table)
	}
}

func TestQueue_Lifecycle(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, db, core.ChangeEvent{Table: "tasks", Action: core.ActionInsert, RecordID: "t1"}))
	require.NoError(t, s.Enqueue(ctx, db, core.ChangeEvent{Table: "tasks", Action: core.ActionDelete, RecordID: "t1"}))

	pending, err := s.Pending(ctx, db, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "tasks", pending[0].Table)
	assert.Equal(t, core.ActionInsert, pending[0].Action)
	assert.Equal(t, "t1", pending[0].RecordID)
	assert.Less(t, pending[0].Seq, pending[1].Seq)

	require.NoError(t, s.MarkProcessed(ctx, db, pending[0].Seq))

	pending, err = s.Pending(ctx, db, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, core.ActionDelete, pending[0].Action)

	require.NoError(t, s.MarkProcessed(ctx, db))

	later, err := s.Pending(ctx, db, pending[0].Seq, 10)
	require.NoError(t, err)
	assert.Empty(t, later, "entries at or below the cursor are skipped")
}

func TestQueue_UndecodablePayload(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()

	_, err := db.Exec("INSERT INTO " + NotificationsTable + " (payload) VALUES ('not json')")
	require.NoError(t, err)

	pending, err := s.Pending(ctx, db, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Empty(t, pending[0].Table)
	assert.NotZero(t, pending[0].Seq)
}

func TestViewDefinitions(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()

	_, ok, err := s.ViewDefinition(ctx, db, "tasks_view")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveView(ctx, db, "tasks_view", "SELECT 1"))
	require.NoError(t, s.SaveView(ctx, db, "tasks_view", "SELECT 2"))

	def, ok, err := s.ViewDefinition(ctx, db, "tasks_view")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SELECT 2", def)

	require.NoError(t, s.DeleteView(ctx, db, "tasks_view"))
	_, ok, err = s.ViewDefinition(ctx, db, "tasks_view")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    core.ChangeEvent
		wantErr bool
	}{
		{
			name:    "trigger payload",
			payload: `{"table":"people","action":"update","record_id":"p1"}`,
			want:    core.ChangeEvent{Seq: 7, Table: "people", Action: core.ActionUpdate, RecordID: "p1"},
		},
		{name: "missing action", payload: `{"table":"people"}`, wantErr: true},
		{name: "not json", payload: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent(7, tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("UPDATE _leapbase_notifications SET processed = $1 WHERE id IN ($2, $3)").
		WithArgs(true, int64(4), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM _leapbase_views WHERE name = $1").
		WithArgs("tasks_view").
		WillReturnError(assert.AnError)

	s := New(postgres.Postgres)
	require.NoError(t, s.MarkProcessed(context.Background(), db, 4, 5))

	err = s.SaveView(context.Background(), db, "tasks_view", "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete view definition")

	assert.NoError(t, mock.ExpectationsWereMet())
}
