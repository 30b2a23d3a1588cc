package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/leapstack-labs/leapbase/internal/state"
	"github.com/leapstack-labs/leapbase/pkg/adapter"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
	sqlitedialect "github.com/leapstack-labs/leapbase/pkg/dialects/sqlite"
)

// Adapter implements the adapter.Adapter interface for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
	feed *adapter.QueueFeed
}

// New creates a new SQLite adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger, SQLDialect: sqlitedialect.SQLite},
	}
}

// Dialect returns the SQLite dialect.
func (a *Adapter) Dialect() *dialect.Dialect {
	return a.SQLDialect
}

// Connect opens the database file named by cfg.DSN or cfg.Path.
// An empty path opens a private in-memory database.
//
// The pool is limited to one connection: SQLite allows a single writer
// and in-memory databases live only as long as their connection.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := buildSQLiteDSN(cfg)

	a.Logger.Debug("connecting to sqlite", slog.String("path", cfg.Path))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return adapter.Redact(fmt.Errorf("failed to open sqlite database: %w", err), cfg)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return adapter.Redact(fmt.Errorf("failed to ping sqlite: %w", err), cfg)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	a.Conn = db
	a.Cfg = cfg
	a.feed = adapter.NewQueueFeed(db, a.SQLDialect, 0, a.Logger)
	a.feed.InstallFunc = a.installTriggers
	return nil
}

func buildSQLiteDSN(cfg adapter.Config) string {
	switch {
	case cfg.DSN != "":
		return cfg.DSN
	case cfg.Path != "":
		return cfg.Path
	default:
		return ":memory:"
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// TableExists reports whether a base table exists.
func (a *Adapter) TableExists(ctx context.Context, q core.Querier, name string) (bool, error) {
	return a.masterEntryExists(ctx, q, "table", name)
}

// ViewExists reports whether a view exists.
func (a *Adapter) ViewExists(ctx context.Context, q core.Querier, name string) (bool, error) {
	return a.masterEntryExists(ctx, q, "view", name)
}

func (a *Adapter) masterEntryExists(ctx context.Context, q core.Querier, typ, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", typ, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query table metadata: %w", err)
	}
	return n > 0, nil
}

// Columns lists the columns of a table with PRAGMA table_info.
func (a *Adapter) Columns(ctx context.Context, q core.Querier, table string) ([]core.Column, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA table_info("+a.SQLDialect.QuoteIdentifier(table)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.Column
	for rows.Next() {
		var (
			cid     int
			col     core.Column
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Position = cid + 1
		col.PrimaryKey = pk > 0
		// SQLite lets non-integer primary keys hold NULL unless declared NOT NULL.
		col.Nullable = notNull == 0 && !col.PrimaryKey
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return columns, nil
}

// ClassifyError maps SQLite constraint failures to typed errors.
func (a *Adapter) ClassifyError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return adapter.Classify(op, table, err, violation(err))
}

func violation(err error) adapter.Violation {
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return adapter.UniqueViolation
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return adapter.ForeignKeyViolation
		}
	}
	return adapter.ViolationFromMessage(err.Error())
}

// ChangeFeed returns the trigger-backed queue feed.
func (a *Adapter) ChangeFeed() adapter.ChangeFeed {
	if a.feed == nil {
		return nil
	}
	return a.feed
}

// TriggerName is the name of the change trigger for a table and action.
func TriggerName(table, action string) string {
	return fmt.Sprintf("after_%s_%s_trigger", strings.ToLower(action), table)
}

// TriggerStatements returns the statements that (re)install the change
// triggers of a table.
func TriggerStatements(d *dialect.Dialect, table string) []string {
	var stmts []string
	for _, action := range []string{core.ActionInsert, core.ActionUpdate, core.ActionDelete} {
		row := "NEW"
		if action == core.ActionDelete {
			row = "OLD"
		}
		name := d.QuoteIdentifier(TriggerName(table, action))
		stmts = append(stmts,
			"DROP TRIGGER IF EXISTS "+name,
			fmt.Sprintf(`CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW
BEGIN
  INSERT INTO %s (payload)
  VALUES (json_object('table', %s, 'action', '%s', 'record_id', %s.%s));
END`,
				name, action, d.QuoteIdentifier(table),
				state.NotificationsTable, d.QuoteString(table), action, row, d.QuoteIdentifier(core.FieldID)),
		)
	}
	return stmts
}

func (a *Adapter) installTriggers(ctx context.Context, table string) error {
	for _, stmt := range TriggerStatements(a.SQLDialect, table) {
		if _, err := a.Conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to install trigger: %w", err)
		}
	}
	a.Logger.Debug("installed change triggers", slog.String("table", table))
	return nil
}

// BeginRebuild turns off foreign key enforcement on conn. The pragma is
// ignored inside a transaction, so it has to run before BEGIN.
func (a *Adapter) BeginRebuild(ctx context.Context, conn *sql.Conn) (func(context.Context) error, error) {
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return nil, fmt.Errorf("failed to disable foreign keys: %w", err)
	}
	return func(ctx context.Context) error {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		return nil
	}, nil
}

// VerifyRebuild fails when the rebuilt schema left dangling references.
func (a *Adapter) VerifyRebuild(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("failed to check foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if rows.Next() {
		var (
			table  string
			rowid  sql.NullInt64
			parent string
			fkid   int
		)
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("failed to scan foreign key check: %w", err)
		}
		return &core.InvalidLinkedRecordError{
			Table: table,
			Err:   fmt.Errorf("rows of %q reference missing records of %q", table, parent),
		}
	}
	return rows.Err()
}

// Ensure Adapter implements the adapter interfaces
var (
	_ adapter.Adapter   = (*Adapter)(nil)
	_ adapter.Rebuilder = (*Adapter)(nil)
)
