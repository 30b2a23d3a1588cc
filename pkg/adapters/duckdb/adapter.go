package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/leapstack-labs/leapbase/pkg/adapter"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
	duckdbdialect "github.com/leapstack-labs/leapbase/pkg/dialects/duckdb"
)

// Adapter implements the adapter.Adapter interface for DuckDB.
//
// DuckDB has no triggers. Its change feed reads the notification queue
// that the storage engine writes inside each mutation transaction.
type Adapter struct {
	adapter.BaseSQLAdapter
	feed *adapter.QueueFeed
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger, SQLDialect: duckdbdialect.DuckDB},
	}
}

// Dialect returns the DuckDB dialect.
func (a *Adapter) Dialect() *dialect.Dialect {
	return a.SQLDialect
}

// Connect establishes a connection to DuckDB.
// An empty path opens an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	path := cfg.Path
	if cfg.DSN != "" {
		path = cfg.DSN
	}
	if path == "" {
		path = ":memory:"
	}

	params, err := ParseParams(cfg.Options)
	if err != nil {
		return err
	}
	settings, err := params.SettingStatements()
	if err != nil {
		return err
	}

	a.Logger.Debug("connecting to duckdb", slog.String("path", cfg.Path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return adapter.Redact(fmt.Errorf("failed to open duckdb connection: %w", err), cfg)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return adapter.Redact(fmt.Errorf("failed to ping duckdb: %w", err), cfg)
	}

	// One connection keeps session settings and in-memory data together.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range settings {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply setting: %w", err)
		}
	}

	a.Conn = db
	a.Cfg = cfg
	a.feed = adapter.NewQueueFeed(db, a.SQLDialect, 0, a.Logger)
	return nil
}

// TableExists reports whether a base table exists.
func (a *Adapter) TableExists(ctx context.Context, q core.Querier, name string) (bool, error) {
	return a.RelationExists(ctx, q, name, "BASE TABLE")
}

// ViewExists reports whether a view exists.
func (a *Adapter) ViewExists(ctx context.Context, q core.Querier, name string) (bool, error) {
	return a.RelationExists(ctx, q, name, "VIEW")
}

// Columns lists the columns of a table from information_schema.
func (a *Adapter) Columns(ctx context.Context, q core.Querier, table string) ([]core.Column, error) {
	return a.InformationSchemaColumns(ctx, q, table)
}

// ClassifyError maps DuckDB constraint errors to typed errors. The driver
// reports constraint failures only through the message text.
func (a *Adapter) ClassifyError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return adapter.Classify(op, table, err, adapter.ViolationFromMessage(err.Error()))
}

// ChangeFeed returns the outbox queue feed.
func (a *Adapter) ChangeFeed() adapter.ChangeFeed {
	if a.feed == nil {
		return nil
	}
	return a.feed
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
