package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/leapstack-labs/leapbase/pkg/adapter"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
	pgdialect "github.com/leapstack-labs/leapbase/pkg/dialects/postgres"
)

// SQLSTATE codes of the constraint violations leapbase reports.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
	feed *NotifyFeed
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger, SQLDialect: pgdialect.Postgres},
	}
}

// Dialect returns the PostgreSQL dialect.
func (a *Adapter) Dialect() *dialect.Dialect {
	return a.SQLDialect
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := buildPostgresDSN(cfg)

	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return adapter.Redact(fmt.Errorf("failed to open postgres connection: %w", err), cfg)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return adapter.Redact(fmt.Errorf("failed to ping postgres: %w", err), cfg)
	}

	a.Conn = db
	a.Cfg = cfg
	a.feed = &NotifyFeed{DB: db, DSN: dsn, Dialect: a.SQLDialect, Logger: a.Logger}
	return nil
}

// buildPostgresDSN constructs a PostgreSQL connection string.
// An explicit DSN is used as is.
func buildPostgresDSN(cfg adapter.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if cfg.Options != nil {
		if mode, ok := cfg.Options["sslmode"]; ok {
			sslmode = mode
		}
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, cfg.Database, sslmode)

	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}

	return dsn
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

// ClassifyError maps SQLSTATE constraint codes to typed errors.
func (a *Adapter) ClassifyError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return adapter.Classify(op, table, err, violation(err))
}

func violation(err error) adapter.Violation {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return adapter.UniqueViolation
		case codeForeignKeyViolation:
			return adapter.ForeignKeyViolation
		}
		return adapter.NoViolation
	}
	return adapter.ViolationFromMessage(err.Error())
}

// ChangeFeed returns the LISTEN/NOTIFY feed.
func (a *Adapter) ChangeFeed() adapter.ChangeFeed {
	if a.feed == nil {
		return nil
	}
	return a.feed
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
