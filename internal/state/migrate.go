// Package state manages leapbase's internal bookkeeping tables: the change
// notification queue and the recorded view definitions.
package state

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrations embed.FS

// DuckDB has no goose dialect, so its internal schema is plain idempotent DDL.
var duckdbSchema = []string{
	`CREATE SEQUENCE IF NOT EXISTS _leapbase_notifications_seq`,
	`CREATE TABLE IF NOT EXISTS _leapbase_notifications (
    id BIGINT PRIMARY KEY DEFAULT nextval('_leapbase_notifications_seq'),
    payload VARCHAR NOT NULL,
    processed BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
)`,
	`CREATE TABLE IF NOT EXISTS _leapbase_views (
    name VARCHAR PRIMARY KEY,
    definition VARCHAR NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
)`,
}

// Migrate runs all pending internal migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database not opened")
	}

	switch s.d.Name {
	case "sqlite":
		return runGoose(ctx, db, goose.DialectSQLite3, "migrations/sqlite")
	case "postgres":
		return runGoose(ctx, db, goose.DialectPostgres, "migrations/postgres")
	default:
		for _, stmt := range duckdbSchema {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to initialize internal schema: %w", err)
			}
		}
		return nil
	}
}

func runGoose(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Version returns the applied internal schema version. DuckDB reports 0.
func (s *Store) Version(ctx context.Context, db *sql.DB) (int64, error) {
	var dialect goose.Dialect
	dir := ""
	switch s.d.Name {
	case "sqlite":
		dialect, dir = goose.DialectSQLite3, "migrations/sqlite"
	case "postgres":
		dialect, dir = goose.DialectPostgres, "migrations/postgres"
	default:
		return 0, nil
	}
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to open migrations: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider.GetDBVersion(ctx)
}
