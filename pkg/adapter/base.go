package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapbase/internal/state"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
)

// ErrNotConnected is returned by adapter methods called before Connect.
var ErrNotConnected = errors.New("database connection not established")

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close, DB and Bootstrap implementations and information_schema
// introspection.
type BaseSQLAdapter struct {
	Conn       *sql.DB
	Cfg        core.AdapterConfig
	Logger     *slog.Logger
	SQLDialect *dialect.Dialect
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.Conn != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.Conn.Close()
	}
	return nil
}

// DB returns the connection pool, or nil before Connect.
func (b *BaseSQLAdapter) DB() *sql.DB {
	return b.Conn
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.Conn != nil
}

// Bootstrap creates the internal tables through the state store.
func (b *BaseSQLAdapter) Bootstrap(ctx context.Context) error {
	if b.Conn == nil {
		return ErrNotConnected
	}
	if err := state.New(b.SQLDialect).Migrate(ctx, b.Conn); err != nil {
		return &core.StorageError{Op: "bootstrap", Err: err}
	}
	return nil
}

// ParseQualifiedName splits a table reference into schema and name.
// Uses the dialect's default schema if not specified.
func ParseQualifiedName(table string, d *dialect.Dialect) (schema, name string) {
	if parts := strings.Split(table, "."); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return d.DefaultSchema, table
}

// RelationExists checks information_schema.tables for a relation of the
// given table_type ("BASE TABLE" or "VIEW").
func (b *BaseSQLAdapter) RelationExists(ctx context.Context, q core.Querier, name, tableType string) (bool, error) {
	schema, relName := ParseQualifiedName(name, b.SQLDialect)

	//nolint:gosec // Placeholders are safe - they come from dialect.FormatPlaceholder
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = %s AND table_name = %s AND table_type = %s
	`, b.SQLDialect.FormatPlaceholder(1), b.SQLDialect.FormatPlaceholder(2), b.SQLDialect.FormatPlaceholder(3))

	var n int
	if err := q.QueryRowContext(ctx, query, schema, relName, tableType).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to query table metadata: %w", err)
	}
	return n > 0, nil
}

// InformationSchemaColumns lists the columns of a table from
// information_schema, marking primary key columns.
func (b *BaseSQLAdapter) InformationSchemaColumns(ctx context.Context, q core.Querier, table string) ([]core.Column, error) {
	schema, tableName := ParseQualifiedName(table, b.SQLDialect)
	d := b.SQLDialect

	//nolint:gosec // Placeholders are safe - they come from dialect.FormatPlaceholder
	query := fmt.Sprintf(`
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.ordinal_position,
			CASE WHEN k.column_name IS NULL THEN 0 ELSE 1 END
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.table_schema, kcu.table_name, kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON kcu.constraint_name = tc.constraint_name
				AND kcu.table_schema = tc.table_schema
				AND kcu.table_name = tc.table_name
			WHERE tc.constraint_type = 'PRIMARY KEY'
		) k ON k.table_schema = c.table_schema
			AND k.table_name = c.table_name
			AND k.column_name = c.column_name
		WHERE c.table_schema = %s AND c.table_name = %s
		ORDER BY c.ordinal_position
	`, d.FormatPlaceholder(1), d.FormatPlaceholder(2))

	rows, err := q.QueryContext(ctx, query, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []core.Column
	for rows.Next() {
		var col core.Column
		var nullable string
		var pk int
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		col.PrimaryKey = pk == 1
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
