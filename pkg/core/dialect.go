package core

// DialectConfig holds the static configuration for a SQL dialect.
// The behavior built on top of it lives in pkg/dialect.Dialect.
type DialectConfig struct {
	// Name is the dialect identifier (e.g., "sqlite", "postgres")
	Name string

	// Identifiers defines quoting rules
	Identifiers IdentifierConfig

	// DefaultSchema is the schema used for introspection ("public" for Postgres)
	DefaultSchema string

	// Placeholder defines how query parameters are formatted
	Placeholder PlaceholderStyle

	// Types maps each type class to the SQL type used in DDL
	Types map[TypeClass]string

	// Capabilities describes what the backend can do in place
	Capabilities Capabilities
}

// PlaceholderStyle defines how query parameters are formatted.
type PlaceholderStyle int

const (
	// PlaceholderQuestion uses ? for all parameters (DuckDB, SQLite).
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar uses $1, $2, etc. for parameters (PostgreSQL).
	PlaceholderDollar
)

// IdentifierConfig defines how identifiers are quoted.
type IdentifierConfig struct {
	Quote    string // Quote character: ", `, [
	QuoteEnd string // End quote character (usually same as Quote, ] for [)
	Escape   string // Escape sequence: "", ``, ]]
}

// NotifyMode is how a backend reports row changes.
type NotifyMode int

const (
	// NotifyTriggerQueue uses row triggers that append to the notification queue.
	NotifyTriggerQueue NotifyMode = iota
	// NotifyNative uses row triggers that push through a native channel.
	NotifyNative
	// NotifyOutbox has no triggers; writers append to the queue themselves.
	NotifyOutbox
)

// Capabilities lists backend features that change how schema work is done.
type Capabilities struct {
	// AlterColumnType is true when column type and nullability can change in place.
	AlterColumnType bool
	// TransactionalDDL is true when DDL is invisible to other sessions until commit.
	TransactionalDDL bool
	// AddColumnConstraints is true when ADD COLUMN accepts NOT NULL, CHECK
	// and REFERENCES clauses.
	AddColumnConstraints bool
	// Notify selects the change feed strategy.
	Notify NotifyMode
}
