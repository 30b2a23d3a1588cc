// Package adapter defines the contract between the storage engine and a
// relational backend: connection, introspection, error classification,
// internal schema bootstrap and change feeds.
//
// Concrete adapters live in pkg/adapters/*/ and register themselves from
// init(). Import them for side effects:
//
//	import _ "github.com/leapstack-labs/leapbase/pkg/adapters/sqlite"
package adapter

import (
	"context"
	"database/sql"

	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
)

// Config is an alias for core.AdapterConfig.
type Config = core.AdapterConfig

// Adapter is a connected relational backend.
//
// Introspection methods take a querier so they can run inside the
// transaction of a schema change. On single-connection backends a query
// on the *sql.DB while a transaction is open would block.
type Adapter interface {
	// Connect opens the connection described by cfg.
	Connect(ctx context.Context, cfg core.AdapterConfig) error
	// Close releases the connection.
	Close() error
	// DB returns the shared connection pool.
	DB() *sql.DB
	// Dialect returns the SQL dialect of the backend.
	Dialect() *dialect.Dialect

	// TableExists reports whether a base table exists.
	TableExists(ctx context.Context, q core.Querier, name string) (bool, error)
	// ViewExists reports whether a view exists.
	ViewExists(ctx context.Context, q core.Querier, name string) (bool, error)
	// Columns returns the live columns of a table in ordinal order.
	Columns(ctx context.Context, q core.Querier, table string) ([]core.Column, error)

	// ClassifyError maps a driver error to a typed core error.
	ClassifyError(op, table string, err error) error
	// Bootstrap creates the internal tables.
	Bootstrap(ctx context.Context) error
	// ChangeFeed returns the backend's row change feed.
	ChangeFeed() ChangeFeed
}

// ChangeFeed reports row-level changes of user tables.
type ChangeFeed interface {
	// Install prepares the given tables for change capture. It is
	// idempotent and may be called again after a table is rebuilt.
	Install(ctx context.Context, tables []string) error
	// Listen blocks, calling emit for each change, until ctx is done.
	// An error from emit stops the feed without acknowledging the event.
	Listen(ctx context.Context, emit func(core.ChangeEvent) error) error
}

// Acknowledger is implemented by change feeds that keep an entry pending
// until its delivery is confirmed. Unconfirmed entries are delivered again
// by the next feed over the same queue.
type Acknowledger interface {
	Ack(ctx context.Context, ev core.ChangeEvent) error
}

// Rebuilder is implemented by adapters whose table rebuilds need session
// setup outside the transaction, such as disabling foreign key enforcement.
type Rebuilder interface {
	// BeginRebuild prepares conn before the rebuild transaction starts.
	// The returned function restores the session after it ends.
	BeginRebuild(ctx context.Context, conn *sql.Conn) (restore func(context.Context) error, err error)
	// VerifyRebuild runs inside the transaction before commit.
	VerifyRebuild(ctx context.Context, tx *sql.Tx) error
}
