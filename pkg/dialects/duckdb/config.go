// Package duckdb provides the DuckDB SQL dialect definition.
// This package is pure Go with no database driver dependencies.
package duckdb

import "github.com/leapstack-labs/leapbase/pkg/core"

// Config is the DuckDB dialect configuration.
var Config = &core.DialectConfig{
	Name:          "duckdb",
	DefaultSchema: "main",
	Placeholder:   core.PlaceholderQuestion,
	Identifiers: core.IdentifierConfig{
		Quote:    `"`,
		QuoteEnd: `"`,
		Escape:   `""`,
	},
	Types: map[core.TypeClass]string{
		core.ClassText:      "VARCHAR",
		core.ClassNumeric:   "DOUBLE",
		core.ClassTimestamp: "TIMESTAMP",
		core.ClassBoolean:   "BOOLEAN",
	},
	Capabilities: core.Capabilities{
		AlterColumnType:  true,
		TransactionalDDL: true,
		// DuckDB has no triggers; writers append to the queue.
		Notify: core.NotifyOutbox,
	},
}
