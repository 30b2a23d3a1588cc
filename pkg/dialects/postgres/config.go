// Package postgres provides the PostgreSQL SQL dialect definition.
// This package is pure Go with no database driver dependencies.
package postgres

import "github.com/leapstack-labs/leapbase/pkg/core"

// Config is the PostgreSQL dialect configuration.
var Config = &core.DialectConfig{
	Name:          "postgres",
	DefaultSchema: "public",
	Placeholder:   core.PlaceholderDollar,
	Identifiers: core.IdentifierConfig{
		Quote:    `"`,
		QuoteEnd: `"`,
		Escape:   `""`,
	},
	Types: map[core.TypeClass]string{
		core.ClassText:      "TEXT",
		core.ClassNumeric:   "NUMERIC",
		core.ClassTimestamp: "TIMESTAMPTZ",
		core.ClassBoolean:   "BOOLEAN",
	},
	Capabilities: core.Capabilities{
		AlterColumnType:      true,
		TransactionalDDL:     true,
		AddColumnConstraints: true,
		Notify:               core.NotifyNative,
	},
}
