// Package sqlite provides the SQLite SQL dialect definition.
// This package is pure Go with no database driver dependencies.
package sqlite

import "github.com/leapstack-labs/leapbase/pkg/core"

// Config is the SQLite dialect configuration.
var Config = &core.DialectConfig{
	Name:        "sqlite",
	Placeholder: core.PlaceholderQuestion,
	Identifiers: core.IdentifierConfig{
		Quote:    `"`,
		QuoteEnd: `"`,
		Escape:   `""`,
	},
	Types: map[core.TypeClass]string{
		core.ClassText:      "TEXT",
		core.ClassNumeric:   "NUMERIC",
		core.ClassTimestamp: "TIMESTAMP",
		core.ClassBoolean:   "BOOLEAN",
	},
	Capabilities: core.Capabilities{
		// No ALTER COLUMN; type and nullability changes rebuild the table.
		AlterColumnType:      false,
		TransactionalDDL:     true,
		AddColumnConstraints: true,
		Notify:               core.NotifyTriggerQueue,
	},
}
