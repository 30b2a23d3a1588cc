package duckdb

import (
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
)

// DuckDB is the DuckDB dialect.
var DuckDB = dialect.New(Config).
	Aliases(core.ClassText, "text", "string").
	Aliases(core.ClassNumeric, "decimal", "numeric", "integer", "bigint", "float", "real", "hugeint").
	Aliases(core.ClassBoolean, "bool").
	ILike().
	TimestampCast().
	BoolPredicate(func(col string, want bool) string {
		if want {
			return "COALESCE(" + col + ", FALSE) = TRUE"
		}
		return "COALESCE(" + col + ", FALSE) = FALSE"
	}).
	Build()
