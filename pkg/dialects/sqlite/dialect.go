package sqlite

import (
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
)

// SQLite is the SQLite dialect.
//
// TIMESTAMP has NUMERIC affinity in SQLite, so casting text timestamps to it
// would mangle them; casts go to TEXT and comparisons rely on the fixed
// text layout written by the driver.
var SQLite = dialect.New(Config).
	CastType(core.ClassTimestamp, "TEXT").
	Aliases(core.ClassText, "varchar", "char", "clob").
	Aliases(core.ClassNumeric, "integer", "int", "real", "double", "float", "decimal").
	Aliases(core.ClassTimestamp, "datetime", "date").
	Aliases(core.ClassBoolean, "bool").
	TimeAsText().
	Extremes("MIN", "MAX").
	StringAgg(func(expr, sep, orderBy string) string {
		if orderBy == "" {
			return "GROUP_CONCAT(" + expr + ", " + sep + ")"
		}
		return "GROUP_CONCAT(" + expr + ", " + sep + " ORDER BY " + orderBy + ")"
	}).
	Build()
