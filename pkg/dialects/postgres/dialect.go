package postgres

import (
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
)

// Postgres is the PostgreSQL dialect.
// information_schema reports long type names, hence the aliases.
var Postgres = dialect.New(Config).
	Aliases(core.ClassText, "character varying", "character", "varchar").
	Aliases(core.ClassNumeric, "double precision", "real", "integer", "bigint", "smallint").
	Aliases(core.ClassTimestamp, "timestamp with time zone", "timestamp without time zone", "timestamp").
	ILike().
	TimestampCast().
	Build()
