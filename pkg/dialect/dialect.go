// Package dialect provides SQL dialect configuration for schema and query generation.
//
// This package contains the public contract for dialect definitions used by the
// SQL compiler, the schema planner and the adapters. Concrete dialects are
// registered from pkg/dialects/*/ packages.
package dialect

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leapbase/pkg/core"
)

// TimeLayout is the text form used for timestamp literals.
const TimeLayout = "2006-01-02 15:04:05.999999999-07:00"

// Dialect represents a SQL dialect configuration.
type Dialect struct {
	Name        string
	Identifiers core.IdentifierConfig

	// Database-specific settings
	DefaultSchema string                // Default schema name ("main" for DuckDB, "public" for Postgres)
	Placeholder   core.PlaceholderStyle // How to format query parameters
	Capabilities  core.Capabilities

	types     map[core.TypeClass]string // DDL type per class
	castTypes map[core.TypeClass]string // CAST target per class, when it differs from DDL
	aliases   map[string]core.TypeClass // introspected type name prefixes

	ilike         bool
	timestampCast bool
	timeAsText    bool
	boolLiterals  [2]string // false, true
	extremes      [2]string // scalar min, max
	integerType   string
	stringAgg     func(expr, sep, orderBy string) string
	boolPredicate func(col string, want bool) string
}

// Config returns the static configuration of the dialect.
func (d *Dialect) Config() *core.DialectConfig {
	types := make(map[core.TypeClass]string, len(d.types))
	for k, v := range d.types {
		types[k] = v
	}
	return &core.DialectConfig{
		Name:          d.Name,
		Identifiers:   d.Identifiers,
		DefaultSchema: d.DefaultSchema,
		Placeholder:   d.Placeholder,
		Types:         types,
		Capabilities:  d.Capabilities,
	}
}

// FormatPlaceholder returns a placeholder for the given parameter index (1-based).
// Returns "?" for PlaceholderQuestion style, "$1", "$2" etc. for PlaceholderDollar style.
func (d *Dialect) FormatPlaceholder(index int) string {
	switch d.Placeholder {
	case core.PlaceholderDollar:
		return "$" + strconv.Itoa(index)
	default: // PlaceholderQuestion
		return "?"
	}
}

// QuoteIdentifier quotes an identifier using the dialect's quote characters.
func (d *Dialect) QuoteIdentifier(name string) string {
	// Escape any existing quote end characters in the name (e.g., ] -> ]])
	escaped := strings.ReplaceAll(name, d.Identifiers.QuoteEnd, d.Identifiers.Escape)
	return d.Identifiers.Quote + escaped + d.Identifiers.QuoteEnd
}

// QuoteString renders a string literal.
func (d *Dialect) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Literal renders a constant for places where parameters are not allowed,
// such as DEFAULT and CHECK clauses and view definitions.
func (d *Dialect) Literal(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return d.QuoteString(val), nil
	case bool:
		if val {
			return d.boolLiterals[1], nil
		}
		return d.boolLiterals[0], nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", fmt.Errorf("cannot render %v as a literal", val)
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return d.QuoteString(val.UTC().Format(TimeLayout)), nil
	default:
		return "", fmt.Errorf("cannot render %T as a literal", v)
	}
}

// ColumnType returns the DDL type of a type class.
func (d *Dialect) ColumnType(class core.TypeClass) string {
	return d.types[class]
}

// Cast wraps expr in a cast to the type class.
func (d *Dialect) Cast(expr string, class core.TypeClass) string {
	typ, ok := d.castTypes[class]
	if !ok {
		typ = d.types[class]
	}
	return "CAST(" + expr + " AS " + typ + ")"
}

// ClassOf maps an introspected column type back to its type class.
// Matching is by case-insensitive prefix, so "timestamp without time zone"
// and "DECIMAL(18,3)" resolve as expected.
func (d *Dialect) ClassOf(sqlType string) (core.TypeClass, bool) {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	best, bestLen := core.TypeClass(""), -1
	for prefix, class := range d.aliases {
		if strings.HasPrefix(t, prefix) && len(prefix) > bestLen {
			best, bestLen = class, len(prefix)
		}
	}
	return best, bestLen >= 0
}

// Contains renders a case-insensitive LIKE of col against the parameter ph.
// Backslash escapes the wildcards in ph.
func (d *Dialect) Contains(col, ph string) string {
	if d.ilike {
		return col + " ILIKE " + ph + ` ESCAPE '\'`
	}
	return "LOWER(" + col + ") LIKE LOWER(" + ph + `) ESCAPE '\'`
}

// TimestampParam renders a timestamp parameter for comparisons.
func (d *Dialect) TimestampParam(ph string) string {
	if d.timestampCast {
		return d.Cast(ph, core.ClassTimestamp)
	}
	return ph
}

// BoolPredicate renders a test of col against a boolean constant.
func (d *Dialect) BoolPredicate(col string, want bool) string {
	if d.boolPredicate != nil {
		return d.boolPredicate(col, want)
	}
	if want {
		return col + " IS TRUE"
	}
	return col + " IS NOT TRUE"
}

// Extremum renders the scalar minimum (or maximum) of args.
func (d *Dialect) Extremum(max bool, args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	fn := d.extremes[0]
	if max {
		fn = d.extremes[1]
	}
	return fn + "(" + strings.Join(args, ", ") + ")"
}

// CastInteger wraps expr in a cast to the integer type.
func (d *Dialect) CastInteger(expr string) string {
	return "CAST(" + expr + " AS " + d.integerType + ")"
}

// BindValue converts a Go value into the form the driver should receive.
// Times are sent in UTC, and as text on backends that store them as text.
func (d *Dialect) BindValue(v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	t = t.UTC()
	if d.timeAsText {
		return t.Format(TimeLayout)
	}
	return t
}

// StringAgg renders an ordered string aggregate of expr joined by the
// literal separator sep. orderBy may be empty.
func (d *Dialect) StringAgg(expr, sep, orderBy string) string {
	return d.stringAgg(expr, d.QuoteString(sep), orderBy)
}

// Builder provides a fluent API for constructing dialects.
type Builder struct {
	dialect *Dialect
}

// NewDialect creates a new dialect builder with the given name and
// standard double-quoted identifiers.
func NewDialect(name string) *Builder {
	return New(&core.DialectConfig{
		Name: name,
		Identifiers: core.IdentifierConfig{
			Quote:    `"`,
			QuoteEnd: `"`,
			Escape:   `""`,
		},
	})
}

// New creates a dialect builder from a DialectConfig.
func New(cfg *core.DialectConfig) *Builder {
	b := &Builder{
		dialect: &Dialect{
			Name:          cfg.Name,
			Identifiers:   cfg.Identifiers,
			DefaultSchema: cfg.DefaultSchema,
			Placeholder:   cfg.Placeholder,
			Capabilities:  cfg.Capabilities,
			types:         make(map[core.TypeClass]string),
			castTypes:     make(map[core.TypeClass]string),
			aliases:       make(map[string]core.TypeClass),
			boolLiterals:  [2]string{"FALSE", "TRUE"},
			extremes:      [2]string{"LEAST", "GREATEST"},
			integerType:   "INTEGER",
			stringAgg: func(expr, sep, orderBy string) string {
				if orderBy == "" {
					return "STRING_AGG(" + expr + ", " + sep + ")"
				}
				return "STRING_AGG(" + expr + ", " + sep + " ORDER BY " + orderBy + ")"
			},
		},
	}
	for class, typ := range cfg.Types {
		b.Type(class, typ)
	}
	return b
}

// Identifiers configures identifier quoting.
func (b *Builder) Identifiers(quote, quoteEnd, escape string) *Builder {
	b.dialect.Identifiers = core.IdentifierConfig{Quote: quote, QuoteEnd: quoteEnd, Escape: escape}
	return b
}

// Type sets the DDL type of a class and registers it as an alias.
func (b *Builder) Type(class core.TypeClass, sqlType string) *Builder {
	b.dialect.types[class] = sqlType
	b.dialect.aliases[strings.ToLower(sqlType)] = class
	return b
}

// CastType overrides the CAST target of a class.
func (b *Builder) CastType(class core.TypeClass, sqlType string) *Builder {
	b.dialect.castTypes[class] = sqlType
	return b
}

// Aliases maps additional introspected type names to a class.
func (b *Builder) Aliases(class core.TypeClass, names ...string) *Builder {
	for _, n := range names {
		b.dialect.aliases[strings.ToLower(n)] = class
	}
	return b
}

// DefaultSchema sets the default schema name.
func (b *Builder) DefaultSchema(schema string) *Builder {
	b.dialect.DefaultSchema = schema
	return b
}

// PlaceholderStyle sets the placeholder style.
func (b *Builder) PlaceholderStyle(style core.PlaceholderStyle) *Builder {
	b.dialect.Placeholder = style
	return b
}

// Capabilities sets what the backend supports in place.
func (b *Builder) Capabilities(c core.Capabilities) *Builder {
	b.dialect.Capabilities = c
	return b
}

// ILike makes Contains use ILIKE instead of LOWER(...) LIKE LOWER(...).
func (b *Builder) ILike() *Builder {
	b.dialect.ilike = true
	return b
}

// TimestampCast makes timestamp parameters explicitly cast.
func (b *Builder) TimestampCast() *Builder {
	b.dialect.timestampCast = true
	return b
}

// TimeAsText makes BindValue send times as TimeLayout text.
func (b *Builder) TimeAsText() *Builder {
	b.dialect.timeAsText = true
	return b
}

// Extremes sets the scalar min and max functions.
func (b *Builder) Extremes(minFn, maxFn string) *Builder {
	b.dialect.extremes = [2]string{minFn, maxFn}
	return b
}

// IntegerType sets the type used by CastInteger.
func (b *Builder) IntegerType(sqlType string) *Builder {
	b.dialect.integerType = sqlType
	return b
}

// BoolLiterals sets how false and true are written.
func (b *Builder) BoolLiterals(f, t string) *Builder {
	b.dialect.boolLiterals = [2]string{f, t}
	return b
}

// BoolPredicate overrides how boolean tests are rendered.
func (b *Builder) BoolPredicate(fn func(col string, want bool) string) *Builder {
	b.dialect.boolPredicate = fn
	return b
}

// StringAgg overrides the ordered string aggregate.
func (b *Builder) StringAgg(fn func(expr, sep, orderBy string) string) *Builder {
	b.dialect.stringAgg = fn
	return b
}

// Build returns the configured dialect.
func (b *Builder) Build() *Dialect {
	return b.dialect
}
