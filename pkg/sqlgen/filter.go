package sqlgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/filter"
)

// CompileFilter renders f as a WHERE condition over t's view. Placeholders
// are numbered from start; next is the first unused index. A nil filter
// renders as the empty string.
func (c *Compiler) CompileFilter(t *core.Table, f filter.Filter, start int) (sql string, args []any, next int, err error) {
	if f == nil {
		return "", nil, start, nil
	}
	fc := &filterCompiler{c: c, t: t, next: start}
	sql, err = fc.compile(f)
	if err != nil {
		return "", nil, start, err
	}
	return sql, fc.args, fc.next, nil
}

// likeEscaper makes LIKE wildcards in a contains value match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type filterCompiler struct {
	c    *Compiler
	t    *core.Table
	args []any
	next int
}

func (fc *filterCompiler) bind(v any) string {
	ph := fc.c.d.FormatPlaceholder(fc.next)
	fc.next++
	fc.args = append(fc.args, fc.c.d.BindValue(v))
	return ph
}

func (fc *filterCompiler) compile(f filter.Filter) (string, error) {
	switch n := f.(type) {
	case *filter.Group:
		return fc.group(n)
	case *filter.Condition:
		return fc.condition(n)
	default:
		return "", fmt.Errorf("unsupported filter node %T", f)
	}
}

func (fc *filterCompiler) group(g *filter.Group) (string, error) {
	children := g.Children()
	if len(children) == 0 {
		if g.Kind() == filter.KindOr {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}
	sep := " AND "
	if g.Kind() == filter.KindOr {
		sep = " OR "
	}
	parts := make([]string, len(children))
	for i, child := range children {
		s, err := fc.compile(child)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (fc *filterCompiler) condition(cond *filter.Condition) (string, error) {
	f, ok := fc.t.Field(cond.Field())
	if !ok {
		return "", &core.FieldNotFoundError{Table: fc.t.Name, Field: cond.Field()}
	}
	if fc.c.mode == ComputeAtRead && !core.IsStored(f) {
		return "", &core.InvalidFieldTypeError{
			Table: fc.t.Name, Field: f.FieldName(),
			Want: "a field stored in the view", Got: string(f.FieldType()),
		}
	}
	col := fc.c.q(cond.Field())
	d := fc.c.d

	switch cond.Operator() {
	case filter.OpIs, filter.OpEquals:
		if cond.Value() == nil {
			return col + " IS NULL", nil
		}
		return col + " = " + fc.bind(cond.Value()), nil
	case filter.OpContains:
		s, ok := cond.Value().(string)
		if !ok {
			return "", fmt.Errorf("contains on %q needs a string, got %T", cond.Field(), cond.Value())
		}
		return d.Contains(col, fc.bind("%"+likeEscaper.Replace(s)+"%")), nil
	case filter.OpIsAnyOf:
		vals := cond.Values()
		if len(vals) == 0 {
			return "1 = 0", nil
		}
		phs := make([]string, len(vals))
		for i, v := range vals {
			phs[i] = fc.bind(v)
		}
		return col + " IN (" + strings.Join(phs, ", ") + ")", nil
	case filter.OpOnOrAfter:
		ts, ok := cond.Value().(time.Time)
		if !ok {
			return "", fmt.Errorf("on or after on %q needs a time, got %T", cond.Field(), cond.Value())
		}
		return col + " >= " + d.TimestampParam(fc.bind(ts)), nil
	case filter.OpIsTrue:
		return d.BoolPredicate(col, true), nil
	case filter.OpIsFalse:
		return d.BoolPredicate(col, false), nil
	default:
		return "", &core.UnsupportedOperatorError{Operator: string(cond.Operator())}
	}
}
