package sqlgen

import (
	"fmt"
	"math/big"
	"strings"

	"go.starlark.net/syntax"

	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/formula"
)

// Aliases used inside rollup and link subqueries.
const (
	joinAlias   = "lb_j"
	linkedAlias = "lb_l"
)

// sqlExpr is a rendered expression and its inferred type class.
// The class is empty for NULL.
type sqlExpr struct {
	sql   string
	class core.TypeClass
}

// values is what a rollup formula reads through the "values" identifier.
type values struct {
	proj  string
	class core.TypeClass
	order string
}

type scope struct {
	resolve func(name string) (sqlExpr, error)
	values  *values
}

// renderFormula renders the formula of field f on t with references
// expanded recursively.
func (c *Compiler) renderFormula(t *core.Table, f core.Formula, visiting map[string]bool) (sqlExpr, error) {
	if visiting[f.Name] {
		return sqlExpr{}, fmt.Errorf("formula %q references itself", f.Name)
	}
	visiting[f.Name] = true
	defer delete(visiting, f.Name)

	e, err := formula.Parse(f.Formula)
	if err != nil {
		return sqlExpr{}, err
	}
	s := &scope{resolve: func(name string) (sqlExpr, error) {
		return c.fieldExpr(t, name, visiting)
	}}
	out, err := c.render(e.Node(), s)
	if err != nil {
		return sqlExpr{}, fmt.Errorf("formula %q: %w", f.Name, err)
	}
	class, _ := core.ClassOf(f.Output)
	return sqlExpr{sql: c.d.Cast(out.sql, class), class: class}, nil
}

// fieldExpr renders a reference to a field of t from within t's view.
func (c *Compiler) fieldExpr(t *core.Table, name string, visiting map[string]bool) (sqlExpr, error) {
	f, ok := t.Field(name)
	if !ok {
		return sqlExpr{}, &core.FieldNotFoundError{Table: t.Name, Field: name}
	}
	switch v := f.(type) {
	case core.Formula:
		return c.renderFormula(t, v, visiting)
	case core.Rollup:
		return c.renderRollup(t, v)
	case core.MultipleLinkedRecord:
		return sqlExpr{}, &core.InvalidFieldTypeError{
			Table: t.Name, Field: name,
			Want: "a single value", Got: string(v.FieldType()),
		}
	default:
		class, ok := core.ClassOf(f.FieldType())
		if !ok {
			return sqlExpr{}, &core.InvalidFieldTypeError{Table: t.Name, Field: name, Got: string(f.FieldType())}
		}
		return sqlExpr{sql: c.q(t.Name) + "." + c.q(name), class: class}, nil
	}
}

// renderRollup renders a correlated subquery aggregating the linked field
// across the join table of the rollup's linked records.
func (c *Compiler) renderRollup(t *core.Table, r core.Rollup) (sqlExpr, error) {
	lf, ok := t.Field(r.LinkedRecords)
	if !ok {
		return sqlExpr{}, &core.FieldNotFoundError{Table: t.Name, Field: r.LinkedRecords}
	}
	link, ok := lf.(core.MultipleLinkedRecord)
	if !ok {
		return sqlExpr{}, &core.InvalidFieldTypeError{
			Table: t.Name, Field: r.LinkedRecords,
			Want: string(core.TypeMultipleLinkedRecord), Got: string(lf.FieldType()),
		}
	}
	linked, ok := c.reg.Table(link.Table)
	if !ok {
		return sqlExpr{}, &core.ConfigError{Issues: []core.Issue{{
			Table: t.Name, Field: link.Name, Reason: fmt.Sprintf("linked table %q does not exist", link.Table),
		}}}
	}
	target, ok := linked.Field(r.LinkedField)
	if !ok {
		return sqlExpr{}, &core.FieldNotFoundError{Table: linked.Name, Field: r.LinkedField}
	}

	j := JoinTableFor(t.Name, link)
	source := ViewName(linked.Name)
	if linked.Name == t.Name {
		source = linked.Name
	}

	proj := linkedAlias + "." + c.q(r.LinkedField)
	class, _ := core.ClassOf(core.OutputType(target))
	if core.OutputType(target) == core.TypeCheckbox {
		proj, class = c.d.CastInteger(proj), core.ClassNumeric
	}

	e, err := formula.Parse(r.Formula)
	if err != nil {
		return sqlExpr{}, err
	}
	s := &scope{
		resolve: func(name string) (sqlExpr, error) {
			return sqlExpr{}, fmt.Errorf("rollup formula may only reference %q, found %q", formula.ValuesName, name)
		},
		values: &values{proj: proj, class: class, order: joinAlias + "." + c.q(PositionColumn)},
	}
	agg, err := c.render(e.Node(), s)
	if err != nil {
		return sqlExpr{}, fmt.Errorf("rollup %q: %w", r.Name, err)
	}

	sub := fmt.Sprintf("(SELECT %s FROM %s %s JOIN %s %s ON %s.%s = %s.%s WHERE %s.%s = %s.%s)",
		agg.sql,
		c.q(j.Name), joinAlias,
		c.q(source), linkedAlias,
		linkedAlias, c.q(core.FieldID), joinAlias, c.q(j.LinkedColumn),
		joinAlias, c.q(j.OwnerColumn), c.q(t.Name), c.q(core.FieldID),
	)
	out, _ := core.ClassOf(r.Output)
	return sqlExpr{sql: c.d.Cast(sub, out), class: out}, nil
}

func (c *Compiler) render(n syntax.Expr, s *scope) (sqlExpr, error) {
	switch x := n.(type) {
	case *syntax.Ident:
		switch x.Name {
		case "True", "False":
			lit, _ := c.d.Literal(x.Name == "True")
			return sqlExpr{sql: lit, class: core.ClassBoolean}, nil
		case "None":
			return sqlExpr{sql: "NULL"}, nil
		}
		if s.values != nil && x.Name == formula.ValuesName {
			return sqlExpr{}, fmt.Errorf("%q must be passed directly to an aggregate", formula.ValuesName)
		}
		return s.resolve(x.Name)

	case *syntax.Literal:
		return c.renderLiteral(x)

	case *syntax.ParenExpr:
		inner, err := c.render(x.X, s)
		if err != nil {
			return sqlExpr{}, err
		}
		return sqlExpr{sql: "(" + inner.sql + ")", class: inner.class}, nil

	case *syntax.UnaryExpr:
		inner, err := c.render(x.X, s)
		if err != nil {
			return sqlExpr{}, err
		}
		switch x.Op {
		case syntax.NOT:
			return sqlExpr{sql: "(NOT " + inner.sql + ")", class: core.ClassBoolean}, nil
		case syntax.MINUS:
			return sqlExpr{sql: "(-" + c.numeric(inner) + ")", class: core.ClassNumeric}, nil
		case syntax.PLUS:
			return inner, nil
		}
		return sqlExpr{}, fmt.Errorf("unsupported operator %s", x.Op)

	case *syntax.BinaryExpr:
		return c.renderBinary(x, s)

	case *syntax.CondExpr:
		cond, err := c.render(x.Cond, s)
		if err != nil {
			return sqlExpr{}, err
		}
		a, err := c.render(x.True, s)
		if err != nil {
			return sqlExpr{}, err
		}
		b, err := c.render(x.False, s)
		if err != nil {
			return sqlExpr{}, err
		}
		return sqlExpr{
			sql:   fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END", cond.sql, a.sql, b.sql),
			class: firstClass(a, b),
		}, nil

	case *syntax.CallExpr:
		return c.renderCall(x, s)
	}
	return sqlExpr{}, fmt.Errorf("unsupported expression %T", n)
}

func (c *Compiler) renderLiteral(x *syntax.Literal) (sqlExpr, error) {
	switch v := x.Value.(type) {
	case string:
		return sqlExpr{sql: c.d.QuoteString(v), class: core.ClassText}, nil
	case int64:
		return sqlExpr{sql: fmt.Sprint(v), class: core.ClassNumeric}, nil
	case *big.Int:
		return sqlExpr{sql: v.String(), class: core.ClassNumeric}, nil
	case float64:
		lit, err := c.d.Literal(v)
		if err != nil {
			return sqlExpr{}, err
		}
		return sqlExpr{sql: lit, class: core.ClassNumeric}, nil
	}
	return sqlExpr{}, fmt.Errorf("unsupported literal %s", x.Raw)
}

var comparisons = map[syntax.Token]string{
	syntax.EQL: "=", syntax.NEQ: "<>",
	syntax.LT: "<", syntax.LE: "<=", syntax.GT: ">", syntax.GE: ">=",
}

func (c *Compiler) renderBinary(x *syntax.BinaryExpr, s *scope) (sqlExpr, error) {
	l, err := c.render(x.X, s)
	if err != nil {
		return sqlExpr{}, err
	}
	r, err := c.render(x.Y, s)
	if err != nil {
		return sqlExpr{}, err
	}

	if op, ok := comparisons[x.Op]; ok {
		if (x.Op == syntax.EQL || x.Op == syntax.NEQ) && (l.sql == "NULL" || r.sql == "NULL") {
			operand, test := l.sql, " IS NULL)"
			if l.sql == "NULL" {
				operand = r.sql
			}
			if x.Op == syntax.NEQ {
				test = " IS NOT NULL)"
			}
			return sqlExpr{sql: "(" + operand + test, class: core.ClassBoolean}, nil
		}
		return sqlExpr{sql: "(" + l.sql + " " + op + " " + r.sql + ")", class: core.ClassBoolean}, nil
	}

	switch x.Op {
	case syntax.AND:
		return sqlExpr{sql: "(" + l.sql + " AND " + r.sql + ")", class: core.ClassBoolean}, nil
	case syntax.OR:
		return sqlExpr{sql: "(" + l.sql + " OR " + r.sql + ")", class: core.ClassBoolean}, nil
	case syntax.PLUS:
		if l.class == core.ClassText || r.class == core.ClassText {
			return sqlExpr{sql: "(" + l.sql + " || " + r.sql + ")", class: core.ClassText}, nil
		}
		return c.arith(l, "+", r), nil
	case syntax.MINUS:
		return c.arith(l, "-", r), nil
	case syntax.STAR:
		return c.arith(l, "*", r), nil
	case syntax.SLASH:
		// Formulas divide as floats and yield NULL on a zero divisor.
		return sqlExpr{
			sql:   "(" + c.numeric(l) + " * 1.0 / NULLIF(" + c.numeric(r) + ", 0))",
			class: core.ClassNumeric,
		}, nil
	case syntax.PERCENT:
		return sqlExpr{
			sql:   "(" + c.numeric(l) + " % NULLIF(" + c.numeric(r) + ", 0))",
			class: core.ClassNumeric,
		}, nil
	}
	return sqlExpr{}, fmt.Errorf("unsupported operator %s", x.Op)
}

func (c *Compiler) arith(l sqlExpr, op string, r sqlExpr) sqlExpr {
	return sqlExpr{sql: "(" + c.numeric(l) + " " + op + " " + c.numeric(r) + ")", class: core.ClassNumeric}
}

// numeric makes booleans usable in arithmetic as 1 and 0.
func (c *Compiler) numeric(e sqlExpr) string {
	if e.class == core.ClassBoolean {
		return c.d.CastInteger(e.sql)
	}
	return e.sql
}

func (c *Compiler) renderCall(x *syntax.CallExpr, s *scope) (sqlExpr, error) {
	fn, ok := x.Fn.(*syntax.Ident)
	if !ok || !formula.IsFunction(fn.Name) {
		return sqlExpr{}, fmt.Errorf("unknown function")
	}
	name := fn.Name

	if s.values != nil && formula.IsAggregate(name) && len(x.Args) > 0 {
		if id, ok := x.Args[0].(*syntax.Ident); ok && id.Name == formula.ValuesName {
			return c.renderAggregate(name, x.Args[1:], s)
		}
	}

	args := make([]sqlExpr, len(x.Args))
	for i, a := range x.Args {
		r, err := c.render(a, s)
		if err != nil {
			return sqlExpr{}, err
		}
		args[i] = r
	}

	switch name {
	case "SUM":
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = "COALESCE(" + c.numeric(a) + ", 0)"
		}
		return sqlExpr{sql: "(" + joinOr(parts, " + ", "0") + ")", class: core.ClassNumeric}, nil
	case "COUNT":
		return sqlExpr{sql: c.countNonNull(args), class: core.ClassNumeric}, nil
	case "AVG":
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = "COALESCE(" + c.numeric(a) + ", 0)"
		}
		return sqlExpr{
			sql:   "((" + joinOr(parts, " + ", "0") + ") * 1.0 / NULLIF(" + c.countNonNull(args) + ", 0))",
			class: core.ClassNumeric,
		}, nil
	case "MIN", "MAX":
		if len(args) == 0 {
			return sqlExpr{sql: "NULL"}, nil
		}
		return sqlExpr{sql: c.d.Extremum(name == "MAX", sqlOf(args)), class: firstClass(args...)}, nil
	case "CONCAT":
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = "COALESCE(" + c.d.Cast(a.sql, core.ClassText) + ", '')"
		}
		return sqlExpr{sql: "(" + joinOr(parts, " || ", "''") + ")", class: core.ClassText}, nil
	case "IF":
		if len(args) < 2 || len(args) > 3 {
			return sqlExpr{}, fmt.Errorf("IF takes 2 or 3 arguments, got %d", len(args))
		}
		otherwise := sqlExpr{sql: "NULL"}
		if len(args) == 3 {
			otherwise = args[2]
		}
		return sqlExpr{
			sql:   fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END", args[0].sql, args[1].sql, otherwise.sql),
			class: firstClass(args[1], otherwise),
		}, nil
	case "ROUND":
		switch len(args) {
		case 1:
			return sqlExpr{sql: "ROUND(" + c.numeric(args[0]) + ")", class: core.ClassNumeric}, nil
		case 2:
			return sqlExpr{sql: "ROUND(" + c.numeric(args[0]) + ", " + args[1].sql + ")", class: core.ClassNumeric}, nil
		}
		return sqlExpr{}, fmt.Errorf("ROUND takes 1 or 2 arguments, got %d", len(args))
	case "ABS", "UPPER", "LOWER":
		if len(args) != 1 {
			return sqlExpr{}, fmt.Errorf("%s takes 1 argument, got %d", name, len(args))
		}
		if name == "ABS" {
			return sqlExpr{sql: "ABS(" + c.numeric(args[0]) + ")", class: core.ClassNumeric}, nil
		}
		return sqlExpr{sql: name + "(" + args[0].sql + ")", class: core.ClassText}, nil
	}
	return sqlExpr{}, fmt.Errorf("function %s is not supported in SQL", name)
}

// renderAggregate folds the rollup projection. CONCAT takes an optional
// literal separator and keeps link order.
func (c *Compiler) renderAggregate(name string, rest []syntax.Expr, s *scope) (sqlExpr, error) {
	v := s.values
	switch name {
	case "SUM", "AVG":
		if len(rest) > 0 {
			return sqlExpr{}, fmt.Errorf("%s(values) takes no other arguments", name)
		}
		return sqlExpr{sql: name + "(" + v.proj + ")", class: core.ClassNumeric}, nil
	case "COUNT":
		if len(rest) > 0 {
			return sqlExpr{}, fmt.Errorf("COUNT(values) takes no other arguments")
		}
		return sqlExpr{sql: "COUNT(" + v.proj + ")", class: core.ClassNumeric}, nil
	case "MIN", "MAX":
		if len(rest) > 0 {
			return sqlExpr{}, fmt.Errorf("%s(values) takes no other arguments", name)
		}
		return sqlExpr{sql: name + "(" + v.proj + ")", class: v.class}, nil
	case "CONCAT":
		sep := ", "
		if len(rest) > 1 {
			return sqlExpr{}, fmt.Errorf("CONCAT(values) takes at most a separator")
		}
		if len(rest) == 1 {
			lit, ok := rest[0].(*syntax.Literal)
			str, isStr := literalString(lit)
			if !ok || !isStr {
				return sqlExpr{}, fmt.Errorf("CONCAT separator must be a string literal")
			}
			sep = str
		}
		return sqlExpr{sql: c.d.StringAgg(c.d.Cast(v.proj, core.ClassText), sep, v.order), class: core.ClassText}, nil
	}
	return sqlExpr{}, fmt.Errorf("%s is not an aggregate", name)
}

func literalString(lit *syntax.Literal) (string, bool) {
	if lit == nil {
		return "", false
	}
	s, ok := lit.Value.(string)
	return s, ok
}

func (c *Compiler) countNonNull(args []sqlExpr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = "CASE WHEN " + a.sql + " IS NULL THEN 0 ELSE 1 END"
	}
	return "(" + joinOr(parts, " + ", "0") + ")"
}

func joinOr(parts []string, sep, empty string) string {
	if len(parts) == 0 {
		return empty
	}
	return strings.Join(parts, sep)
}

func sqlOf(args []sqlExpr) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a.sql
	}
	return out
}

func firstClass(exprs ...sqlExpr) core.TypeClass {
	for _, e := range exprs {
		if e.class != "" {
			return e.class
		}
	}
	return ""
}
