// Package formula parses the expression language of Formula and Rollup
// fields. Expressions are parsed once into a syntax tree that is then
// rendered to SQL by pkg/sqlgen or evaluated by an Evaluator.
//
// The grammar is the Starlark expression grammar restricted to
// identifiers, literals, arithmetic, comparison, and/or/not, conditional
// expressions (a if cond else b) and calls of the known functions.
package formula

import (
	"fmt"
	"sort"

	sl "github.com/leapstack-labs/leapbase/internal/starlark"
	"go.starlark.net/syntax"
)

// ValuesName is the identifier a rollup formula uses for the projected values.
const ValuesName = "values"

// Expr is a parsed formula.
type Expr struct {
	src   string
	node  syntax.Expr
	refs  []string
	calls []string
}

// Parse parses and checks a formula.
func Parse(src string) (*Expr, error) {
	node, err := (&syntax.FileOptions{}).ParseExpr("formula", src, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse formula %q: %w", src, err)
	}
	e := &Expr{src: src, node: node}
	if err := e.inspect(); err != nil {
		return nil, fmt.Errorf("invalid formula %q: %w", src, err)
	}
	return e, nil
}

// MustParse is Parse for formulas known to be valid.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Source returns the formula text.
func (e *Expr) Source() string { return e.src }

// Node returns the syntax tree.
func (e *Expr) Node() syntax.Expr { return e.node }

// References returns the sorted field names the formula reads.
func (e *Expr) References() []string { return append([]string(nil), e.refs...) }

// Calls returns the sorted function names the formula calls.
func (e *Expr) Calls() []string { return append([]string(nil), e.calls...) }

// IsFunction reports whether name is a formula function.
func IsFunction(name string) bool {
	for _, fn := range sl.FunctionNames {
		if fn == name {
			return true
		}
	}
	return false
}

// IsConstant reports whether an identifier names a constant.
func IsConstant(name string) bool {
	return name == "True" || name == "False" || name == "None"
}

var allowedBinary = map[syntax.Token]bool{
	syntax.PLUS: true, syntax.MINUS: true, syntax.STAR: true, syntax.SLASH: true, syntax.PERCENT: true,
	syntax.EQL: true, syntax.NEQ: true, syntax.LT: true, syntax.LE: true, syntax.GT: true, syntax.GE: true,
	syntax.AND: true, syntax.OR: true,
}

func (e *Expr) inspect() error {
	refs := map[string]bool{}
	calls := map[string]bool{}
	var walkErr error

	var visit func(n syntax.Expr)
	visit = func(n syntax.Expr) {
		if walkErr != nil {
			return
		}
		switch x := n.(type) {
		case *syntax.Ident:
			if !IsConstant(x.Name) {
				refs[x.Name] = true
			}
		case *syntax.Literal:
			if x.Token != syntax.STRING && x.Token != syntax.INT && x.Token != syntax.FLOAT {
				walkErr = fmt.Errorf("unsupported literal %s", x.Raw)
			}
		case *syntax.ParenExpr:
			visit(x.X)
		case *syntax.UnaryExpr:
			if x.Op != syntax.NOT && x.Op != syntax.MINUS && x.Op != syntax.PLUS {
				walkErr = fmt.Errorf("unsupported operator %s", x.Op)
				return
			}
			visit(x.X)
		case *syntax.BinaryExpr:
			if !allowedBinary[x.Op] {
				walkErr = fmt.Errorf("unsupported operator %s", x.Op)
				return
			}
			visit(x.X)
			visit(x.Y)
		case *syntax.CondExpr:
			visit(x.Cond)
			visit(x.True)
			visit(x.False)
		case *syntax.CallExpr:
			fn, ok := x.Fn.(*syntax.Ident)
			if !ok || !IsFunction(fn.Name) {
				walkErr = fmt.Errorf("unknown function %s", describe(x.Fn))
				return
			}
			calls[fn.Name] = true
			for _, arg := range x.Args {
				if b, ok := arg.(*syntax.BinaryExpr); ok && b.Op == syntax.EQ {
					walkErr = fmt.Errorf("%s: keyword arguments are not supported", fn.Name)
					return
				}
				visit(arg)
			}
		default:
			walkErr = fmt.Errorf("unsupported expression %T", n)
		}
	}
	visit(e.node)
	if walkErr != nil {
		return walkErr
	}

	e.refs = sortedKeys(refs)
	e.calls = sortedKeys(calls)
	return nil
}

func describe(n syntax.Expr) string {
	if id, ok := n.(*syntax.Ident); ok {
		return id.Name
	}
	return fmt.Sprintf("%T", n)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsAggregate reports whether a function folds the values of a rollup.
func IsAggregate(name string) bool {
	switch name {
	case "SUM", "COUNT", "AVG", "MIN", "MAX", "CONCAT":
		return true
	default:
		return false
	}
}

// ValuesAggregated reports whether every use of ValuesName is the first
// argument of an aggregate call, which is the only place a rollup can
// read its values.
func (e *Expr) ValuesAggregated() bool {
	ok := true
	var visit func(n syntax.Expr, inAggregate bool)
	visit = func(n syntax.Expr, inAggregate bool) {
		switch x := n.(type) {
		case *syntax.Ident:
			if x.Name == ValuesName && !inAggregate {
				ok = false
			}
		case *syntax.ParenExpr:
			visit(x.X, false)
		case *syntax.UnaryExpr:
			visit(x.X, false)
		case *syntax.BinaryExpr:
			visit(x.X, false)
			visit(x.Y, false)
		case *syntax.CondExpr:
			visit(x.Cond, false)
			visit(x.True, false)
			visit(x.False, false)
		case *syntax.CallExpr:
			fn, _ := x.Fn.(*syntax.Ident)
			for i, arg := range x.Args {
				visit(arg, i == 0 && fn != nil && IsAggregate(fn.Name))
			}
		}
	}
	visit(e.node, false)
	return ok
}
