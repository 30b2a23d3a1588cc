package starlark

import (
	"fmt"
	"math"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// FunctionNames lists the functions formulas may call.
var FunctionNames = []string{
	"ABS", "AVG", "CONCAT", "COUNT", "IF", "LOWER", "MAX", "MIN", "ROUND", "SUM", "UPPER",
}

// Predeclared returns the frozen builtins available to every formula.
func Predeclared() starlark.StringDict {
	globals := starlark.StringDict{
		"ABS":    starlark.NewBuiltin("ABS", builtinAbs),
		"AVG":    starlark.NewBuiltin("AVG", builtinAvg),
		"CONCAT": starlark.NewBuiltin("CONCAT", builtinConcat),
		"COUNT":  starlark.NewBuiltin("COUNT", builtinCount),
		"IF":     starlark.NewBuiltin("IF", builtinIf),
		"LOWER":  starlark.NewBuiltin("LOWER", stringFunc(strings.ToLower)),
		"MAX":    starlark.NewBuiltin("MAX", extremum(+1)),
		"MIN":    starlark.NewBuiltin("MIN", extremum(-1)),
		"ROUND":  starlark.NewBuiltin("ROUND", builtinRound),
		"SUM":    starlark.NewBuiltin("SUM", builtinSum),
		"UPPER":  starlark.NewBuiltin("UPPER", stringFunc(strings.ToUpper)),
	}
	globals.Freeze()
	return globals
}

// operands flattens f(list) and f(a, b, c) into one slice, dropping None.
func operands(args starlark.Tuple) []starlark.Value {
	var out []starlark.Value
	add := func(v starlark.Value) {
		if v != starlark.None {
			out = append(out, v)
		}
	}
	if len(args) == 1 {
		if it, ok := args[0].(starlark.Indexable); ok {
			if _, isStr := args[0].(starlark.String); !isStr {
				for i := 0; i < it.Len(); i++ {
					add(it.Index(i))
				}
				return out
			}
		}
	}
	for _, a := range args {
		add(a)
	}
	return out
}

// number converts a numeric operand. Booleans count as 1 and 0.
func number(fn string, v starlark.Value) (float64, bool, error) {
	switch n := v.(type) {
	case starlark.Int:
		f, _ := starlark.AsFloat(n)
		return f, true, nil
	case starlark.Float:
		return float64(n), false, nil
	case starlark.Bool:
		if n {
			return 1, true, nil
		}
		return 0, true, nil
	default:
		return 0, false, fmt.Errorf("%s: expected number, got %s", fn, v.Type())
	}
}

func numberValue(f float64, integral bool) starlark.Value {
	if integral && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return starlark.MakeInt64(int64(f))
	}
	return starlark.Float(f)
}

func builtinSum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	total, integral := 0.0, true
	for _, v := range operands(args) {
		f, isInt, err := number(b.Name(), v)
		if err != nil {
			return nil, err
		}
		total += f
		integral = integral && isInt
	}
	return numberValue(total, integral), nil
}

func builtinAvg(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	vals := operands(args)
	if len(vals) == 0 {
		return starlark.None, nil
	}
	total := 0.0
	for _, v := range vals {
		f, _, err := number(b.Name(), v)
		if err != nil {
			return nil, err
		}
		total += f
	}
	return starlark.Float(total / float64(len(vals))), nil
}

func builtinCount(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	return starlark.MakeInt(len(operands(args))), nil
}

// extremum returns MAX for sign +1 and MIN for sign -1.
func extremum(sign int) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}
		var best starlark.Value
		for _, v := range operands(args) {
			if best == nil {
				best = v
				continue
			}
			op := syntax.GT
			if sign < 0 {
				op = syntax.LT
			}
			better, err := starlark.Compare(op, v, best)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			if better {
				best = v
			}
		}
		if best == nil {
			return starlark.None, nil
		}
		return best, nil
	}
}

// builtinConcat joins a list with an optional separator, or concatenates
// its arguments when called with scalars.
func builtinConcat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) >= 1 && len(args) <= 2 {
		if list, ok := args[0].(*starlark.List); ok {
			sep := ", "
			if len(args) == 2 {
				s, ok := starlark.AsString(args[1])
				if !ok {
					return nil, fmt.Errorf("%s: separator must be a string", b.Name())
				}
				sep = s
			}
			parts := make([]string, 0, list.Len())
			for _, v := range operands(starlark.Tuple{list}) {
				parts = append(parts, text(v))
			}
			return starlark.String(strings.Join(parts, sep)), nil
		}
	}
	var sb strings.Builder
	for _, v := range operands(args) {
		sb.WriteString(text(v))
	}
	return starlark.String(sb.String()), nil
}

func text(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

func builtinIf(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cond, then, otherwise starlark.Value = starlark.None, starlark.None, starlark.None
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &cond, &then, &otherwise); err != nil {
		return nil, err
	}
	if cond.Truth() {
		return then, nil
	}
	return otherwise, nil
}

func builtinRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	digits := 0
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x, &digits); err != nil {
		return nil, err
	}
	if x == starlark.None {
		return starlark.None, nil
	}
	f, _, err := number(b.Name(), x)
	if err != nil {
		return nil, err
	}
	scale := math.Pow(10, float64(digits))
	r := math.Round(f*scale) / scale
	if digits <= 0 {
		return numberValue(r, true), nil
	}
	return starlark.Float(r), nil
}

func builtinAbs(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	if x == starlark.None {
		return starlark.None, nil
	}
	f, isInt, err := number(b.Name(), x)
	if err != nil {
		return nil, err
	}
	return numberValue(math.Abs(f), isInt), nil
}

func stringFunc(fn func(string) string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		if x == starlark.None {
			return starlark.None, nil
		}
		return starlark.String(fn(text(x))), nil
	}
}
