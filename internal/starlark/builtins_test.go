package starlark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func eval(t *testing.T, expr string) starlark.Value {
	t.Helper()
	thread := NewThreadPool(1, 0).Get("test")
	v, err := starlark.Eval(thread, "test", expr, Predeclared()) //nolint:staticcheck // SA1019
	require.NoError(t, err, expr)
	return v
}

func TestPredeclaredMatchesFunctionNames(t *testing.T) {
	globals := Predeclared()
	assert.Len(t, globals, len(FunctionNames))
	for _, name := range FunctionNames {
		assert.Contains(t, globals, name)
	}
	assert.True(t, globals["SUM"].(*starlark.Builtin) != nil)
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		expr string
		want starlark.Value
	}{
		{"SUM(1, 2, 3)", starlark.MakeInt(6)},
		{"SUM([1, 2.5])", starlark.Float(3.5)},
		{"SUM([True, False, True])", starlark.MakeInt(2)},
		{"SUM([])", starlark.MakeInt(0)},
		{"COUNT([1, None, 3])", starlark.MakeInt(2)},
		{"AVG([1, 2])", starlark.Float(1.5)},
		{"AVG([])", starlark.None},
		{"MAX([1, 5, 3])", starlark.MakeInt(5)},
		{"MIN(4, 2, 8)", starlark.MakeInt(2)},
		{"MAX([])", starlark.None},
		{"CONCAT(['a', 'b'])", starlark.String("a, b")},
		{"CONCAT(['a', None, 'b'], '-')", starlark.String("a-b")},
		{"CONCAT('a', 1, 'b')", starlark.String("a1b")},
		{"CONCAT('solo')", starlark.String("solo")},
		{"IF(1 > 0, 'y', 'n')", starlark.String("y")},
		{"ROUND(1.25, 1)", starlark.Float(1.3)},
		{"ROUND(7.5)", starlark.MakeInt(8)},
		{"ABS(-3)", starlark.MakeInt(3)},
		{"UPPER('ab')", starlark.String("AB")},
		{"LOWER(None)", starlark.None},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.expr))
		})
	}
}

func TestBuiltinErrors(t *testing.T) {
	thread := NewThreadPool(1, 0).Get("test")
	for _, expr := range []string{
		"SUM(['x'])",
		"AVG([1, 'x'])",
		"ROUND('x')",
		"IF(True)",
		"MAX([1, 'a'])",
		"CONCAT([1], 2)",
	} {
		_, err := starlark.Eval(thread, "test", expr, Predeclared()) //nolint:staticcheck // SA1019
		assert.Error(t, err, expr)
	}
}
