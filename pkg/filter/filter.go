// Package filter provides the immutable boolean expression tree used to
// select records. Trees are built with the constructors in this package
// and compiled to SQL by pkg/sqlgen.
package filter

import (
	"time"
)

// Operator is a leaf predicate operator.
type Operator string

// Supported operators.
const (
	OpIs        Operator = "Is"
	OpEquals    Operator = "Equals"
	OpContains  Operator = "Contains"
	OpIsAnyOf   Operator = "IsAnyOf"
	OpOnOrAfter Operator = "OnOrAfter"
	OpIsTrue    Operator = "IsTrue"
	OpIsFalse   Operator = "IsFalse"
)

// Filter is a node of the tree: a *Condition or a *Group.
type Filter interface {
	filter()
}

// Condition is a leaf predicate over one field.
type Condition struct {
	field  string
	op     Operator
	values []any
}

func (*Condition) filter() {}

// Field returns the field the predicate applies to.
func (c *Condition) Field() string { return c.field }

// Operator returns the predicate operator.
func (c *Condition) Operator() Operator { return c.op }

// Values returns a copy of the literal operands.
func (c *Condition) Values() []any { return append([]any(nil), c.values...) }

// Value returns the first operand, or nil.
func (c *Condition) Value() any {
	if len(c.values) == 0 {
		return nil
	}
	return c.values[0]
}

// Kind distinguishes AND from OR groups.
type Kind string

// Group kinds.
const (
	KindAnd Kind = "and"
	KindOr  Kind = "or"
)

// Group combines child filters with AND or OR.
type Group struct {
	kind     Kind
	children []Filter
}

func (*Group) filter() {}

// Kind returns the combinator.
func (g *Group) Kind() Kind { return g.kind }

// Children returns a copy of the child filters.
func (g *Group) Children() []Filter { return append([]Filter(nil), g.children...) }

// Where builds a condition with any operator. Operators outside the
// supported set are rejected when the filter is compiled.
func Where(field string, op Operator, values ...any) Filter {
	return &Condition{field: field, op: op, values: append([]any(nil), values...)}
}

// Is matches records whose field equals value.
func Is(field string, value any) Filter { return Where(field, OpIs, value) }

// Equals matches records whose field equals value.
func Equals(field string, value any) Filter { return Where(field, OpEquals, value) }

// Contains matches a case-insensitive substring.
func Contains(field, substr string) Filter { return Where(field, OpContains, substr) }

// IsAnyOf matches records whose field is one of values.
func IsAnyOf[T any](field string, values ...T) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return &Condition{field: field, op: OpIsAnyOf, values: vs}
}

// OnOrAfter matches timestamps at or after t.
func OnOrAfter(field string, t time.Time) Filter { return Where(field, OpOnOrAfter, t) }

// IsTrue matches checked checkboxes.
func IsTrue(field string) Filter { return Where(field, OpIsTrue) }

// IsFalse matches unchecked checkboxes, including unset ones.
func IsFalse(field string) Filter { return Where(field, OpIsFalse) }

// And matches when every child matches. Nil children are dropped.
func And(children ...Filter) Filter { return group(KindAnd, children) }

// Or matches when any child matches. Nil children are dropped.
func Or(children ...Filter) Filter { return group(KindOr, children) }

func group(kind Kind, children []Filter) Filter {
	kept := make([]Filter, 0, len(children))
	for _, c := range children {
		if c != nil {
			kept = append(kept, c)
		}
	}
	return &Group{kind: kind, children: kept}
}
