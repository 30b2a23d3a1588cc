package sqlgen

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapbase/pkg/core"
)

// ViewColumns returns the columns of t's view in field order. Computed
// fields are left out in ComputeAtRead mode.
func (c *Compiler) ViewColumns(t *core.Table) []string {
	fields := t.AllFields()
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if c.mode == ComputeAtRead && !core.IsStored(f) {
			continue
		}
		out = append(out, f.FieldName())
	}
	return out
}

// ViewSelect renders the SELECT body of t's view.
func (c *Compiler) ViewSelect(t *core.Table) (string, error) {
	fields := t.AllFields()
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		expr, err := c.viewColumn(t, f)
		if err != nil {
			return "", err
		}
		if expr == "" {
			continue
		}
		lines = append(lines, expr+" AS "+c.q(f.FieldName()))
	}
	return fmt.Sprintf("SELECT\n  %s\nFROM %s", strings.Join(lines, ",\n  "), c.q(t.Name)), nil
}

// CreateView renders the view of t. It selects every stored column, the
// ordered ids of each linked record list and, in ComputeInView mode, the
// formula and rollup values.
func (c *Compiler) CreateView(t *core.Table) (string, error) {
	body, err := c.ViewSelect(t)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE VIEW %s AS\n%s", c.q(ViewName(t.Name)), body), nil
}

func (c *Compiler) viewColumn(t *core.Table, f core.Field) (string, error) {
	switch v := f.(type) {
	case core.MultipleLinkedRecord:
		j := JoinTableFor(t.Name, v)
		return fmt.Sprintf("(SELECT %s FROM %s %s WHERE %s.%s = %s.%s)",
			c.d.StringAgg(joinAlias+"."+c.q(j.LinkedColumn), ",", joinAlias+"."+c.q(PositionColumn)),
			c.q(j.Name), joinAlias,
			joinAlias, c.q(j.OwnerColumn), c.q(t.Name), c.q(core.FieldID),
		), nil
	case core.Formula:
		if c.mode == ComputeAtRead {
			return "", nil
		}
		e, err := c.renderFormula(t, v, map[string]bool{})
		return e.sql, err
	case core.Rollup:
		if c.mode == ComputeAtRead {
			return "", nil
		}
		e, err := c.renderRollup(t, v)
		return e.sql, err
	default:
		if _, err := core.StrategyOf(f); err != nil {
			return "", withTable(err, t.Name)
		}
		return c.q(t.Name) + "." + c.q(f.FieldName()), nil
	}
}

func withTable(err error, table string) error {
	if e, ok := err.(*core.InvalidFieldTypeError); ok && e.Table == "" {
		e.Table = table
	}
	return err
}
