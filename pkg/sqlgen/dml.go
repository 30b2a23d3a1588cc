package sqlgen

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapbase/pkg/core"
)

func (c *Compiler) placeholders(start, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = c.d.FormatPlaceholder(start + i)
	}
	return out
}

func (c *Compiler) quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = c.q(n)
	}
	return out
}

// InsertRow renders an INSERT of the given columns.
func (c *Compiler) InsertRow(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.q(table), strings.Join(c.quoteAll(cols), ", "), strings.Join(c.placeholders(1, len(cols)), ", "))
}

// UpdateRow renders an UPDATE of the given columns by id. The id is the
// last parameter.
func (c *Compiler) UpdateRow(table string, cols []string) string {
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = c.q(col) + " = " + c.d.FormatPlaceholder(i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		c.q(table), strings.Join(sets, ", "), c.q(core.FieldID), c.d.FormatPlaceholder(len(cols)+1))
}

// DeleteRow renders a DELETE by id.
func (c *Compiler) DeleteRow(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", c.q(table), c.q(core.FieldID), c.d.FormatPlaceholder(1))
}

// RowExists renders an existence check for a row id.
func (c *Compiler) RowExists(table string) string {
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s", c.q(table), c.q(core.FieldID), c.d.FormatPlaceholder(1))
}

// InsertLink renders the insert of one join row.
func (c *Compiler) InsertLink(j JoinTable) string {
	return c.InsertRow(j.Name, []string{j.OwnerColumn, j.LinkedColumn, PositionColumn})
}

// DeleteLinks renders the removal of every join row whose column col
// holds the given id.
func (c *Compiler) DeleteLinks(j JoinTable, col string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", c.q(j.Name), c.q(col), c.d.FormatPlaceholder(1))
}

// SelectLinks renders the ordered linked ids of one owner row.
func (c *Compiler) SelectLinks(j JoinTable) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s",
		c.q(j.LinkedColumn), c.q(j.Name), c.q(j.OwnerColumn), c.d.FormatPlaceholder(1), c.q(PositionColumn))
}

// SelectView renders a read of t's view with an optional condition.
// Rows come back in creation order.
func (c *Compiler) SelectView(t *core.Table, where string) string {
	sql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(c.quoteAll(c.ViewColumns(t)), ", "), c.q(ViewName(t.Name)))
	if where != "" {
		sql += " WHERE " + where
	}
	return sql + fmt.Sprintf(" ORDER BY %s, %s", c.q(core.FieldCreatedAt), c.q(core.FieldID))
}
