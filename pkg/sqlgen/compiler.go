// Package sqlgen compiles field models and filters into dialect-specific SQL.
//
// The compiler is pure: it never touches a connection. Every method returns
// statements for the caller to execute, in order.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
	"github.com/leapstack-labs/leapbase/pkg/schema"
)

// ViewMode selects what a table's view computes.
type ViewMode int

const (
	// ComputeInView renders formula and rollup columns into the view.
	ComputeInView ViewMode = iota
	// ComputeAtRead leaves computed columns out of the view; they are
	// evaluated after the read.
	ComputeAtRead
)

// Compiler renders SQL for one dialect and one field model.
type Compiler struct {
	d    *dialect.Dialect
	reg  *core.Registry
	mode ViewMode
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithViewMode sets the view mode. The default is ComputeInView.
func WithViewMode(m ViewMode) Option {
	return func(c *Compiler) { c.mode = m }
}

// New creates a compiler.
func New(d *dialect.Dialect, reg *core.Registry, opts ...Option) *Compiler {
	c := &Compiler{d: d, reg: reg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() *dialect.Dialect { return c.d }

// Mode returns the view mode.
func (c *Compiler) Mode() ViewMode { return c.mode }

func (c *Compiler) q(name string) string { return c.d.QuoteIdentifier(name) }

// CreateTable renders the CREATE TABLE statement of t.
func (c *Compiler) CreateTable(t *core.Table) (string, error) {
	cols, err := schema.Plan(t)
	if err != nil {
		return "", err
	}
	return c.createTable(t.Name, schema.Stored(cols), nil)
}

func (c *Compiler) createTable(name string, cols []schema.Column, extra []core.Column) (string, error) {
	lines := make([]string, 0, len(cols)+len(extra))
	var fks []string
	for _, col := range cols {
		def, err := c.columnDef(col, true)
		if err != nil {
			return "", err
		}
		lines = append(lines, def)
		if col.References != "" {
			fks = append(fks, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)",
				c.q(col.Name), c.q(col.References), c.q(core.FieldID)))
		}
	}
	for _, col := range extra {
		def := c.q(col.Name)
		if col.Type != "" {
			def += " " + col.Type
		}
		if !col.Nullable {
			def += " NOT NULL"
		}
		lines = append(lines, def)
	}
	lines = append(lines, fks...)
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", c.q(name), strings.Join(lines, ",\n  ")), nil
}

// columnDef renders name, type, PRIMARY KEY, NOT NULL, DEFAULT and CHECK.
func (c *Compiler) columnDef(col schema.Column, constraints bool) (string, error) {
	var sb strings.Builder
	sb.WriteString(c.q(col.Name))
	sb.WriteString(" ")
	sb.WriteString(c.d.ColumnType(col.Class))
	if constraints && col.PrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	}
	if constraints && !col.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		lit, err := c.d.Literal(col.Default)
		if err != nil {
			return "", fmt.Errorf("default of %q: %w", col.Name, err)
		}
		sb.WriteString(" DEFAULT ")
		sb.WriteString(lit)
	}
	if constraints && len(col.Options) > 0 {
		opts := make([]string, len(col.Options))
		for i, o := range col.Options {
			opts[i] = c.d.QuoteString(o)
		}
		fmt.Fprintf(&sb, " CHECK (%s IN (%s))", c.q(col.Name), strings.Join(opts, ", "))
	}
	return sb.String(), nil
}

// AddColumn renders the statements adding col to table. Backends whose
// ADD COLUMN rejects constraints get the column first and NOT NULL after.
func (c *Compiler) AddColumn(table string, col schema.Column) ([]string, error) {
	constraints := c.d.Capabilities.AddColumnConstraints
	def, err := c.columnDef(col, constraints)
	if err != nil {
		return nil, err
	}
	if constraints && col.References != "" {
		def += fmt.Sprintf(" REFERENCES %s(%s)", c.q(col.References), c.q(core.FieldID))
	}
	stmts := []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", c.q(table), def)}
	if !constraints && !col.Nullable {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", c.q(table), c.q(col.Name)))
	}
	return stmts, nil
}

// RenameColumn renders a column rename.
func (c *Compiler) RenameColumn(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", c.q(table), c.q(from), c.q(to))
}

// AlterColumn renders the in-place type and nullability change of col.
// Only valid on dialects with AlterColumnType.
func (c *Compiler) AlterColumn(table string, col schema.Column) []string {
	typ := c.d.ColumnType(col.Class)
	stmts := []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING CAST(%s AS %s)",
		c.q(table), c.q(col.Name), typ, c.q(col.Name), typ)}
	nullability := "DROP NOT NULL"
	if !col.Nullable {
		nullability = "SET NOT NULL"
	}
	stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s", c.q(table), c.q(col.Name), nullability))
	return stmts
}

// RebuildName is the shadow table used while rebuilding table.
func RebuildName(table string) string { return table + "__rebuild" }

// Rebuild renders the shadow-table rebuild of t: create the shadow with
// the planned columns plus the orphans of mp, copy every row, drop the old
// table and rename the shadow into place. Renamed columns are copied from
// their old name; added columns take their default.
func (c *Compiler) Rebuild(t *core.Table, mp schema.MigrationPlan) ([]string, error) {
	cols, err := schema.Plan(t)
	if err != nil {
		return nil, err
	}
	stored := schema.Stored(cols)
	shadow := RebuildName(t.Name)

	create, err := c.createTable(shadow, stored, mp.Orphans)
	if err != nil {
		return nil, err
	}

	added := make(map[string]bool, len(mp.ToAdd))
	for _, col := range mp.ToAdd {
		added[col.Name] = true
	}
	renamed := make(map[string]string, len(mp.ToRename))
	for _, r := range mp.ToRename {
		renamed[r.Column.Name] = r.From
	}

	var dst, src []string
	for _, col := range stored {
		if added[col.Name] {
			continue
		}
		from := col.Name
		if old, ok := renamed[col.Name]; ok {
			from = old
		}
		dst = append(dst, c.q(col.Name))
		src = append(src, c.q(from))
	}
	for _, col := range mp.Orphans {
		dst = append(dst, c.q(col.Name))
		src = append(src, c.q(col.Name))
	}

	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", c.q(shadow)),
		create,
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			c.q(shadow), strings.Join(dst, ", "), strings.Join(src, ", "), c.q(t.Name)),
		fmt.Sprintf("DROP TABLE %s", c.q(t.Name)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", c.q(shadow), c.q(t.Name)),
	}, nil
}

// ViewName is the name of the view of table.
func ViewName(table string) string { return table + "_view" }

// DropView renders DROP VIEW IF EXISTS.
func (c *Compiler) DropView(name string) string {
	return "DROP VIEW IF EXISTS " + c.q(name)
}
