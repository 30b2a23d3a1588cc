// Package schema plans the physical columns of a table and diffs them
// against what a live database reports.
package schema

import (
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
)

// Column is a planned column of a table.
type Column struct {
	Name       string
	Class      core.TypeClass
	Nullable   bool
	PrimaryKey bool

	// References is the linked table of a foreign key column.
	References string
	// Options are the allowed values of a select column.
	Options []string
	// Default is the literal DEFAULT value, or nil.
	Default any
	// ViewOnly columns exist only in the table's view.
	ViewOnly bool
	// Replace is the previous name of a renamed column.
	Replace string

	Field core.Field
}

// Plan returns the columns of t: implicit columns first, then the declared
// fields in order. Join-table and computed fields are marked ViewOnly.
func Plan(t *core.Table) ([]Column, error) {
	fields := t.AllFields()
	cols := make([]Column, 0, len(fields))
	for _, f := range fields {
		s, err := core.StrategyOf(f)
		if err != nil {
			return nil, withTable(err, t.Name)
		}
		class, ok := core.ClassOf(core.OutputType(f))
		if !ok {
			return nil, &core.InvalidFieldTypeError{
				Table: t.Name,
				Field: f.FieldName(),
				Want:  "a primitive output type",
				Got:   string(core.OutputType(f)),
			}
		}

		col := Column{
			Name:       f.FieldName(),
			Class:      class,
			Nullable:   !f.IsRequired(),
			PrimaryKey: f.FieldName() == core.FieldID,
			Default:    f.DefaultValue(),
			Replace:    f.Migration().Replace,
			Field:      f,
		}
		switch s {
		case core.StrategyForeignKey:
			col.References = f.(core.SingleLinkedRecord).Table
		case core.StrategyJoinTable, core.StrategyView:
			col.ViewOnly = true
			col.Nullable = true
			col.Default = nil
		}
		if sel, ok := f.(core.SingleSelect); ok {
			col.Options = sel.Options
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// Stored returns the columns that exist in the base table.
func Stored(cols []Column) []Column {
	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		if !c.ViewOnly {
			out = append(out, c)
		}
	}
	return out
}

func withTable(err error, table string) error {
	if e, ok := err.(*core.InvalidFieldTypeError); ok && e.Table == "" {
		e.Table = table
	}
	return err
}

// Rename moves an existing column to a new name.
type Rename struct {
	From   string
	Column Column
}

// MigrationPlan is the difference between a live table and its plan.
// Statements run in the order adds, renames, alters.
type MigrationPlan struct {
	ToAdd    []Column
	ToRename []Rename
	ToAlter  []Column

	// Orphans are live columns no field claims. They are kept.
	Orphans []core.Column
}

// Empty reports whether the live table already matches the plan.
func (p MigrationPlan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRename) == 0 && len(p.ToAlter) == 0
}

// NeedsRebuild reports whether the plan can only be applied by rebuilding
// the table: alterations on a backend without in-place ALTER COLUMN, or a
// required column without a default, which such backends cannot add.
func (p MigrationPlan) NeedsRebuild(d *dialect.Dialect) bool {
	if d.Capabilities.AlterColumnType {
		return false
	}
	if len(p.ToAlter) > 0 {
		return true
	}
	for _, c := range p.ToAdd {
		if !c.Nullable && c.Default == nil {
			return true
		}
	}
	return false
}

// Diff compares the live columns of a table with its plan.
//
// A planned column matches a live column of the same name, or of its
// Replace name, which makes it a rename. A matched column is altered when
// its type class or nullability differs. Live columns left unmatched are
// reported as orphans and never dropped.
func Diff(existing []core.Column, plan []Column, d *dialect.Dialect) MigrationPlan {
	live := make(map[string]core.Column, len(existing))
	for _, c := range existing {
		live[c.Name] = c
	}
	claimed := make(map[string]bool, len(existing))

	var mp MigrationPlan
	for _, col := range Stored(plan) {
		cur, ok := live[col.Name]
		if !ok && col.Replace != "" {
			if old, found := live[col.Replace]; found && !claimed[col.Replace] {
				mp.ToRename = append(mp.ToRename, Rename{From: col.Replace, Column: col})
				cur, ok = old, true
			}
		}
		if !ok {
			mp.ToAdd = append(mp.ToAdd, col)
			continue
		}
		claimed[cur.Name] = true
		if col.PrimaryKey {
			continue
		}
		if class, known := d.ClassOf(cur.Type); !known || class != col.Class || cur.Nullable != col.Nullable {
			mp.ToAlter = append(mp.ToAlter, col)
		}
	}

	for _, c := range existing {
		if !claimed[c.Name] {
			mp.Orphans = append(mp.Orphans, c)
		}
	}
	return mp
}
