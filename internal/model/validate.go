// Package model validates and decodes field models before they reach storage.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapbase/internal/dag"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/formula"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ReservedPrefixes are table name prefixes used by the engine itself.
var ReservedPrefixes = []string{"_leapbase", "goose_"}

// Validate checks a whole field model and reports every issue at once as
// a *core.ConfigError.
func Validate(tables []core.Table) error {
	errs := &core.ConfigError{}
	reg := core.NewRegistry(tables...)

	seen := make(map[string]bool, len(tables))
	for i := range tables {
		t := &tables[i]
		switch {
		case t.Name == "":
			errs.Add(fmt.Sprintf("tables[%d]", i), "", "table name is empty")
			continue
		case !identRe.MatchString(t.Name):
			errs.Add(t.Name, "", "table name must match %s", identRe)
		case hasReservedPrefix(t.Name):
			errs.Add(t.Name, "", "table name uses a reserved prefix")
		}
		if seen[t.Name] {
			errs.Add(t.Name, "", "duplicate table name")
		}
		seen[t.Name] = true
		validateTable(t, reg, errs)
	}

	for _, t := range tables {
		if strings.HasSuffix(t.Name, "_view") && seen[strings.TrimSuffix(t.Name, "_view")] {
			errs.Add(t.Name, "", "table name collides with the view of %q", strings.TrimSuffix(t.Name, "_view"))
		}
	}

	if cycle := ViewGraph(reg).FindCycle(); cycle != nil {
		errs.Add("", "", "rollups form a cycle between tables: %s", strings.Join(cycle, " -> "))
	}

	return errs.OrNil()
}

func hasReservedPrefix(name string) bool {
	for _, p := range ReservedPrefixes {
		if strings.HasPrefix(strings.ToLower(name), p) {
			return true
		}
	}
	return false
}

func validateTable(t *core.Table, reg *core.Registry, errs *core.ConfigError) {
	names := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		name := f.FieldName()
		switch {
		case name == "":
			errs.Add(t.Name, "", "field name is empty")
			continue
		case core.IsImplicit(name):
			errs.Add(t.Name, name, "field name is reserved for an implicit field")
		case !identRe.MatchString(name):
			errs.Add(t.Name, name, "field name must match %s", identRe)
		}
		if names[name] {
			errs.Add(t.Name, name, "duplicate field name")
		}
		names[name] = true

		if rep := f.Migration().Replace; rep != "" && (core.IsImplicit(rep) || rep == name) {
			errs.Add(t.Name, name, "onMigration.replace %q is not a valid previous name", rep)
		}

		validateField(t, f, reg, errs)
	}

	if err := formulaOrder(t); err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			errs.Add(t.Name, cycle.Path[0], "formulas reference each other: %s", strings.Join(cycle.Path, " -> "))
		}
	}
}

func validateField(t *core.Table, f core.Field, reg *core.Registry, errs *core.ConfigError) {
	name := f.FieldName()

	switch v := f.(type) {
	case core.SingleLineText, core.LongText, core.Email, core.Number, core.DateTime, core.Checkbox:
		validateDefault(t, f, errs)
	case core.SingleSelect:
		if len(v.Options) == 0 {
			errs.Add(t.Name, name, "select needs at least one option")
		}
		for i, opt := range v.Options {
			if slices.Contains(v.Options[:i], opt) {
				errs.Add(t.Name, name, "duplicate option %q", opt)
			}
		}
		if d, ok := v.Default.(string); ok && !slices.Contains(v.Options, d) {
			errs.Add(t.Name, name, "default %q is not one of the options", d)
		}
		validateDefault(t, f, errs)
	case core.SingleLinkedRecord:
		checkTableRef(t, name, v.Table, reg, errs)
		validateDefault(t, f, errs)
	case core.MultipleLinkedRecord:
		checkTableRef(t, name, v.Table, reg, errs)
		if v.Default != nil {
			errs.Add(t.Name, name, "linked record lists cannot have a default")
		}
	case core.Formula:
		checkComputed(t, name, v.Output, v.Default, errs)
		e, err := formula.Parse(v.Formula)
		if err != nil {
			errs.Add(t.Name, name, "%v", err)
			return
		}
		for _, ref := range e.References() {
			target, ok := t.Field(ref)
			if !ok {
				errs.Add(t.Name, name, "formula references unknown field %q", ref)
				continue
			}
			if _, isMulti := target.(core.MultipleLinkedRecord); isMulti {
				errs.Add(t.Name, name, "formula cannot reference linked record list %q", ref)
			}
		}
	case core.Rollup:
		checkComputed(t, name, v.Output, v.Default, errs)
		validateRollup(t, v, reg, errs)
	default:
		errs.Add(t.Name, name, "unsupported field type %q", f.FieldType())
	}
}

func validateRollup(t *core.Table, r core.Rollup, reg *core.Registry, errs *core.ConfigError) {
	name := r.Name
	if e, err := formula.Parse(r.Formula); err != nil {
		errs.Add(t.Name, name, "%v", err)
	} else {
		for _, ref := range e.References() {
			if ref != formula.ValuesName {
				errs.Add(t.Name, name, "rollup formula may only reference %q, found %q", formula.ValuesName, ref)
			}
		}
		if !e.ValuesAggregated() {
			errs.Add(t.Name, name, "rollup formula must pass %q directly to SUM, COUNT, AVG, MIN, MAX or CONCAT", formula.ValuesName)
		}
	}

	lf, ok := t.Field(r.LinkedRecords)
	if !ok {
		errs.Add(t.Name, name, "linkedRecords %q is not a field of %q", r.LinkedRecords, t.Name)
		return
	}
	link, ok := lf.(core.MultipleLinkedRecord)
	if !ok {
		errs.Add(t.Name, name, "linkedRecords %q is %s, not MultipleLinkedRecord", r.LinkedRecords, lf.FieldType())
		return
	}
	linked, ok := reg.Table(link.Table)
	if !ok {
		// Already reported on the linked record field.
		return
	}
	target, ok := linked.Field(r.LinkedField)
	if !ok {
		errs.Add(t.Name, name, "linkedField %q is not a field of %q", r.LinkedField, linked.Name)
		return
	}
	if _, isMulti := target.(core.MultipleLinkedRecord); isMulti {
		errs.Add(t.Name, name, "linkedField %q is a linked record list and cannot be rolled up", r.LinkedField)
	}
	if linked.Name == t.Name && !core.IsStored(target) {
		errs.Add(t.Name, name, "rollup over its own table cannot read computed field %q", r.LinkedField)
	}
}

func checkTableRef(t *core.Table, field, table string, reg *core.Registry, errs *core.ConfigError) {
	if table == "" {
		errs.Add(t.Name, field, "linked table is not set")
		return
	}
	if _, ok := reg.Table(table); !ok {
		errs.Add(t.Name, field, "linked table %q does not exist", table)
	}
}

func checkComputed(t *core.Table, name string, output core.FieldType, def any, errs *core.ConfigError) {
	if !output.IsPrimitive() {
		errs.Add(t.Name, name, "output type %q must be one of SingleLineText, LongText, Number, DateTime, Checkbox", output)
	}
	if def != nil {
		errs.Add(t.Name, name, "computed fields cannot have a default")
	}
}

func validateDefault(t *core.Table, f core.Field, errs *core.ConfigError) {
	def := f.DefaultValue()
	if def == nil {
		return
	}
	ok := false
	switch f.(type) {
	case core.Number:
		switch def.(type) {
		case int, int64, float64:
			ok = true
		}
	case core.Checkbox:
		_, ok = def.(bool)
	default:
		_, ok = def.(string)
	}
	if !ok {
		errs.Add(t.Name, f.FieldName(), "default %v (%T) does not match %s", def, def, f.FieldType())
	}
}

// FormulaOrder returns the formula fields of t so that every formula comes
// after the formulas it references.
func FormulaOrder(t *core.Table) ([]core.Formula, error) {
	g, err := formulaDeps(t)
	if err != nil {
		return nil, err
	}
	ids, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	out := make([]core.Formula, 0, len(ids))
	for _, id := range ids {
		f, _ := t.Field(id)
		out = append(out, f.(core.Formula))
	}
	return out, nil
}

func formulaOrder(t *core.Table) error {
	_, err := formulaDeps(t)
	return err
}

// formulaDeps links each formula to the formulas that reference it.
func formulaDeps(t *core.Table) (*dag.Graph, error) {
	g := formulaGraph(t)
	for _, f := range t.Fields {
		fv, ok := f.(core.Formula)
		if !ok {
			continue
		}
		e, err := formula.Parse(fv.Formula)
		if err != nil {
			continue
		}
		for _, ref := range e.References() {
			if g.Has(ref) {
				if err := g.AddEdge(ref, fv.Name); err != nil {
					return nil, err
				}
			}
		}
	}
	if cycle := g.FindCycle(); cycle != nil {
		return nil, &dag.CycleError{Path: cycle}
	}
	return g, nil
}

func formulaGraph(t *core.Table) *dag.Graph {
	g := dag.NewGraph()
	for _, f := range t.Fields {
		if _, ok := f.(core.Formula); ok {
			g.AddNode(f.FieldName())
		}
	}
	return g
}

// ViewGraph links each table to the tables whose views read its view.
// A rollup over another table reads that table's view; a rollup over its
// own table reads the base table and adds no edge.
func ViewGraph(reg *core.Registry) *dag.Graph {
	g := dag.NewGraph()
	for _, t := range reg.Tables() {
		g.AddNode(t.Name)
	}
	for _, t := range reg.Tables() {
		for _, f := range t.Fields {
			r, ok := f.(core.Rollup)
			if !ok {
				continue
			}
			lf, ok := t.Field(r.LinkedRecords)
			if !ok {
				continue
			}
			link, ok := lf.(core.MultipleLinkedRecord)
			if !ok || !g.Has(link.Table) {
				continue
			}
			if link.Table != t.Name {
				_ = g.AddEdge(link.Table, t.Name)
			}
		}
	}
	return g
}

// ForeignKeyGraph links each table to the tables holding foreign keys to it,
// through single linked records and join tables. Self references are skipped.
func ForeignKeyGraph(reg *core.Registry) *dag.Graph {
	g := dag.NewGraph()
	for _, t := range reg.Tables() {
		g.AddNode(t.Name)
	}
	for _, t := range reg.Tables() {
		for _, f := range t.Fields {
			if s, ok := f.(core.SingleLinkedRecord); ok && s.Table != t.Name && g.Has(s.Table) {
				_ = g.AddEdge(s.Table, t.Name)
			}
		}
	}
	return g
}
