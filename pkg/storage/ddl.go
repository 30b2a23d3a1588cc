package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"slices"

	"github.com/leapstack-labs/leapbase/internal/model"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/sqlgen"
)

type step struct {
	name string
	sql  string
}

type viewRecord struct {
	name       string
	definition string
}

// planState tracks the relations planned statements create or drop, so
// later decisions see them before anything runs.
type planState struct {
	tables map[string]bool
	views  map[string]bool
}

func newPlanState() *planState {
	return &planState{tables: make(map[string]bool), views: make(map[string]bool)}
}

// ddlPlan accumulates the statements of one schema change.
type ddlPlan struct {
	*planState
	e     *Engine
	q     core.Querier
	steps []step

	record []viewRecord
	forget []string
}

// newPlan starts a plan over st, or over fresh state when st is nil.
func (e *Engine) newPlan(q core.Querier, st *planState) *ddlPlan {
	if st == nil {
		st = newPlanState()
	}
	return &ddlPlan{planState: st, e: e, q: q}
}

func (p *ddlPlan) add(name, sql string) {
	p.steps = append(p.steps, step{name: name, sql: sql})
}

func (p *ddlPlan) statements() []string {
	out := make([]string, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.sql
	}
	return out
}

func (p *ddlPlan) tableExists(ctx context.Context, name string) (bool, error) {
	if ok, planned := p.tables[name]; planned {
		return ok, nil
	}
	return p.e.relationExists(ctx, p.q, name)
}

func (p *ddlPlan) viewExists(ctx context.Context, name string) (bool, error) {
	if ok, planned := p.views[name]; planned {
		return ok, nil
	}
	return p.e.viewExists(ctx, p.q, name)
}

// linkedReady reports whether the other side of a join table exists.
func (p *ddlPlan) linkedReady(ctx context.Context, j sqlgen.JoinTable, self string) (bool, error) {
	other := j.Linked
	if other == self {
		other = j.Owner
	}
	if other == self {
		return true, nil
	}
	return p.tableExists(ctx, other)
}

// createJoinTables adds the join tables of t, and those of other tables
// linking to t, whose both ends exist. It returns the owners of the
// incoming join tables it created.
func (p *ddlPlan) createJoinTables(ctx context.Context, t *core.Table) ([]string, error) {
	candidates := sqlgen.JoinTables(t)
	for _, link := range p.e.reg.Referencing(t.Name) {
		if link.Owner != t.Name {
			candidates = append(candidates, sqlgen.JoinTableFor(link.Owner, link.Field))
		}
	}

	var owners []string
	for _, j := range candidates {
		ready, err := p.linkedReady(ctx, j, t.Name)
		if err != nil {
			return owners, err
		}
		if !ready {
			continue
		}
		exists, err := p.tableExists(ctx, j.Name)
		if err != nil {
			return owners, err
		}
		if exists {
			continue
		}
		p.add("create join table "+j.Name, p.e.compiler.CreateJoinTable(j))
		p.tables[j.Name] = true
		if j.Owner != t.Name {
			owners = append(owners, j.Owner)
		}
	}
	return owners, nil
}

// viewReady reports whether everything the view of t selects from exists.
func (p *ddlPlan) viewReady(ctx context.Context, t *core.Table) (bool, error) {
	for _, j := range sqlgen.JoinTables(t) {
		ok, err := p.tableExists(ctx, j.Name)
		if err != nil || !ok {
			return false, err
		}
	}
	if p.e.compiler.Mode() == sqlgen.ComputeAtRead {
		return true, nil
	}
	for _, f := range t.Fields {
		r, ok := f.(core.Rollup)
		if !ok {
			continue
		}
		lf, _ := t.Field(r.LinkedRecords)
		link, ok := lf.(core.MultipleLinkedRecord)
		if !ok || link.Table == t.Name {
			continue
		}
		ok, err := p.viewExists(ctx, sqlgen.ViewName(link.Table))
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// dropViews drops the views of tables, dependents first.
func (p *ddlPlan) dropViews(ctx context.Context, tables []string) error {
	for _, name := range slices.Backward(tables) {
		view := sqlgen.ViewName(name)
		exists, err := p.viewExists(ctx, view)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		p.add("drop view "+view, p.e.compiler.DropView(view))
		p.views[view] = false
		p.forget = append(p.forget, view)
	}
	return nil
}

// createViews creates the missing views of tables, in order, for tables
// that exist and whose view inputs exist.
func (p *ddlPlan) createViews(ctx context.Context, tables []string) ([]string, error) {
	var created []string
	for _, name := range tables {
		t, ok := p.e.reg.Table(name)
		if !ok {
			continue
		}
		exists, err := p.tableExists(ctx, name)
		if err != nil {
			return created, err
		}
		if !exists {
			continue
		}
		view := sqlgen.ViewName(name)
		if ok, err := p.viewExists(ctx, view); err != nil || ok {
			if err != nil {
				return created, err
			}
			continue
		}
		ready, err := p.viewReady(ctx, t)
		if err != nil {
			return created, err
		}
		if !ready {
			p.e.logger.Debug("deferring view until its inputs exist", slog.String("view", view))
			continue
		}
		def, err := p.e.compiler.CreateView(t)
		if err != nil {
			return created, err
		}
		p.add("create view "+view, def)
		p.views[view] = true
		p.record = append(p.record, viewRecord{name: view, definition: def})
		created = append(created, view)
	}
	return created, nil
}

// exec runs the plan on tx and records view definitions. It returns the
// name of the failing step.
func (p *ddlPlan) exec(ctx context.Context, tx *sql.Tx) (string, error) {
	for _, s := range p.steps {
		if _, err := tx.ExecContext(ctx, s.sql); err != nil {
			return s.name, err
		}
	}
	recorded := make(map[string]bool, len(p.record))
	for _, v := range p.record {
		if err := p.e.state.SaveView(ctx, tx, v.name, v.definition); err != nil {
			return "record view " + v.name, err
		}
		recorded[v.name] = true
	}
	for _, name := range p.forget {
		if recorded[name] {
			continue
		}
		if err := p.e.state.DeleteView(ctx, tx, name); err != nil {
			return "forget view " + name, err
		}
	}
	return "", nil
}

// dependents returns the tables whose views must follow the view of each
// given table, in view dependency order.
func (e *Engine) dependents(tables ...string) []string {
	return model.ViewGraph(e.reg).Downstream(tables...)
}

func stepError(table, stepName string, err error) error {
	return &core.MigrationError{Table: table, Step: stepName, Err: err}
}
