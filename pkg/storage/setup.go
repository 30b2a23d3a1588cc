package storage

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/leapbase/internal/model"
)

// setupOrder returns the tables with every table after the tables its
// foreign keys point at. Foreign-key cycles fall back to model order.
func (e *Engine) setupOrder() []string {
	order, err := model.ForeignKeyGraph(e.reg).TopologicalSort()
	if err != nil {
		e.logger.Warn("foreign keys form a cycle, using model order", slog.String("error", err.Error()))
		order = nil
		for _, t := range e.reg.Tables() {
			order = append(order, t.Name)
		}
	}
	return order
}

// Setup creates every missing table and migrates every existing one.
// Tables go in foreign-key order; join tables and views follow as soon as
// what they reference exists.
func (e *Engine) Setup(ctx context.Context) ([]*MigrationResult, error) {
	var results []*MigrationResult
	for _, name := range e.setupOrder() {
		t, err := e.Table(name)
		if err != nil {
			return results, err
		}
		res, err := t.setup(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Plan reports what Setup would run, table by table.
func (e *Engine) Plan(ctx context.Context) ([]*MigrationResult, error) {
	st := newPlanState()
	var results []*MigrationResult
	for _, name := range e.setupOrder() {
		t, err := e.Table(name)
		if err != nil {
			return results, err
		}
		res, err := t.plan(ctx, st)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (t *Table) setup(ctx context.Context) (*MigrationResult, error) {
	if t.Exists(ctx) {
		return t.Migrate(ctx)
	}

	release := t.e.locks.Lock(t.def.Name)
	defer release()
	unlock := t.e.lockSchema()
	defer unlock()
	return t.create(ctx, nil, false)
}

// Changed reports whether a result ran or would run any statement.
func (r *MigrationResult) Changed() bool {
	return r != nil && len(r.Statements) > 0
}
