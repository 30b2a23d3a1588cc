// Package compute evaluates formula and rollup fields on records read
// without them, for engines whose views leave computed columns out.
package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/leapbase/internal/model"
	sl "github.com/leapstack-labs/leapbase/internal/starlark"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/filter"
	"github.com/leapstack-labs/leapbase/pkg/formula"
)

// Source reads stored values. Records it returns carry no read-time
// computed fields.
type Source interface {
	Fetch(ctx context.Context, table string, f filter.Filter) ([]core.Record, error)
}

// Evaluator computes formula and rollup fields. It is safe for concurrent
// use.
type Evaluator struct {
	reg    *core.Registry
	eval   formula.Evaluator
	src    Source
	logger *slog.Logger

	mu    sync.Mutex
	exprs map[string]*formula.Expr
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger that reports fields left empty by a failed
// formula.
func WithLogger(l *slog.Logger) Option {
	return func(ev *Evaluator) {
		if l != nil {
			ev.logger = l
		}
	}
}

// New creates an evaluator over the tables of reg.
func New(reg *core.Registry, eval formula.Evaluator, src Source, opts ...Option) *Evaluator {
	ev := &Evaluator{
		reg:    reg,
		eval:   eval,
		src:    src,
		logger: slog.New(slog.DiscardHandler),
		exprs:  make(map[string]*formula.Expr),
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// ErrTooDeep is returned when rollups over rollups nest deeper than the
// model has tables, which only a cycle through linked records can cause.
var ErrTooDeep = errors.New("computed fields nest too deeply")

// Compute loads one record of table and fills in its computed fields.
func (ev *Evaluator) Compute(ctx context.Context, table, id string) (*core.Record, error) {
	t, ok := ev.reg.Table(table)
	if !ok {
		return nil, &core.ConfigError{Issues: []core.Issue{{Table: table, Reason: "table is not part of the field model"}}}
	}
	recs, err := ev.src.Fetch(ctx, table, filter.Is(core.FieldID, id))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &core.RecordNotFoundError{Table: table, ID: id}
	}
	rec := recs[0]
	if err := ev.Apply(ctx, t, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Apply fills in the computed fields of rec: rollups first, then formulas
// so that every formula sees the values it references.
func (ev *Evaluator) Apply(ctx context.Context, t *core.Table, rec *core.Record) error {
	return ev.apply(ctx, t, rec, 0)
}

func (ev *Evaluator) apply(ctx context.Context, t *core.Table, rec *core.Record, depth int) error {
	if depth > len(ev.reg.Tables()) {
		return ErrTooDeep
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]any)
	}

	for _, f := range t.Fields {
		r, ok := f.(core.Rollup)
		if !ok {
			continue
		}
		v, err := ev.rollup(ctx, t, r, rec, depth)
		if err != nil && !ev.leaveEmpty(ctx, t, rec, r.Name, err) {
			return fmt.Errorf("failed to compute %s.%s: %w", t.Name, r.Name, err)
		}
		rec.Fields[r.Name] = v
	}

	order, err := model.FormulaOrder(t)
	if err != nil {
		return err
	}
	for _, f := range order {
		e, err := ev.expr(f.Formula)
		if err != nil {
			return err
		}
		out, err := ev.eval.Evaluate(ctx, e, rec.Values())
		if err != nil {
			if !ev.leaveEmpty(ctx, t, rec, f.Name, err) {
				return fmt.Errorf("failed to compute %s.%s: %w", t.Name, f.Name, err)
			}
			rec.Fields[f.Name] = nil
			continue
		}
		v, err := core.Normalize(f, out)
		if err != nil {
			return err
		}
		rec.Fields[f.Name] = v
	}
	return nil
}

// leaveEmpty reports whether err is a formula failure on the values of rec.
// Such a field reads as empty, the way a view yields NULL, instead of
// failing the whole read.
func (ev *Evaluator) leaveEmpty(ctx context.Context, t *core.Table, rec *core.Record, field string, err error) bool {
	var evalErr *sl.EvalError
	if ctx.Err() != nil || !errors.As(err, &evalErr) {
		return false
	}
	ev.logger.Warn("formula failed, field left empty",
		slog.String("table", t.Name),
		slog.String("record_id", rec.ID),
		slog.String("field", field),
		slog.String("error", err.Error()))
	return true
}

// rollup loads the linked records of rec in one read, projects the linked
// field and evaluates the rollup formula over the values.
func (ev *Evaluator) rollup(ctx context.Context, t *core.Table, r core.Rollup, rec *core.Record, depth int) (any, error) {
	lf, ok := t.Field(r.LinkedRecords)
	if !ok {
		return nil, &core.FieldNotFoundError{Table: t.Name, Field: r.LinkedRecords}
	}
	link, ok := lf.(core.MultipleLinkedRecord)
	if !ok {
		return nil, &core.InvalidFieldTypeError{
			Table: t.Name, Field: r.LinkedRecords,
			Want: string(core.TypeMultipleLinkedRecord), Got: string(lf.FieldType()),
		}
	}
	linked, ok := ev.reg.Table(link.Table)
	if !ok {
		return nil, &core.ConfigError{Issues: []core.Issue{{Table: t.Name, Field: r.LinkedRecords, Reason: "links to unknown table " + link.Table}}}
	}
	target, ok := linked.Field(r.LinkedField)
	if !ok {
		return nil, &core.FieldNotFoundError{Table: linked.Name, Field: r.LinkedField}
	}

	ids, _ := rec.Fields[r.LinkedRecords].([]string)
	values := make([]any, 0, len(ids))
	if len(ids) > 0 {
		recs, err := ev.src.Fetch(ctx, linked.Name, filter.IsAnyOf(core.FieldID, ids...))
		if err != nil {
			return nil, err
		}
		byID := make(map[string]*core.Record, len(recs))
		for i := range recs {
			byID[recs[i].ID] = &recs[i]
		}
		for _, id := range ids {
			lr, ok := byID[id]
			if !ok {
				continue
			}
			if _, have := lr.Fields[r.LinkedField]; !have && !core.IsStored(target) {
				if err := ev.apply(ctx, linked, lr, depth+1); err != nil {
					return nil, err
				}
			}
			v, _ := lr.Get(r.LinkedField)
			if v = project(target, v); v != nil {
				values = append(values, v)
			}
		}
	}

	e, err := ev.expr(r.Formula)
	if err != nil {
		return nil, err
	}
	out, err := ev.eval.Evaluate(ctx, e, map[string]any{formula.ValuesName: values})
	if err != nil {
		return nil, err
	}
	return core.Normalize(r, out)
}

// project converts a linked value for aggregation. Checkboxes count as
// 1 or 0.
func project(f core.Field, v any) any {
	if b, ok := v.(bool); ok && core.OutputType(f) == core.TypeCheckbox {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func (ev *Evaluator) expr(src string) (*formula.Expr, error) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if e, ok := ev.exprs[src]; ok {
		return e, nil
	}
	e, err := formula.Parse(src)
	if err != nil {
		return nil, err
	}
	ev.exprs[src] = e
	return e, nil
}
