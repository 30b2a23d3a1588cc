package storage

import (
	"context"
	"errors"
	"time"

	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/filter"
	"github.com/leapstack-labs/leapbase/pkg/sqlgen"
)

// Read returns the records matching f in creation order. A nil filter
// matches every record. Computed fields are included.
func (t *Table) Read(ctx context.Context, f filter.Filter) ([]core.Record, error) {
	recs, err := t.fetch(ctx, f)
	if err != nil {
		return nil, err
	}
	if t.e.compiler.Mode() != sqlgen.ComputeAtRead {
		return recs, nil
	}
	for i := range recs {
		if err := t.e.compute.Apply(ctx, t.def, &recs[i]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// ReadByID returns one record, or nil without error when no record has
// the id.
func (t *Table) ReadByID(ctx context.Context, id string) (*core.Record, error) {
	recs, err := t.Read(ctx, filter.Is(core.FieldID, id))
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// List returns the records matching all filters.
func (t *Table) List(ctx context.Context, filters ...filter.Filter) ([]core.Record, error) {
	if len(filters) == 1 {
		return t.Read(ctx, filters[0])
	}
	return t.Read(ctx, filter.And(filters...))
}

// fetch reads the view without read-time computation.
func (t *Table) fetch(ctx context.Context, f filter.Filter) ([]core.Record, error) {
	c := t.e.compiler
	where, args, _, err := c.CompileFilter(t.def, f, 1)
	if err != nil {
		return nil, err
	}

	unlock := t.e.shareSchema()
	defer unlock()

	op := "read " + t.def.Name
	rows, err := t.e.db.QueryContext(ctx, c.SelectView(t.def, where), args...)
	if err != nil {
		return nil, t.e.adapter.ClassifyError(op, t.def.Name, err)
	}
	defer func() { _ = rows.Close() }()

	cols := c.ViewColumns(t.def)
	var out []core.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &core.StorageError{Op: op, Err: err}
		}
		rec, err := t.record(cols, vals)
		if err != nil {
			return nil, &core.StorageError{Op: op, Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, t.e.adapter.ClassifyError(op, t.def.Name, err)
	}
	return out, nil
}

// record builds a record from one view row, normalizing every value to
// its field's Go type.
func (t *Table) record(cols []string, vals []any) (core.Record, error) {
	rec := core.Record{Fields: make(map[string]any, len(cols))}
	for i, name := range cols {
		f, ok := t.def.Field(name)
		if !ok {
			return rec, &core.FieldNotFoundError{Table: t.def.Name, Field: name}
		}
		v, err := core.Normalize(f, vals[i])
		if err != nil {
			var fe *core.InvalidFieldTypeError
			if errors.As(err, &fe) {
				fe.Table = t.def.Name
			}
			return rec, err
		}
		switch name {
		case core.FieldID:
			rec.ID, _ = v.(string)
		case core.FieldCreatedAt:
			rec.CreatedAt, _ = v.(time.Time)
		case core.FieldUpdatedAt:
			if ts, ok := v.(time.Time); ok {
				rec.UpdatedAt = &ts
			}
		default:
			rec.Fields[name] = v
		}
	}
	return rec, nil
}
