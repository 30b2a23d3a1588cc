package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/filter"
	"github.com/leapstack-labs/leapbase/pkg/sqlgen"
)

// Change is one record update of UpdateMany.
type Change struct {
	ID     string
	Fields map[string]any
}

type linkWrite struct {
	join sqlgen.JoinTable
	ids  []string
}

// row is a validated write: plain columns with bound values, and the
// full replacement list of each linked record field.
type row struct {
	id     string
	cols   []string
	args   []any
	links  []linkWrite
	values map[string]any
}

// prepare validates fields against the model and binds their values.
func (t *Table) prepare(fields map[string]any) (*row, error) {
	name := t.def.Name
	for key := range fields {
		if core.IsImplicit(key) {
			return nil, &core.InvalidFieldTypeError{Table: name, Field: key, Want: "a writable field", Got: "an implicit field"}
		}
		f, ok := t.def.Field(key)
		if !ok {
			return nil, &core.FieldNotFoundError{Table: name, Field: key}
		}
		if !core.IsStored(f) {
			return nil, &core.InvalidFieldTypeError{Table: name, Field: key, Want: "a stored field", Got: string(f.FieldType())}
		}
	}

	r := &row{values: make(map[string]any, len(fields))}
	for _, f := range t.def.Fields {
		raw, ok := fields[f.FieldName()]
		if !ok {
			continue
		}
		v, err := core.Normalize(f, raw)
		if err != nil {
			var fe *core.InvalidFieldTypeError
			if errors.As(err, &fe) {
				fe.Table = name
			}
			return nil, err
		}
		r.values[f.FieldName()] = v
		switch fv := f.(type) {
		case core.MultipleLinkedRecord:
			r.links = append(r.links, linkWrite{join: sqlgen.JoinTableFor(name, fv), ids: unique(v.([]string))})
		case core.SingleSelect:
			if s, ok := v.(string); ok && !slices.Contains(fv.Options, s) {
				return nil, &core.InvalidFieldTypeError{
					Table: name, Field: fv.Name,
					Want: fmt.Sprintf("one of %q", fv.Options), Got: fmt.Sprintf("%q", s),
				}
			}
			r.cols = append(r.cols, f.FieldName())
			r.args = append(r.args, v)
		default:
			r.cols = append(r.cols, f.FieldName())
			r.args = append(r.args, t.e.d.BindValue(v))
		}
	}
	return r, nil
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// write runs fn in a transaction.
func (t *Table) write(ctx context.Context, op string, fn func(tx *sql.Tx, now time.Time) error) error {
	unlock := t.e.shareSchema()
	defer unlock()

	tx, err := t.e.db.BeginTx(ctx, nil)
	if err != nil {
		return &core.StorageError{Op: "begin " + op, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx, t.e.opts.now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &core.StorageError{Op: "commit " + op, Err: err}
	}
	return nil
}

// classify maps a backend error and fills in the offending id.
func (t *Table) classify(op, id string, err error) error {
	err = t.e.adapter.ClassifyError(op, t.def.Name, err)
	var dup *core.DuplicateIDError
	if errors.As(err, &dup) && dup.ID == "" {
		dup.ID = id
	}
	return err
}

// Insert writes one record and returns it as read back. An empty id is
// generated.
func (t *Table) Insert(ctx context.Context, rec core.Record) (*core.Record, error) {
	out, err := t.InsertMany(ctx, []core.Record{rec})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// InsertMany writes records in one transaction. Nothing is written when
// any record fails.
func (t *Table) InsertMany(ctx context.Context, recs []core.Record) ([]core.Record, error) {
	if len(recs) == 0 {
		return []core.Record{}, nil
	}
	rows := make([]*row, len(recs))
	for i, rec := range recs {
		r, err := t.prepare(rec.Fields)
		if err != nil {
			return nil, err
		}
		r.id = rec.ID
		if r.id == "" {
			r.id = t.e.opts.newID()
		}
		rows[i] = r
	}

	err := t.write(ctx, "insert into "+t.def.Name, func(tx *sql.Tx, now time.Time) error {
		for _, r := range rows {
			if err := t.insertRow(ctx, tx, r, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.readBack(ctx, rows)
}

func (t *Table) insertRow(ctx context.Context, tx *sql.Tx, r *row, now time.Time) error {
	stamp := t.e.d.BindValue(now)
	cols := append([]string{core.FieldID, core.FieldCreatedAt, core.FieldUpdatedAt}, r.cols...)
	args := append([]any{r.id, stamp, stamp}, r.args...)
	if _, err := tx.ExecContext(ctx, t.e.compiler.InsertRow(t.def.Name, cols), args...); err != nil {
		return t.classify("insert into "+t.def.Name, r.id, err)
	}
	if err := t.writeLinks(ctx, tx, r, false); err != nil {
		return err
	}
	return t.enqueue(ctx, tx, core.ActionInsert, r.id)
}

// writeLinks inserts the join rows of r in list order, first clearing the
// existing ones when replace is set.
func (t *Table) writeLinks(ctx context.Context, tx *sql.Tx, r *row, replace bool) error {
	c := t.e.compiler
	for _, l := range r.links {
		if replace {
			if _, err := tx.ExecContext(ctx, c.DeleteLinks(l.join, l.join.OwnerColumn), r.id); err != nil {
				return t.classify("unlink "+l.join.Name, r.id, err)
			}
		}
		for pos, id := range l.ids {
			if _, err := tx.ExecContext(ctx, c.InsertLink(l.join), r.id, id, pos); err != nil {
				return t.classify("link "+l.join.Name, r.id, err)
			}
		}
	}
	return nil
}

// enqueue writes the outbox entry of a change on backends without change
// triggers, for tables the notifier watches.
func (t *Table) enqueue(ctx context.Context, tx *sql.Tx, action, id string) error {
	if t.e.d.Capabilities.Notify != core.NotifyOutbox || !t.e.notifier.Watching(t.def.Name) {
		return nil
	}
	ev := core.ChangeEvent{Table: t.def.Name, Action: action, RecordID: id}
	if err := t.e.state.Enqueue(ctx, tx, ev); err != nil {
		return &core.StorageError{Op: "enqueue change", Err: err}
	}
	return nil
}

// Update changes the given fields of one record and returns it as read
// back. Linked record lists are replaced as a whole.
func (t *Table) Update(ctx context.Context, id string, fields map[string]any) (*core.Record, error) {
	out, err := t.UpdateMany(ctx, []Change{{ID: id, Fields: fields}})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// UpdateMany applies changes in one transaction.
func (t *Table) UpdateMany(ctx context.Context, changes []Change) ([]core.Record, error) {
	if len(changes) == 0 {
		return []core.Record{}, nil
	}
	rows := make([]*row, len(changes))
	for i, ch := range changes {
		r, err := t.prepare(ch.Fields)
		if err != nil {
			return nil, err
		}
		r.id = ch.ID
		rows[i] = r
	}

	err := t.write(ctx, "update "+t.def.Name, func(tx *sql.Tx, now time.Time) error {
		for _, r := range rows {
			if err := t.updateRow(ctx, tx, r, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.readBack(ctx, rows)
}

func (t *Table) updateRow(ctx context.Context, tx *sql.Tx, r *row, now time.Time) error {
	cols := append(slices.Clone(r.cols), core.FieldUpdatedAt)
	args := append(slices.Clone(r.args), t.e.d.BindValue(now), r.id)
	res, err := tx.ExecContext(ctx, t.e.compiler.UpdateRow(t.def.Name, cols), args...)
	if err != nil {
		return t.classify("update "+t.def.Name, r.id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &core.StorageError{Op: "update " + t.def.Name, Err: err}
	}
	if n == 0 {
		return &core.RecordNotFoundError{Table: t.def.Name, ID: r.id}
	}
	if err := t.writeLinks(ctx, tx, r, true); err != nil {
		return err
	}
	return t.enqueue(ctx, tx, core.ActionUpdate, r.id)
}

// Delete removes a record and every join row naming it, on either side.
// A single linked record elsewhere still pointing at it fails the delete
// with InvalidLinkedRecordError.
func (t *Table) Delete(ctx context.Context, id string) error {
	name := t.def.Name
	return t.write(ctx, "delete from "+name, func(tx *sql.Tx, _ time.Time) error {
		var one int
		err := tx.QueryRowContext(ctx, t.e.compiler.RowExists(name), id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return &core.RecordNotFoundError{Table: name, ID: id}
		}
		if err != nil {
			return t.classify("delete from "+name, id, err)
		}

		for _, j := range t.joinTables() {
			exists, err := t.e.relationExists(ctx, tx, j.Name)
			if err != nil {
				return &core.StorageError{Op: "delete from " + name, Err: err}
			}
			if !exists {
				continue
			}
			for _, col := range t.sidesOf(j) {
				if _, err := tx.ExecContext(ctx, t.e.compiler.DeleteLinks(j, col), id); err != nil {
					return t.classify("unlink "+j.Name, id, err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx, t.e.compiler.DeleteRow(name), id); err != nil {
			return t.classify("delete from "+name, id, err)
		}
		return t.enqueue(ctx, tx, core.ActionDelete, id)
	})
}

// joinTables returns every join table with this table on either side.
func (t *Table) joinTables() []sqlgen.JoinTable {
	out := sqlgen.JoinTables(t.def)
	for _, link := range t.e.reg.Referencing(t.def.Name) {
		if link.Owner != t.def.Name {
			out = append(out, sqlgen.JoinTableFor(link.Owner, link.Field))
		}
	}
	return out
}

// sidesOf returns the columns of j that hold ids of this table.
func (t *Table) sidesOf(j sqlgen.JoinTable) []string {
	var cols []string
	if j.Owner == t.def.Name {
		cols = append(cols, j.OwnerColumn)
	}
	if j.Linked == t.def.Name {
		cols = append(cols, j.LinkedColumn)
	}
	return cols
}

// readBack loads the written rows in write order. The write has
// committed by then, so a failed read is logged and the record is
// returned with the values that were written.
func (t *Table) readBack(ctx context.Context, rows []*row) ([]core.Record, error) {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	byID := make(map[string]core.Record, len(rows))
	recs, err := t.Read(ctx, filter.IsAnyOf(core.FieldID, ids...))
	if err != nil {
		t.e.logger.Warn("failed to read back written records",
			slog.String("table", t.def.Name),
			slog.String("error", err.Error()))
	}
	for _, rec := range recs {
		byID[rec.ID] = rec
	}

	out := make([]core.Record, 0, len(rows))
	for _, r := range rows {
		rec, ok := byID[r.id]
		if !ok {
			rec = core.Record{ID: r.id, Fields: maps.Clone(r.values)}
		}
		out = append(out, rec)
	}
	return out, nil
}
