package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapbase/pkg/adapter"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/schema"
	"github.com/leapstack-labs/leapbase/pkg/sqlgen"
)

// Table drives one table of the field model.
type Table struct {
	e   *Engine
	def *core.Table
}

// MigrationResult describes what Create, Migrate or Plan did or would do.
type MigrationResult struct {
	Table string
	// Created is set when the table did not exist.
	Created bool
	// Rebuilt is set when columns changed through a shadow-table rebuild.
	Rebuilt bool
	Plan    schema.MigrationPlan
	// Statements are the DDL statements in execution order.
	Statements []string
	// Views are the views (re)created.
	Views []string
}

// Name returns the table name.
func (t *Table) Name() string { return t.def.Name }

// Definition returns the table's field model.
func (t *Table) Definition() *core.Table { return t.def }

// ViewName returns the name of the table's view.
func (t *Table) ViewName() string { return sqlgen.ViewName(t.def.Name) }

// Exists reports whether the base table exists. Lookup failures are
// logged and reported as false.
func (t *Table) Exists(ctx context.Context) bool {
	ok, err := t.e.relationExists(ctx, t.e.db, t.def.Name)
	if err != nil {
		t.e.logger.Warn("table lookup failed", slog.String("table", t.def.Name), slog.String("error", err.Error()))
		return false
	}
	return ok
}

// ViewExists reports whether the table's view exists. Lookup failures are
// logged and reported as false.
func (t *Table) ViewExists(ctx context.Context) bool {
	ok, err := t.e.viewExists(ctx, t.e.db, t.ViewName())
	if err != nil {
		t.e.logger.Warn("view lookup failed", slog.String("view", t.ViewName()), slog.String("error", err.Error()))
		return false
	}
	return ok
}

// Create creates the table, its join tables to tables that already exist
// and its view, in one transaction. Join tables and views of other tables
// that were waiting for this one are created too.
func (t *Table) Create(ctx context.Context) error {
	release := t.e.locks.Lock(t.def.Name)
	defer release()
	unlock := t.e.lockSchema()
	defer unlock()

	_, err := t.create(ctx, nil, false)
	return err
}

func (t *Table) create(ctx context.Context, st *planState, dryRun bool) (*MigrationResult, error) {
	name := t.def.Name
	if dryRun {
		res, _, err := t.planCreate(ctx, t.e.db, st)
		return res, err
	}

	// The existence checks run in the transaction that creates the table, so
	// a concurrent creator cannot slip in between them.
	tx, err := t.e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &core.StorageError{Op: "begin create " + name, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	res, p, err := t.planCreate(ctx, tx, st)
	if err != nil {
		return nil, err
	}
	if stepName, err := p.exec(ctx, tx); err != nil {
		if stepName == "create table "+name && relationAlreadyExists(err) {
			return nil, &core.TableAlreadyExistsError{Table: name}
		}
		return nil, t.e.adapter.ClassifyError(stepName, name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, &core.StorageError{Op: "commit create " + name, Err: err}
	}

	t.e.logger.Info("created table",
		slog.String("table", name),
		slog.Int("statements", len(res.Statements)))
	return res, nil
}

// planCreate checks that neither the table nor its view exists and plans
// the statements that create them.
func (t *Table) planCreate(ctx context.Context, q core.Querier, st *planState) (*MigrationResult, *ddlPlan, error) {
	name := t.def.Name
	exists, err := t.e.relationExists(ctx, q, name)
	if err != nil {
		return nil, nil, &core.StorageError{Op: "create " + name, Err: err}
	}
	if exists {
		return nil, nil, &core.TableAlreadyExistsError{Table: name}
	}
	viewExists, err := t.e.viewExists(ctx, q, t.ViewName())
	if err != nil {
		return nil, nil, &core.StorageError{Op: "create " + name, Err: err}
	}
	if viewExists {
		return nil, nil, &core.ViewAlreadyExistsError{View: t.ViewName()}
	}

	p := t.e.newPlan(q, st)
	ddl, err := t.e.compiler.CreateTable(t.def)
	if err != nil {
		return nil, nil, err
	}
	p.add("create table "+name, ddl)
	p.tables[name] = true

	owners, err := p.createJoinTables(ctx, t.def)
	if err != nil {
		return nil, nil, &core.StorageError{Op: "create " + name, Err: err}
	}
	views, err := p.createViews(ctx, t.e.dependents(append([]string{name}, owners...)...))
	if err != nil {
		return nil, nil, &core.StorageError{Op: "create " + name, Err: err}
	}
	return &MigrationResult{Table: name, Created: true, Statements: p.statements(), Views: views}, p, nil
}

// relationAlreadyExists matches the duplicate relation errors of the
// bundled backends.
func relationAlreadyExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// Migrate brings an existing table in line with its field model. Columns
// are added, renamed and altered in place, or the table is rebuilt where
// the backend cannot alter in place. Missing join tables are created, and
// the table's view and every view reading it are recreated when a column
// changed or the view definition differs from the recorded one. Orphan
// columns are kept. An unchanged model executes nothing.
func (t *Table) Migrate(ctx context.Context) (*MigrationResult, error) {
	release := t.e.locks.Lock(t.def.Name)
	defer release()
	unlock := t.e.lockSchema()
	defer unlock()

	res, err := t.migrate(ctx, nil, false)
	if err != nil {
		return nil, err
	}
	if res.Rebuilt {
		// The rebuild dropped the old table and its change triggers.
		if err := t.e.notifier.Refresh(ctx, t.def.Name); err != nil {
			return res, stepError(t.def.Name, "reinstall change capture", err)
		}
	}
	return res, nil
}

// Plan reports the statements Create or Migrate would run, without
// running them.
func (t *Table) Plan(ctx context.Context) (*MigrationResult, error) {
	return t.plan(ctx, nil)
}

func (t *Table) plan(ctx context.Context, st *planState) (*MigrationResult, error) {
	release := t.e.locks.Lock(t.def.Name)
	defer release()

	if !t.Exists(ctx) {
		return t.create(ctx, st, true)
	}
	return t.migrate(ctx, st, true)
}

func (t *Table) migrate(ctx context.Context, st *planState, dryRun bool) (*MigrationResult, error) {
	name := t.def.Name
	conn, err := t.e.db.Conn(ctx)
	if err != nil {
		return nil, stepError(name, "connect", err)
	}
	defer func() { _ = conn.Close() }()

	exists, err := t.e.relationExists(ctx, conn, name)
	if err != nil {
		return nil, stepError(name, "introspect", err)
	}
	if !exists {
		return nil, stepError(name, "introspect", fmt.Errorf("table %s does not exist", name))
	}

	live, err := t.e.adapter.Columns(ctx, conn, name)
	if err != nil {
		return nil, stepError(name, "introspect", err)
	}
	planned, err := schema.Plan(t.def)
	if err != nil {
		return nil, stepError(name, "plan", err)
	}
	mp := schema.Diff(live, planned, t.e.d)
	rebuild := !mp.Empty() && mp.NeedsRebuild(t.e.d)

	p := t.e.newPlan(conn, st)
	if err := t.planColumns(p, mp, rebuild); err != nil {
		return nil, stepError(name, "plan", err)
	}
	columnSteps := len(p.steps)

	owners, err := p.createJoinTables(ctx, t.def)
	if err != nil {
		return nil, stepError(name, "plan join tables", err)
	}

	viewChanged, err := t.viewChanged(ctx, conn)
	if err != nil {
		return nil, stepError(name, "compare view", err)
	}

	res := &MigrationResult{Table: name, Plan: mp, Rebuilt: rebuild}
	if columnSteps > 0 || len(p.steps) > columnSteps || viewChanged {
		affected := t.e.dependents(append([]string{name}, owners...)...)
		// Views go first so that column changes never trip over them.
		drops := t.e.newPlan(conn, p.planState)
		if err := drops.dropViews(ctx, affected); err != nil {
			return nil, stepError(name, "plan views", err)
		}
		p.steps = append(drops.steps, p.steps...)
		p.forget = drops.forget
		if res.Views, err = p.createViews(ctx, affected); err != nil {
			return nil, stepError(name, "plan views", err)
		}
	}
	res.Statements = p.statements()

	if dryRun || len(p.steps) == 0 {
		return res, nil
	}
	if err := t.applyMigration(ctx, conn, p, rebuild); err != nil {
		return nil, err
	}

	t.e.logger.Info("migrated table",
		slog.String("table", name),
		slog.Bool("rebuilt", rebuild),
		slog.Int("statements", len(res.Statements)))
	return res, nil
}

func (t *Table) planColumns(p *ddlPlan, mp schema.MigrationPlan, rebuild bool) error {
	name := t.def.Name
	c := t.e.compiler
	if rebuild {
		stmts, err := c.Rebuild(t.def, mp)
		if err != nil {
			return err
		}
		for _, s := range stmts {
			p.add("rebuild "+name, s)
		}
		return nil
	}
	for _, col := range mp.ToAdd {
		stmts, err := c.AddColumn(name, col)
		if err != nil {
			return err
		}
		for _, s := range stmts {
			p.add("add column "+col.Name, s)
		}
	}
	for _, r := range mp.ToRename {
		p.add("rename column "+r.From+" to "+r.Column.Name, c.RenameColumn(name, r.From, r.Column.Name))
	}
	for _, col := range mp.ToAlter {
		for _, s := range c.AlterColumn(name, col) {
			p.add("alter column "+col.Name, s)
		}
	}
	return nil
}

// viewChanged reports whether the view is missing or was recorded with a
// different definition.
func (t *Table) viewChanged(ctx context.Context, q core.Querier) (bool, error) {
	exists, err := t.e.viewExists(ctx, q, t.ViewName())
	if err != nil || !exists {
		return !exists, err
	}
	want, err := t.e.compiler.CreateView(t.def)
	if err != nil {
		return false, err
	}
	got, ok, err := t.e.state.ViewDefinition(ctx, q, t.ViewName())
	if err != nil {
		return false, err
	}
	return !ok || got != want, nil
}

func (t *Table) applyMigration(ctx context.Context, conn *sql.Conn, p *ddlPlan, rebuild bool) error {
	name := t.def.Name
	rb, hooks := t.e.adapter.(adapter.Rebuilder)
	hooks = hooks && rebuild
	if hooks {
		restore, err := rb.BeginRebuild(ctx, conn)
		if err != nil {
			return stepError(name, "prepare rebuild", err)
		}
		defer func() {
			if err := restore(context.WithoutCancel(ctx)); err != nil {
				t.e.logger.Error("failed to restore connection after rebuild",
					slog.String("table", name), slog.String("error", err.Error()))
			}
		}()
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return stepError(name, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if stepName, err := p.exec(ctx, tx); err != nil {
		return stepError(name, stepName, t.e.adapter.ClassifyError(stepName, name, err))
	}
	if hooks {
		if err := rb.VerifyRebuild(ctx, tx); err != nil {
			return stepError(name, "verify rebuild", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return stepError(name, "commit", err)
	}
	return nil
}
