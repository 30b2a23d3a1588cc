// Package storage is the table driver. An Engine owns one adapter
// connection, the field model and the change notifier, and hands out a
// *Table per model table for schema and record operations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/leapbase/internal/model"
	"github.com/leapstack-labs/leapbase/internal/state"
	"github.com/leapstack-labs/leapbase/pkg/adapter"
	"github.com/leapstack-labs/leapbase/pkg/compute"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
	"github.com/leapstack-labs/leapbase/pkg/filter"
	"github.com/leapstack-labs/leapbase/pkg/formula"
	"github.com/leapstack-labs/leapbase/pkg/realtime"
	"github.com/leapstack-labs/leapbase/pkg/sqlgen"
)

// Engine drives one database for one field model.
type Engine struct {
	adapter  adapter.Adapter
	db       *sql.DB
	d        *dialect.Dialect
	reg      *core.Registry
	compiler *sqlgen.Compiler
	state    *state.Store
	compute  *compute.Evaluator
	notifier *realtime.Notifier
	logger   *slog.Logger
	opts     options

	locks *keyedMutex
	// schemaMu is taken for writing by DDL on backends without
	// transactional DDL, and for reading by everything else.
	schemaMu sync.RWMutex

	ownsAdapter bool
	closeOnce   sync.Once
}

// Open validates the model, connects the adapter registered for cfg.Type
// and bootstraps the internal tables.
func Open(ctx context.Context, cfg core.AdapterConfig, tables []core.Table, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := model.Validate(tables); err != nil {
		return nil, err
	}

	a, err := adapter.Open(ctx, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	e, err := newEngine(ctx, a, tables, o)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	e.ownsAdapter = true
	return e, nil
}

// New builds an engine over an adapter that is already connected. The
// caller keeps ownership of the adapter.
func New(ctx context.Context, a adapter.Adapter, tables []core.Table, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := model.Validate(tables); err != nil {
		return nil, err
	}
	return newEngine(ctx, a, tables, o)
}

func newEngine(ctx context.Context, a adapter.Adapter, tables []core.Table, o options) (*Engine, error) {
	if a.DB() == nil {
		return nil, adapter.ErrNotConnected
	}
	if err := a.Bootstrap(ctx); err != nil {
		return nil, err
	}

	d := a.Dialect()
	reg := core.NewRegistry(tables...)
	e := &Engine{
		adapter:  a,
		db:       a.DB(),
		d:        d,
		reg:      reg,
		compiler: sqlgen.New(d, reg, sqlgen.WithViewMode(o.mode)),
		state:    state.New(d),
		logger:   o.logger,
		opts:     o,
		locks:    newKeyedMutex(),
	}

	eval := o.eval
	if eval == nil {
		eval = formula.NewStarlarkEvaluator()
	}
	e.compute = compute.New(reg, eval, e, compute.WithLogger(o.logger))

	feed := a.ChangeFeed()
	if qf, ok := feed.(*adapter.QueueFeed); ok && o.pollInterval > 0 {
		qf.Interval = o.pollInterval
	}
	e.notifier = realtime.New(feed, e, realtime.WithLogger(o.logger))

	e.logger.Debug("storage engine ready",
		slog.String("dialect", d.Name),
		slog.Int("tables", len(tables)))
	return e, nil
}

// Table returns the driver of a model table.
func (e *Engine) Table(name string) (*Table, error) {
	def, ok := e.reg.Table(name)
	if !ok {
		return nil, &core.ConfigError{Issues: []core.Issue{{Table: name, Reason: "table is not part of the field model"}}}
	}
	return &Table{e: e, def: def}, nil
}

// Registry returns the field model.
func (e *Engine) Registry() *core.Registry { return e.reg }

// Dialect returns the dialect of the connected backend.
func (e *Engine) Dialect() *dialect.Dialect { return e.d }

// Realtime returns the engine's change notifier.
func (e *Engine) Realtime() *realtime.Notifier { return e.notifier }

// Compute returns the read-time formula and rollup evaluator.
func (e *Engine) Compute() *compute.Evaluator { return e.compute }

// Close stops the notifier and, for engines built by Open, closes the
// connection.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.notifier.Stop()
		if e.ownsAdapter {
			err = e.adapter.Close()
		}
	})
	return err
}

// Fetch reads the stored and view-computed values of the rows of table
// matching f, without read-time computation.
func (e *Engine) Fetch(ctx context.Context, table string, f filter.Filter) ([]core.Record, error) {
	t, err := e.Table(table)
	if err != nil {
		return nil, err
	}
	return t.fetch(ctx, f)
}

// ReadRecord loads one fully computed record, or nil when it is gone.
func (e *Engine) ReadRecord(ctx context.Context, table, id string) (*core.Record, error) {
	t, err := e.Table(table)
	if err != nil {
		return nil, err
	}
	return t.ReadByID(ctx, id)
}

// lockSchema takes the schema lock for DDL.
func (e *Engine) lockSchema() func() {
	if e.d.Capabilities.TransactionalDDL {
		return func() {}
	}
	e.schemaMu.Lock()
	return e.schemaMu.Unlock
}

// shareSchema takes the schema lock for reads and row writes.
func (e *Engine) shareSchema() func() {
	if e.d.Capabilities.TransactionalDDL {
		return func() {}
	}
	e.schemaMu.RLock()
	return e.schemaMu.RUnlock
}

func (e *Engine) relationExists(ctx context.Context, q core.Querier, name string) (bool, error) {
	ok, err := e.adapter.TableExists(ctx, q, name)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", name, err)
	}
	return ok, nil
}

func (e *Engine) viewExists(ctx context.Context, q core.Querier, name string) (bool, error) {
	ok, err := e.adapter.ViewExists(ctx, q, name)
	if err != nil {
		return false, fmt.Errorf("failed to look up view %s: %w", name, err)
	}
	return ok, nil
}

var (
	_ compute.Source        = (*Engine)(nil)
	_ realtime.RecordReader = (*Engine)(nil)
)
