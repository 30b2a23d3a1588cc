// Package realtime dispatches row-level changes reported by a backend's
// change feed to registered listeners.
//
// Each table has its own FIFO worker, so a slow listener only delays the
// changes of its table. Every listener of a change runs concurrently and
// the worker waits for all of them before moving on.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapbase/pkg/adapter"
	"github.com/leapstack-labs/leapbase/pkg/core"
)

// State is the lifecycle stage of a Notifier.
type State int32

const (
	// Idle is the state before Setup.
	Idle State = iota
	// TriggersInstalled means change capture is installed but not read.
	TriggersInstalled
	// Listening means the feed is read and no change is being dispatched.
	Listening
	// Dispatching means at least one change is being delivered.
	Dispatching
	// Stopped is final.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TriggersInstalled:
		return "triggers-installed"
	case Listening:
		return "listening"
	case Dispatching:
		return "dispatching"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrInvalidState is returned by lifecycle calls made in the wrong state.
var ErrInvalidState = errors.New("invalid notifier state")

// ErrNoFeed is returned by Setup when the backend offers no change feed.
var ErrNoFeed = errors.New("backend has no change feed")

// Callback receives the current record of a change. For deletes of
// records that are gone it receives a record carrying only the id.
type Callback func(ctx context.Context, rec core.Record) error

// RecordReader loads the current state of a changed record. It returns
// nil without error when the record does not exist.
type RecordReader interface {
	ReadRecord(ctx context.Context, table, id string) (*core.Record, error)
}

type listener struct {
	id     string
	table  string
	action string
	cb     Callback
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithIDGenerator sets how listener ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(n *Notifier) {
		if gen != nil {
			n.newID = gen
		}
	}
}

// Notifier owns the listeners of one engine.
type Notifier struct {
	feed   adapter.ChangeFeed
	reader RecordReader
	logger *slog.Logger
	newID  func() string

	mu        sync.RWMutex
	state     State
	tables    map[string]bool
	listeners []*listener // registration order
	workers   map[string]*worker

	active atomic.Int32

	cancel   context.CancelFunc
	feedDone chan struct{}
	wg       sync.WaitGroup
}

// New creates an idle notifier over feed. reader loads changed records.
func New(feed adapter.ChangeFeed, reader RecordReader, opts ...Option) *Notifier {
	n := &Notifier{
		feed:      feed,
		reader:    reader,
		logger:    slog.New(slog.DiscardHandler),
		newID:     uuid.NewString,
		tables:    make(map[string]bool),
		workers:   make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// State returns the current lifecycle state.
func (n *Notifier) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.state == Listening && n.active.Load() > 0 {
		return Dispatching
	}
	return n.state
}

// Setup installs change capture for tables. It must be called once, before
// Start.
func (n *Notifier) Setup(ctx context.Context, tables ...string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != Idle {
		return fmt.Errorf("setup in state %s: %w", n.state, ErrInvalidState)
	}
	if n.feed == nil {
		return ErrNoFeed
	}
	if err := n.feed.Install(ctx, tables); err != nil {
		return err
	}
	for _, t := range tables {
		n.tables[t] = true
	}
	n.state = TriggersInstalled
	n.logger.Info("change capture installed", slog.Int("tables", len(tables)))
	return nil
}

// Watching reports whether changes to table are being captured.
func (n *Notifier) Watching(table string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.tables[table] && (n.state == TriggersInstalled || n.state == Listening)
}

// Refresh reinstalls change capture on a watched table, after a rebuild
// replaced it. Unwatched tables are left alone.
func (n *Notifier) Refresh(ctx context.Context, table string) error {
	if !n.Watching(table) {
		return nil
	}
	return n.feed.Install(ctx, []string{table})
}

// Start reads the feed in the background until ctx is done or Stop is
// called.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != TriggersInstalled {
		return fmt.Errorf("start in state %s: %w", n.state, ErrInvalidState)
	}

	feedCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.feedDone = make(chan struct{})
	dispatchCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(n.feedDone)
		err := n.feed.Listen(feedCtx, func(ev core.ChangeEvent) error {
			n.enqueue(dispatchCtx, ev)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			n.logger.Error("change feed stopped", slog.String("error", err.Error()))
		}
	}()

	n.state = Listening
	n.logger.Debug("change notifier started")
	return nil
}

// Stop stops reading the feed, lets the workers deliver what they already
// queued, and leaves the notifier Stopped. It is safe to call more than
// once and in any state.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.state == Stopped {
		n.mu.Unlock()
		return
	}
	cancel, feedDone := n.cancel, n.feedDone
	n.state = Stopped
	n.mu.Unlock()

	if cancel != nil {
		cancel()
		<-feedDone
	}

	n.mu.Lock()
	for _, w := range n.workers {
		w.close()
	}
	n.mu.Unlock()
	n.wg.Wait()
	n.logger.Debug("change notifier stopped")
}

// On registers cb for changes of one action on table and returns the
// listener id.
func (n *Notifier) On(table, action string, cb Callback) string {
	l := &listener{
		id:     n.newID(),
		table:  table,
		action: strings.ToUpper(action),
		cb:     cb,
	}
	n.mu.Lock()
	n.listeners = append(n.listeners, l)
	n.mu.Unlock()
	return l.id
}

// OnInsert registers cb for inserts into table.
func (n *Notifier) OnInsert(table string, cb Callback) string {
	return n.On(table, core.ActionInsert, cb)
}

// OnUpdate registers cb for updates of table.
func (n *Notifier) OnUpdate(table string, cb Callback) string {
	return n.On(table, core.ActionUpdate, cb)
}

// OnDelete registers cb for deletes from table.
func (n *Notifier) OnDelete(table string, cb Callback) string {
	return n.On(table, core.ActionDelete, cb)
}

// RemoveListener unregisters a listener. It reports whether the id was
// registered.
func (n *Notifier) RemoveListener(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	before := len(n.listeners)
	n.listeners = slices.DeleteFunc(n.listeners, func(l *listener) bool { return l.id == id })
	return len(n.listeners) < before
}

// matching returns the listeners of table and action in registration
// order.
func (n *Notifier) matching(table, action string) []*listener {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []*listener
	for _, l := range n.listeners {
		if l.table == table && l.action == action {
			out = append(out, l)
		}
	}
	return out
}

// enqueue hands ev to its table's worker, dropping changes already seen.
func (n *Notifier) enqueue(ctx context.Context, ev core.ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Stopped || !n.tables[ev.Table] {
		return
	}
	w, ok := n.workers[ev.Table]
	if !ok {
		w = newWorker(ev.Table)
		n.workers[ev.Table] = w
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			w.run(ctx, n.dispatch)
		}()
	}
	if !w.push(ev) {
		n.logger.Debug("dropping duplicate change",
			slog.String("table", ev.Table),
			slog.String("action", ev.Action),
			slog.String("record_id", ev.RecordID))
	}
}

// dispatch loads the record of ev and runs every matching listener,
// starting them in registration order. The change is acknowledged to the
// feed once handled; a change whose record could not be loaded is left
// pending.
func (n *Notifier) dispatch(ctx context.Context, ev core.ChangeEvent) {
	n.active.Add(1)
	defer n.active.Add(-1)

	log := n.logger.With(
		slog.String("table", ev.Table),
		slog.String("action", ev.Action),
		slog.String("record_id", ev.RecordID))

	listeners := n.matching(ev.Table, ev.Action)
	if len(listeners) == 0 {
		n.ack(ctx, ev, log)
		return
	}

	rec, err := n.reader.ReadRecord(ctx, ev.Table, ev.RecordID)
	if err != nil {
		log.Error("failed to load changed record", slog.String("error", err.Error()))
		return
	}
	if rec == nil {
		if ev.Action != core.ActionDelete {
			log.Debug("changed record is gone, skipping")
			n.ack(ctx, ev, log)
			return
		}
		rec = &core.Record{ID: ev.RecordID, Fields: map[string]any{}}
	}

	var g errgroup.Group
	for _, l := range listeners {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Error("listener panicked", slog.String("listener", l.id), slog.Any("panic", r))
				}
			}()
			if err := l.cb(ctx, cloneRecord(rec)); err != nil {
				log.Warn("listener failed", slog.String("listener", l.id), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
	n.ack(ctx, ev, log)
}

// ack confirms a handled change to feeds that track delivery.
func (n *Notifier) ack(ctx context.Context, ev core.ChangeEvent, log *slog.Logger) {
	a, ok := n.feed.(adapter.Acknowledger)
	if !ok || ev.Seq == 0 {
		return
	}
	if err := a.Ack(ctx, ev); err != nil {
		log.Warn("failed to acknowledge change", slog.String("error", err.Error()))
	}
}

func cloneRecord(rec *core.Record) core.Record {
	out := *rec
	out.Fields = make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		out.Fields[k] = v
	}
	return out
}
