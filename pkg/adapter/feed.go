package adapter

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapbase/internal/state"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/dialect"
)

var _ Acknowledger = (*QueueFeed)(nil)

// DefaultPollInterval is how often a QueueFeed checks for new entries.
const DefaultPollInterval = 500 * time.Millisecond

const pollBatch = 100

// QueueFeed delivers changes from the notification queue table. Something
// else fills the queue: row triggers installed by an InstallFunc, or the
// writers themselves on outbox backends.
//
// Entries are marked processed by Ack, after delivery. The feed reads
// past emitted entries with a cursor, so an entry left unacknowledged is
// only emitted again by a new feed, which makes delivery at-least-once.
type QueueFeed struct {
	DB       *sql.DB
	Interval time.Duration
	Logger   *slog.Logger
	// InstallFunc installs change capture for a table. Nil means the
	// queue is written by the engine and there is nothing to install.
	InstallFunc func(ctx context.Context, table string) error

	store  *state.Store
	cursor int64
}

// NewQueueFeed creates a feed over db's notification queue.
func NewQueueFeed(db *sql.DB, d *dialect.Dialect, interval time.Duration, logger *slog.Logger) *QueueFeed {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &QueueFeed{DB: db, Interval: interval, Logger: logger, store: state.New(d)}
}

// Install runs InstallFunc for every table.
func (f *QueueFeed) Install(ctx context.Context, tables []string) error {
	if f.InstallFunc == nil {
		return nil
	}
	for _, t := range tables {
		if err := f.InstallFunc(ctx, t); err != nil {
			return &core.StorageError{Op: "install change capture on " + t, Err: err}
		}
	}
	return nil
}

// Listen polls the queue until ctx is done.
func (f *QueueFeed) Listen(ctx context.Context, emit func(core.ChangeEvent) error) error {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()

	for {
		if err := f.Poll(ctx, emit); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.Logger.Warn("notification poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll emits the pending entries past the cursor once. The rows are
// fully read before emitting so no connection is held while listeners
// run. Poll is not safe for concurrent use.
func (f *QueueFeed) Poll(ctx context.Context, emit func(core.ChangeEvent) error) error {
	for {
		events, err := f.store.Pending(ctx, f.DB, f.cursor, pollBatch)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, ev := range events {
			if ev.Table == "" {
				f.Logger.Warn("skipping undecodable notification", slog.Int64("seq", ev.Seq))
				if err := f.store.MarkProcessed(ctx, f.DB, ev.Seq); err != nil {
					return err
				}
			} else if err := emit(ev); err != nil {
				return err
			}
			f.cursor = ev.Seq
		}
		if len(events) < pollBatch {
			return nil
		}
	}
}

// Ack marks the entry of ev processed.
func (f *QueueFeed) Ack(ctx context.Context, ev core.ChangeEvent) error {
	return f.store.MarkProcessed(ctx, f.DB, ev.Seq)
}
