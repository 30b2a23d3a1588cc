package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapbase/internal/cli/output"
	"github.com/leapstack-labs/leapbase/internal/config"
	"github.com/leapstack-labs/leapbase/pkg/core"
)

const reloadDebounce = 100 * time.Millisecond

// changeLine is the exported form of one delivered change.
type changeLine struct {
	Action string         `json:"action" yaml:"action"`
	Table  string         `json:"table" yaml:"table"`
	ID     string         `json:"id" yaml:"id"`
	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	var noReload bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print record changes as they happen",
		Long: `Migrate the schema, then print every insert, update and delete on the
watched tables (realtime.tables, or all tables).

When the config file changes the model is validated again. A valid model is
migrated and watching resumes on it; an invalid one is reported and the
current session keeps running.`,
		Example: `  leapbase watch
  leapbase watch -o json --poll-interval 100ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			w := &watcher{
				r:      rendererFrom(ctx),
				logger: loggerFrom(ctx),
				load: func() (*config.Config, error) {
					return config.Load(cfg.File, cmd.Root().PersistentFlags())
				},
			}
			if noReload {
				cfg.File = ""
			}
			return w.run(ctx, cfg)
		},
	}

	cmd.Flags().BoolVar(&noReload, "no-reload", false, "Do not watch the config file")
	return cmd
}

type watcher struct {
	r      *output.Renderer
	logger *slog.Logger
	load   func() (*config.Config, error)

	mu sync.Mutex // serializes output across table workers
}

type session struct {
	cancel context.CancelFunc
	done   chan error
}

func (s *session) stop() {
	s.cancel()
	<-s.done
}

func (w *watcher) run(ctx context.Context, cfg *config.Config) error {
	g, gctx := errgroup.WithContext(ctx)
	reload := make(chan struct{}, 1)
	if cfg.File != "" {
		g.Go(func() error {
			return watchFile(gctx, cfg.File, reload, w.logger)
		})
	}
	g.Go(func() error {
		return w.loop(gctx, cfg, reload)
	})
	return g.Wait()
}

func (w *watcher) loop(ctx context.Context, cfg *config.Config, reload <-chan struct{}) error {
	sess := w.start(ctx, cfg)
	for {
		select {
		case <-ctx.Done():
			sess.stop()
			return nil
		case err := <-sess.done:
			return err
		case <-reload:
			next, err := w.load()
			if err == nil {
				_, err = validateConfig(next)
			}
			if err != nil {
				w.warnf("config not reloaded: %v", err)
				continue
			}
			w.logger.Info("config changed, restarting watch", slog.String("file", next.File))
			sess.stop()
			sess = w.start(ctx, next)
		}
	}
}

func (w *watcher) start(ctx context.Context, cfg *config.Config) *session {
	sctx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- w.watch(sctx, cfg) }()
	return s
}

// watch migrates the schema and prints changes until ctx is done.
func (w *watcher) watch(ctx context.Context, cfg *config.Config) error {
	e, err := openEngine(ctx, cfg, w.logger)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	results, err := e.Setup(ctx)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Changed() {
			w.logger.Info("migrated table", slog.String("table", res.Table), slog.Int("statements", len(res.Statements)))
		}
	}

	tables := cfg.WatchedTables(e.Registry().Names())
	n := e.Realtime()
	if err := n.Setup(ctx, tables...); err != nil {
		return err
	}
	for _, table := range tables {
		for _, action := range []string{core.ActionInsert, core.ActionUpdate, core.ActionDelete} {
			n.On(table, action, func(_ context.Context, rec core.Record) error {
				return w.print(changeLine{Action: action, Table: table, ID: rec.ID, Fields: rec.Fields})
			})
		}
	}
	if err := n.Start(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	w.r.Println(w.r.Styles().Muted.Render(fmt.Sprintf("Watching %d tables. Press Ctrl+C to stop.", len(tables))))
	w.mu.Unlock()

	<-ctx.Done()
	return nil
}

func (w *watcher) print(c changeLine) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.r.EffectiveMode() != output.ModeText {
		// One JSON object per line, whatever the structured mode.
		return w.r.JSONLine(c)
	}
	styles := w.r.Styles()
	action := styles.Success
	switch c.Action {
	case core.ActionUpdate:
		action = styles.Warning
	case core.ActionDelete:
		action = styles.Error
	}
	w.r.Printf("%s %-6s %s %s\n",
		styles.Muted.Render(time.Now().Format(time.TimeOnly)),
		action.Render(c.Action),
		styles.Bold.Render(c.Table),
		c.ID)
	return nil
}

func (w *watcher) warnf(format string, a ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.r.Warnf(format, a...)
}

// watchFile signals reload after writes to path settle. The directory is
// watched so that editors replacing the file are seen too.
func watchFile(ctx context.Context, path string, reload chan<- struct{}, logger *slog.Logger) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	notify := func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, notify)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}
