// Package commands implements the leapbase CLI commands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/leapstack-labs/leapbase/internal/cli/output"
	"github.com/leapstack-labs/leapbase/internal/config"
	"github.com/leapstack-labs/leapbase/pkg/storage"
)

type (
	configKey   struct{}
	rendererKey struct{}
	loggerKey   struct{}
)

// WithConfig stores the loaded config in ctx.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// WithRenderer stores the renderer in ctx.
func WithRenderer(ctx context.Context, r *output.Renderer) context.Context {
	return context.WithValue(ctx, rendererKey{}, r)
}

// WithLogger stores the logger in ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func configFrom(ctx context.Context) (*config.Config, error) {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c, nil
	}
	return nil, fmt.Errorf("no configuration loaded")
}

func rendererFrom(ctx context.Context) *output.Renderer {
	if r, ok := ctx.Value(rendererKey{}).(*output.Renderer); ok {
		return r
	}
	return output.NewRenderer(os.Stdout, os.Stderr, output.ModeAuto)
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// openEngine validates the configured model and opens an engine over the
// configured database.
func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Engine, error) {
	tables, err := cfg.Model()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.ComputeMode()
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, cfg.Database, tables,
		storage.WithLogger(logger),
		storage.WithComputeMode(mode),
		storage.WithPollInterval(cfg.Realtime.PollInterval),
	)
}
