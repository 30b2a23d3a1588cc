// Package config loads the leapbase configuration: the database to connect
// to, how computed fields and change feeds behave, and the field model.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/leapbase/internal/model"
	"github.com/leapstack-labs/leapbase/pkg/core"
	"github.com/leapstack-labs/leapbase/pkg/sqlgen"
)

// Config holds every configuration option.
type Config struct {
	Database core.AdapterConfig `koanf:"database"`
	Realtime RealtimeConfig     `koanf:"realtime"`
	// Compute is "view" to compute formulas and rollups in views, or
	// "read" to compute them after each read.
	Compute  string `koanf:"compute"`
	LogLevel string `koanf:"log_level"`
	Output   string `koanf:"output"`
	// Tables is the field model in its config form. See model.Decode.
	Tables []map[string]any `koanf:"tables"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// RealtimeConfig configures change notification.
type RealtimeConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	// Tables are watched by the watch command. Empty means every table.
	Tables []string `koanf:"tables"`
}

// Validate checks the scalar options. The field model is checked by Model.
func (c *Config) Validate() error {
	if c.Database.Type == "" {
		return fmt.Errorf("database.type is required")
	}
	if _, err := c.ComputeMode(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Realtime.PollInterval < 0 {
		return fmt.Errorf("realtime.poll_interval must not be negative, got %s", c.Realtime.PollInterval)
	}
	return nil
}

// ComputeMode maps Compute to a view mode.
func (c *Config) ComputeMode() (sqlgen.ViewMode, error) {
	switch strings.ToLower(c.Compute) {
	case "", ComputeView:
		return sqlgen.ComputeInView, nil
	case ComputeRead:
		return sqlgen.ComputeAtRead, nil
	default:
		return 0, fmt.Errorf("compute must be %q or %q, got %q", ComputeView, ComputeRead, c.Compute)
	}
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Model decodes and validates the field model.
func (c *Config) Model() ([]core.Table, error) {
	if len(c.Tables) == 0 {
		return nil, fmt.Errorf("no tables configured")
	}
	tables, err := model.Decode(c.Tables)
	if err != nil {
		return nil, err
	}
	if err := model.Validate(tables); err != nil {
		return nil, err
	}
	return tables, nil
}

// WatchedTables returns the tables the watch command listens to, out of
// all the model's tables.
func (c *Config) WatchedTables(all []string) []string {
	if len(c.Realtime.Tables) > 0 {
		return c.Realtime.Tables
	}
	return all
}
