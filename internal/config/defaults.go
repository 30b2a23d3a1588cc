package config

import "time"

// Compute modes.
const (
	ComputeView = "view"
	ComputeRead = "read"
)

// Default configuration values.
const (
	DefaultDatabaseType = "sqlite"
	DefaultCompute      = ComputeView
	DefaultLogLevel     = "info"
	DefaultOutput       = "auto" // TTY gets a styled table, pipes get YAML
	DefaultPollInterval = 500 * time.Millisecond
)

func defaults() map[string]any {
	return map[string]any{
		"database.type":          DefaultDatabaseType,
		"compute":                DefaultCompute,
		"log_level":              DefaultLogLevel,
		"output":                 DefaultOutput,
		"realtime.poll_interval": DefaultPollInterval.String(),
	}
}
