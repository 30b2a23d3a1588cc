package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config file names searched in the working directory.
const (
	FileName    = "leapbase.yaml"
	FileNameAlt = "leapbase.yml"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: LEAPBASE_DATABASE__PATH sets database.path.
const EnvPrefix = "LEAPBASE_"

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"db-type":       "database.type",
	"db-path":       "database.path",
	"db-dsn":        "database.dsn",
	"compute":       "compute",
	"log-level":     "log_level",
	"output":        "output",
	"poll-interval": "realtime.poll_interval",
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// FindFile returns the config file to use.
// Priority: explicit path > leapbase.yaml > leapbase.yml
func FindFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{FileName, FileNameAlt} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load loads configuration from defaults, the config file, environment
// variables and flags, in increasing order of precedence. Only flags that were
// explicitly set override the layers below them.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := FindFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = used

	// Database paths in a config file are relative to that file.
	baseDir := "."
	if used != "" {
		baseDir = filepath.Dir(used)
	}
	cfg.Database.Path = resolveDatabasePath(cfg.Database.Path, baseDir)
	cfg.Database.Password = expandEnvVars(cfg.Database.Password)
	cfg.Database.DSN = expandEnvVars(cfg.Database.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func resolveDatabasePath(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// expandEnvVars expands ${VAR} references. Unset variables are left as is.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}
