package duckdb

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Params holds DuckDB-specific configuration.
// Parsed from adapter.Config.Options using mapstructure.
type Params struct {
	// MemoryLimit caps the buffer manager (e.g. "4GB").
	MemoryLimit string `mapstructure:"memory_limit"`

	// Threads is the number of worker threads; zero keeps DuckDB's default.
	Threads int `mapstructure:"threads"`

	// Settings holds any other session settings, keyed by name.
	Settings map[string]any `mapstructure:",remain"`
}

// ParseParams decodes adapter options into Params.
func ParseParams(options map[string]string) (*Params, error) {
	params := &Params{}
	if len(options) == 0 {
		return params, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           params,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode duckdb options: %w", err)
	}
	return params, nil
}

// SettingStatements renders the SET statements for the params, in a
// stable order. Setting names must be plain identifiers.
func (p *Params) SettingStatements() ([]string, error) {
	var stmts []string
	if p.MemoryLimit != "" {
		stmts = append(stmts, fmt.Sprintf("SET memory_limit = '%s'", escape(p.MemoryLimit)))
	}
	if p.Threads > 0 {
		stmts = append(stmts, fmt.Sprintf("SET threads = %d", p.Threads))
	}

	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !settingName.MatchString(k) {
			return nil, fmt.Errorf("invalid duckdb setting name %q", k)
		}
		stmts = append(stmts, fmt.Sprintf("SET %s = '%s'", k, escape(fmt.Sprint(p.Settings[k]))))
	}
	return stmts, nil
}

var settingName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
