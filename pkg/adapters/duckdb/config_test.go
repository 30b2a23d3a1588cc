package duckdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]string
		want    *Params
		wantErr bool
	}{
		{
			name:  "nil options returns empty struct",
			input: nil,
			want:  &Params{},
		},
		{
			name:  "empty map returns empty struct",
			input: map[string]string{},
			want:  &Params{},
		},
		{
			name:  "known settings",
			input: map[string]string{"memory_limit": "4GB", "threads": "4"},
			want:  &Params{MemoryLimit: "4GB", Threads: 4, Settings: map[string]any{}},
		},
		{
			name:  "other settings are kept",
			input: map[string]string{"threads": "2", "default_order": "desc"},
			want:  &Params{Threads: 2, Settings: map[string]any{"default_order": "desc"}},
		},
		{
			name:    "bad thread count",
			input:   map[string]string{"threads": "many"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParams(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.MemoryLimit, got.MemoryLimit)
			assert.Equal(t, tt.want.Threads, got.Threads)
			assert.Equal(t, len(tt.want.Settings), len(got.Settings))
			for k, v := range tt.want.Settings {
				assert.Equal(t, v, got.Settings[k])
			}
		})
	}
}

func TestParams_SettingStatements(t *testing.T) {
	p := &Params{
		MemoryLimit: "1GB",
		Threads:     8,
		Settings:    map[string]any{"timezone": "UTC", "default_order": "it's"},
	}
	stmts, err := p.SettingStatements()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"SET memory_limit = '1GB'",
		"SET threads = 8",
		"SET default_order = 'it''s'",
		"SET timezone = 'UTC'",
	}, stmts)
}
