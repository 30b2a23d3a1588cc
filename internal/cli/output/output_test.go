package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_EffectiveMode(t *testing.T) {
	tests := []struct {
		mode Mode
		want Mode
	}{
		{ModeAuto, ModeYAML},
		{"", ModeYAML},
		{ModeText, ModeText},
		{ModeJSON, ModeJSON},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			r := NewRenderer(new(bytes.Buffer), new(bytes.Buffer), tt.mode)
			assert.Equal(t, tt.want, r.EffectiveMode(), "buffers are not terminals")
		})
	}
}

func TestMode_Validate(t *testing.T) {
	assert.NoError(t, ModeYAML.Validate())
	assert.ErrorContains(t, Mode("csv").Validate(), "unknown output mode")
}

func TestRenderer_Structured(t *testing.T) {
	v := map[string]any{"id": "t1", "helpers": []string{"ann"}}

	var buf bytes.Buffer
	ok, err := NewRenderer(&buf, &buf, ModeYAML).Structured(v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "helpers:\n  - ann\nid: t1\n", buf.String())

	buf.Reset()
	ok, err = NewRenderer(&buf, &buf, ModeJSON).Structured(v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":"t1","helpers":["ann"]}`, buf.String())

	buf.Reset()
	ok, err = NewRenderer(&buf, &buf, ModeText).Structured(v)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, buf.String())
}

func TestRenderer_Table(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, &buf, ModeText)

	r.Table([]string{"id", "title", "done", "helpers"}, [][]any{
		{"t1", "Ship it", true, []string{"ann", "bob"}},
		{"t2", nil, false, []string{}},
	})
	out := buf.String()
	assert.Contains(t, out, "Ship it")
	assert.Contains(t, out, "ann, bob")
	assert.Contains(t, out, "(2 rows)")
	assert.NotContains(t, out, "\x1b[", "no colors off a terminal")

	buf.Reset()
	r.Table([]string{"id"}, nil)
	assert.Equal(t, "(0 rows)\n", buf.String())
}

