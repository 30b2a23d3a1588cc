package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapbase/internal/cli/output"
	"github.com/leapstack-labs/leapbase/internal/config"
	"github.com/leapstack-labs/leapbase/internal/testutil"
	_ "github.com/leapstack-labs/leapbase/pkg/adapters/sqlite"
	"github.com/leapstack-labs/leapbase/pkg/core"
)

func TestWatchFile_Debounces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leapbase.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compute: view\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	reload := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- watchFile(ctx, path, reload, testutil.NewTestLogger(t)) }()
	time.Sleep(100 * time.Millisecond) // let the watch register

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))
	for range 3 {
		require.NoError(t, os.WriteFile(path, []byte("compute: read\n"), 0o600))
	}

	select {
	case <-reload:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after the config changed")
	}
	select {
	case <-reload:
		t.Fatal("burst of writes reloaded more than once")
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcher_KeepsSessionOnBadReload(t *testing.T) {
	cfg := &config.Config{
		Database: core.AdapterConfig{Type: "sqlite"},
		Compute:  config.ComputeView,
		Realtime: config.RealtimeConfig{PollInterval: 10 * time.Millisecond},
		Tables: []map[string]any{
			{"name": "tasks", "fields": []any{
				map[string]any{"name": "title", "type": "SingleLineText"},
			}},
		},
	}

	var out, errOut bytes.Buffer
	w := &watcher{
		r:      output.NewRenderer(&out, &errOut, output.ModeText),
		logger: testutil.NewTestLogger(t),
		load:   func() (*config.Config, error) { return nil, errors.New("broken yaml") },
	}
	locked := func(b *bytes.Buffer) string {
		w.mu.Lock()
		defer w.mu.Unlock()
		return b.String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	reload := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- w.loop(ctx, cfg, reload) }()

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(locked(&out)), []byte("Watching 1 tables"))
	}, 2*time.Second, 10*time.Millisecond)

	reload <- struct{}{}
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(locked(&errOut)), []byte("config not reloaded: broken yaml"))
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatcher_SessionErrorStopsLoop(t *testing.T) {
	cfg := &config.Config{Database: core.AdapterConfig{Type: "sqlite"}, Compute: config.ComputeView}
	w := &watcher{
		r:      output.NewRenderer(new(bytes.Buffer), new(bytes.Buffer), output.ModeText),
		logger: testutil.NewTestLogger(t),
	}
	err := w.loop(context.Background(), cfg, make(chan struct{}))
	assert.ErrorContains(t, err, "no tables configured")
}

func TestWatcher_Print(t *testing.T) {
	var out bytes.Buffer
	w := &watcher{r: output.NewRenderer(&out, &out, output.ModeJSON)}

	require.NoError(t, w.print(changeLine{Action: core.ActionInsert, Table: "tasks", ID: "t1"}))
	require.NoError(t, w.print(changeLine{Action: core.ActionDelete, Table: "tasks", ID: "t1"}))
	assert.Equal(t,
		`{"action":"INSERT","table":"tasks","id":"t1"}`+"\n"+`{"action":"DELETE","table":"tasks","id":"t1"}`+"\n",
		out.String())

	out.Reset()
	w = &watcher{r: output.NewRenderer(&out, &out, output.ModeText)}
	require.NoError(t, w.print(changeLine{Action: core.ActionUpdate, Table: "tasks", ID: "t9"}))
	assert.Contains(t, out.String(), "UPDATE")
	assert.Contains(t, out.String(), "tasks t9")
}
