package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapbase/internal/testutil"
	"github.com/leapstack-labs/leapbase/pkg/core"
)

// chanFeed emits whatever is sent on events.
type chanFeed struct {
	events    chan core.ChangeEvent
	mu        sync.Mutex
	installed []string
	failOn    string
}

func newChanFeed() *chanFeed {
	return &chanFeed{events: make(chan core.ChangeEvent, 16)}
}

func (f *chanFeed) Install(_ context.Context, tables []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tables {
		if t == f.failOn {
			return errors.New("install failed")
		}
		f.installed = append(f.installed, t)
	}
	return nil
}

func (f *chanFeed) Listen(ctx context.Context, emit func(core.ChangeEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.events:
			if err := emit(ev); err != nil {
				return err
			}
		}
	}
}

func (f *chanFeed) installCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.installed)
}

// mapReader serves records from a map keyed by table/id.
type mapReader struct {
	mu   sync.Mutex
	recs map[string]*core.Record
	err  error
}

func (r *mapReader) ReadRecord(_ context.Context, table, id string) (*core.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.recs[table+"/"+id], nil
}

func started(t *testing.T, feed *chanFeed, reader RecordReader, tables ...string) *Notifier {
	t.Helper()
	n := New(feed, reader, WithLogger(testutil.NewTestLogger(t)))
	require.NoError(t, n.Setup(context.Background(), tables...))
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(n.Stop)
	return n
}

func receive(t *testing.T, ch <-chan core.Record) core.Record {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(time.Second):
		t.Fatal("no record delivered")
		return core.Record{}
	}
}

func TestNotifier_Lifecycle(t *testing.T) {
	feed := newChanFeed()
	n := New(feed, &mapReader{})
	assert.Equal(t, Idle, n.State())

	err := n.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState, "start before setup")

	require.NoError(t, n.Setup(context.Background(), "tasks"))
	assert.Equal(t, TriggersInstalled, n.State())
	assert.True(t, n.Watching("tasks"))
	assert.False(t, n.Watching("people"))

	err = n.Setup(context.Background(), "people")
	assert.ErrorIs(t, err, ErrInvalidState, "setup twice")

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, Listening, n.State())

	n.Stop()
	assert.Equal(t, Stopped, n.State())
	assert.False(t, n.Watching("tasks"))
	n.Stop()
}

func TestNotifier_StopWhileIdle(t *testing.T) {
	n := New(newChanFeed(), &mapReader{})
	n.Stop()
	assert.Equal(t, Stopped, n.State())
}

func TestNotifier_SetupErrors(t *testing.T) {
	t.Run("no feed", func(t *testing.T) {
		n := New(nil, &mapReader{})
		assert.ErrorIs(t, n.Setup(context.Background(), "tasks"), ErrNoFeed)
		assert.Equal(t, Idle, n.State())
	})

	t.Run("install fails", func(t *testing.T) {
		feed := newChanFeed()
		feed.failOn = "tasks"
		n := New(feed, &mapReader{})
		assert.Error(t, n.Setup(context.Background(), "tasks"))
		assert.Equal(t, Idle, n.State())
	})
}

func TestNotifier_Dispatch(t *testing.T) {
	feed := newChanFeed()
	reader := &mapReader{recs: map[string]*core.Record{
		"tasks/t1": {ID: "t1", Fields: map[string]any{"title": "write docs"}},
	}}
	n := started(t, feed, reader, "tasks")

	inserts := make(chan core.Record, 4)
	n.OnInsert("tasks", func(_ context.Context, rec core.Record) error {
		inserts <- rec
		return nil
	})
	updates := make(chan core.Record, 4)
	n.OnUpdate("tasks", func(_ context.Context, rec core.Record) error {
		updates <- rec
		return nil
	})

	feed.events <- core.ChangeEvent{Seq: 1, Table: "tasks", Action: core.ActionInsert, RecordID: "t1"}

	rec := receive(t, inserts)
	assert.Equal(t, "t1", rec.ID)
	assert.Equal(t, "write docs", rec.Fields["title"])

	select {
	case <-updates:
		t.Error("update listener received an insert")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_AllListenersRun(t *testing.T) {
	feed := newChanFeed()
	reader := &mapReader{recs: map[string]*core.Record{
		"tasks/t1": {ID: "t1", Fields: map[string]any{}},
	}}
	n := started(t, feed, reader, "tasks")

	got := make(chan core.Record, 4)
	n.OnInsert("tasks", func(context.Context, core.Record) error {
		return errors.New("listener broke")
	})
	n.OnInsert("tasks", func(_ context.Context, rec core.Record) error {
		got <- rec
		return nil
	})

	feed.events <- core.ChangeEvent{Seq: 1, Table: "tasks", Action: core.ActionInsert, RecordID: "t1"}
	assert.Equal(t, "t1", receive(t, got).ID, "a failing listener does not stop the others")
}

func TestNotifier_LogsListenerFailures(t *testing.T) {
	feed := newChanFeed()
	reader := &mapReader{recs: map[string]*core.Record{
		"tasks/t1": {ID: "t1", Fields: map[string]any{}},
	}}
	logger, logs := testutil.NewRecordingLogger(t)
	n := New(feed, reader, WithLogger(logger))
	require.NoError(t, n.Setup(context.Background(), "tasks"))
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(n.Stop)

	n.OnInsert("tasks", func(context.Context, core.Record) error {
		return errors.New("listener broke")
	})
	n.OnInsert("tasks", func(context.Context, core.Record) error {
		panic("boom")
	})

	feed.events <- core.ChangeEvent{Seq: 1, Table: "tasks", Action: core.ActionInsert, RecordID: "t1"}
	assert.Eventually(t, func() bool {
		return len(logs.Messages(slog.LevelWarn)) == 1 && len(logs.Messages(slog.LevelError)) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"listener failed"}, logs.Messages(slog.LevelWarn))
	assert.Equal(t, []string{"listener panicked"}, logs.Messages(slog.LevelError))
}

func TestNotifier_Duplicates(t *testing.T) {
	feed := newChanFeed()
	reader := &mapReader{recs: map[string]*core.Record{
		"tasks/t1": {ID: "t1", Fields: map[string]any{}},
		"tasks/t2": {ID: "t2", Fields: map[string]any{}},
	}}
	n := started(t, feed, reader, "tasks")

	got := make(chan core.Record, 8)
	n.OnInsert("tasks", func(_ context.Context, rec core.Record) error {
		got <- rec
		return nil
	})

	feed.events <- core.ChangeEvent{Seq: 1, Table: "tasks", Action: core.ActionInsert, RecordID: "t1"}
	feed.events <- core.ChangeEvent{Seq: 1, Table: "tasks", Action: core.ActionInsert, RecordID: "t1"}
	feed.events <- core.ChangeEvent{Seq: 2, Table: "tasks", Action: core.ActionInsert, RecordID: "t2"}

	assert.Equal(t, "t1", receive(t, got).ID)
	assert.Equal(t, "t2", receive(t, got).ID)
	select {
	case rec := <-got:
		t.Errorf("duplicate delivery of %s", rec.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_DeleteTombstone(t *testing.T) {
	feed := newChanFeed()
	n := started(t, feed, &mapReader{}, "tasks")

	deletes := make(chan core.Record, 1)
	n.OnDelete("tasks", func(_ context.Context, rec core.Record) error {
		deletes <- rec
		return nil
	})
	inserts := make(chan core.Record, 1)
	n.OnInsert("tasks", func(_ context.Context, rec core.Record) error {
		inserts <- rec
		return nil
	})

	feed.events <- core.ChangeEvent{Seq: 1, Table: "tasks", Action: core.ActionInsert, RecordID: "gone"}
	feed.events <- core.ChangeEvent{Seq: 2, Table: "tasks", Action: core.ActionDelete, RecordID: "gone"}

	rec := receive(t, deletes)
	assert.Equal(t, "gone", rec.ID)
	assert.Empty(t, rec.Fields)

	select {
	case <-inserts:
		t.Error("insert of a missing record was delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_RemoveListener(t *testing.T) {
	feed := newChanFeed()
	reader := &mapReader{recs: map[string]*core.Record{
		"tasks/t1": {ID: "t1", Fields: map[string]any{}},
	}}
	n := started(t, feed, reader, "tasks")

	got := make(chan core.Record, 1)
	id := n.OnInsert("tasks", func(_ context.Context, rec core.Record) error {
		got <- rec
		return nil
	})
	assert.True(t, n.RemoveListener(id))
	assert.False(t, n.RemoveListener(id))

	feed.events <- core.ChangeEvent{Seq: 1, Table: "tasks", Action: core.ActionInsert, RecordID: "t1"}
	select {
	case <-got:
		t.Error("removed listener was called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_Refresh(t *testing.T) {
	feed := newChanFeed()
	n := New(feed, &mapReader{})
	require.NoError(t, n.Refresh(context.Background(), "tasks"))
	assert.Equal(t, 0, feed.installCount(), "nothing is watched yet")

	require.NoError(t, n.Setup(context.Background(), "tasks"))
	require.NoError(t, n.Refresh(context.Background(), "tasks"))
	require.NoError(t, n.Refresh(context.Background(), "people"))
	assert.Equal(t, 2, feed.installCount())
}

func TestNotifier_ListenerIDs(t *testing.T) {
	var next int
	n := New(newChanFeed(), &mapReader{}, WithIDGenerator(func() string {
		next++
		return "l" + string(rune('0'+next))
	}))
	assert.Equal(t, "l1", n.OnInsert("tasks", func(context.Context, core.Record) error { return nil }))
	assert.Equal(t, "l2", n.On("tasks", "update", func(context.Context, core.Record) error { return nil }))

	got := n.matching("tasks", core.ActionUpdate)
	require.Len(t, got, 1)
	assert.Equal(t, "l2", got[0].id)
}

func TestNotifier_ListenerOrder(t *testing.T) {
	var next int
	n := New(newChanFeed(), &mapReader{}, WithIDGenerator(func() string {
		next++
		return fmt.Sprintf("l%02d", next)
	}))
	noop := func(context.Context, core.Record) error { return nil }
	var want []string
	for i := range 12 {
		id := n.OnInsert("tasks", noop)
		if i%3 == 0 {
			n.OnUpdate("tasks", noop)
			n.OnInsert("people", noop)
		}
		want = append(want, id)
	}
	require.True(t, n.RemoveListener(want[4]))
	want = append(want[:4], want[5:]...)

	for range 5 {
		var ids []string
		for _, l := range n.matching("tasks", core.ActionInsert) {
			ids = append(ids, l.id)
		}
		assert.Equal(t, want, ids, "listeners match in registration order")
	}
}

// ackFeed is a chanFeed that records acknowledged sequences.
type ackFeed struct {
	*chanFeed
	mu    sync.Mutex
	acked []int64
}

func (f *ackFeed) Ack(_ context.Context, ev core.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ev.Seq)
	return nil
}

func (f *ackFeed) ackedSeqs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.acked)
}

func TestNotifier_AcksAfterDelivery(t *testing.T) {
	feed := &ackFeed{chanFeed: newChanFeed()}
	reader := &mapReader{recs: map[string]*core.Record{
		"tasks/t1": {ID: "t1", Fields: map[string]any{}},
	}}
	n := New(feed, reader, WithLogger(testutil.NewTestLogger(t)))
	require.NoError(t, n.Setup(context.Background(), "tasks", "people"))
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(n.Stop)

	entered := make(chan struct{})
	release := make(chan struct{})
	n.OnInsert("tasks", func(context.Context, core.Record) error {
		close(entered)
		<-release
		return nil
	})

	feed.events <- core.ChangeEvent{Seq: 1, Table: "tasks", Action: core.ActionInsert, RecordID: "t1"}
	<-entered
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, feed.ackedSeqs(), "no ack while a listener runs")

	close(release)
	require.Eventually(t, func() bool {
		return slices.Equal(feed.ackedSeqs(), []int64{1})
	}, time.Second, 5*time.Millisecond)

	// Changes without listeners are acknowledged too.
	feed.events <- core.ChangeEvent{Seq: 2, Table: "people", Action: core.ActionInsert, RecordID: "p1"}
	require.Eventually(t, func() bool {
		return slices.Equal(feed.ackedSeqs(), []int64{1, 2})
	}, time.Second, 5*time.Millisecond)
}

func TestNotifier_UnloadableChangeStaysPending(t *testing.T) {
	feed := &ackFeed{chanFeed: newChanFeed()}
	reader := &mapReader{err: errors.New("database is locked")}
	logger, logs := testutil.NewRecordingLogger(t)
	n := New(feed, reader, WithLogger(logger))
	require.NoError(t, n.Setup(context.Background(), "tasks"))
	require.NoError(t, n.Start(context.Background()))

	n.OnInsert("tasks", func(context.Context, core.Record) error { return nil })
	feed.events <- core.ChangeEvent{Seq: 1, Table: "tasks", Action: core.ActionInsert, RecordID: "t1"}
	require.Eventually(t, func() bool {
		return len(logs.Messages(slog.LevelError)) == 1
	}, time.Second, 5*time.Millisecond)

	n.Stop()
	assert.Empty(t, feed.ackedSeqs())
}

func TestWorker_Push(t *testing.T) {
	w := newWorker("tasks")
	assert.True(t, w.push(core.ChangeEvent{Seq: 3, Action: core.ActionInsert, RecordID: "a"}))
	assert.False(t, w.push(core.ChangeEvent{Seq: 2, Action: core.ActionInsert, RecordID: "b"}), "below high-water mark")

	assert.True(t, w.push(core.ChangeEvent{Action: core.ActionUpdate, RecordID: "a"}))
	assert.False(t, w.push(core.ChangeEvent{Action: core.ActionUpdate, RecordID: "a"}), "identical pending event")
	assert.True(t, w.push(core.ChangeEvent{Action: core.ActionDelete, RecordID: "a"}))

	w.close()
	assert.False(t, w.push(core.ChangeEvent{Seq: 9, Action: core.ActionInsert, RecordID: "c"}))
	assert.Len(t, w.queue, 3)
}
