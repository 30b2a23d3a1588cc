package realtime

import (
	"context"
	"sync"

	"github.com/leapstack-labs/leapbase/pkg/core"
)

// worker delivers the changes of one table in the order they were seen.
type worker struct {
	table string

	mu     sync.Mutex
	queue  []core.ChangeEvent
	last   int64
	closed bool
	wake   chan struct{}
}

func newWorker(table string) *worker {
	return &worker{table: table, wake: make(chan struct{}, 1)}
}

// push queues ev. Sequenced events at or below the last accepted sequence
// are dropped, as are unsequenced events identical to one still pending.
// It reports whether ev was queued.
func (w *worker) push(ev core.ChangeEvent) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	if ev.Seq > 0 {
		if ev.Seq <= w.last {
			return false
		}
		w.last = ev.Seq
	} else {
		for _, p := range w.queue {
			if p.Seq == 0 && p.Action == ev.Action && p.RecordID == ev.RecordID {
				return false
			}
		}
	}
	w.queue = append(w.queue, ev)
	w.signal()
	return true
}

func (w *worker) pop() (core.ChangeEvent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return core.ChangeEvent{}, false
	}
	ev := w.queue[0]
	w.queue = w.queue[1:]
	return ev, true
}

// close makes run return once the queue is empty.
func (w *worker) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.signal()
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) done() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed && len(w.queue) == 0
}

func (w *worker) run(ctx context.Context, dispatch func(context.Context, core.ChangeEvent)) {
	for {
		for {
			ev, ok := w.pop()
			if !ok {
				break
			}
			dispatch(ctx, ev)
		}
		if w.done() {
			return
		}
		<-w.wake
	}
}
