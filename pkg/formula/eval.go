package formula

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sl "github.com/leapstack-labs/leapbase/internal/starlark"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Evaluator computes the value of a formula for one set of inputs.
// vars maps each referenced name to its Go value; missing names are None.
// Like SQL, an operation on None and a division by zero yield nil.
type Evaluator interface {
	Evaluate(ctx context.Context, e *Expr, vars map[string]any) (any, error)
}

// Option configures a StarlarkEvaluator.
type Option func(*StarlarkEvaluator)

// WithPoolSize sets how many idle threads are kept.
func WithPoolSize(n int) Option {
	return func(ev *StarlarkEvaluator) { ev.poolSize = n }
}

// WithMaxSteps bounds the work of a single evaluation.
func WithMaxSteps(n uint64) Option {
	return func(ev *StarlarkEvaluator) { ev.maxSteps = n }
}

// StarlarkEvaluator runs formulas in a Starlark sandbox. Each formula is
// compiled once into a function of its references and called per record.
// It is safe for concurrent use.
type StarlarkEvaluator struct {
	poolSize    int
	maxSteps    uint64
	pool        *sl.ThreadPool
	predeclared starlark.StringDict

	mu       sync.Mutex
	compiled map[*Expr]*starlark.Function
}

var _ Evaluator = (*StarlarkEvaluator)(nil)

// NewStarlarkEvaluator creates an evaluator with the formula builtins.
func NewStarlarkEvaluator(opts ...Option) *StarlarkEvaluator {
	ev := &StarlarkEvaluator{
		predeclared: sl.Predeclared(),
		compiled:    make(map[*Expr]*starlark.Function),
	}
	for _, opt := range opts {
		opt(ev)
	}
	ev.pool = sl.NewThreadPool(ev.poolSize, ev.maxSteps)
	return ev
}

// Evaluate implements Evaluator.
func (ev *StarlarkEvaluator) Evaluate(ctx context.Context, e *Expr, vars map[string]any) (any, error) {
	fn, err := ev.compile(e)
	if err != nil {
		return nil, err
	}

	args := make(starlark.Tuple, len(e.refs))
	for i, name := range e.refs {
		v, err := sl.GoToStarlark(vars[name])
		if err != nil {
			return nil, &sl.EvalError{Name: name, Expr: e.src, Message: err.Error()}
		}
		args[i] = v
	}

	thread := ev.pool.Get(e.src)
	done := make(chan struct{})
	wasCancelled := make(chan bool, 1)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
			wasCancelled <- true
		case <-done:
			wasCancelled <- false
		}
	}()

	result, callErr := starlark.Call(thread, fn, args, nil)
	close(done)
	// A cancelled thread stays cancelled, so it is not pooled again.
	if !<-wasCancelled {
		ev.pool.Put(thread)
	}

	if callErr != nil {
		if ctx.Err() == nil && nullResult(args, callErr) {
			return nil, nil
		}
		return nil, &sl.EvalError{Expr: e.src, Message: callErr.Error()}
	}
	out, err := sl.ToGo(result)
	if err != nil {
		return nil, &sl.EvalError{Expr: e.src, Message: err.Error()}
	}
	return out, nil
}

// nullResult reports whether a failed call yields None the way SQL yields
// NULL: an operation on a None input, or a zero divisor.
func nullResult(args starlark.Tuple, err error) bool {
	if strings.Contains(err.Error(), "by zero") {
		return true
	}
	for _, a := range args {
		if a == starlark.None {
			return true
		}
	}
	return false
}

func (ev *StarlarkEvaluator) compile(e *Expr) (*starlark.Function, error) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if fn, ok := ev.compiled[e]; ok {
		return fn, nil
	}

	src := fmt.Sprintf("lambda %s: (%s)", strings.Join(e.refs, ", "), e.src)
	thread := ev.pool.Get("compile")
	v, err := starlark.EvalOptions(&syntax.FileOptions{}, thread, "formula", src, ev.predeclared)
	ev.pool.Put(thread)
	if err != nil {
		return nil, &sl.EvalError{Expr: e.src, Message: err.Error()}
	}
	fn, ok := v.(*starlark.Function)
	if !ok {
		return nil, &sl.EvalError{Expr: e.src, Message: fmt.Sprintf("compiled to %s, not a function", v.Type())}
	}
	ev.compiled[e] = fn
	return fn, nil
}
