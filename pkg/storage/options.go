package storage

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapbase/pkg/formula"
	"github.com/leapstack-labs/leapbase/pkg/sqlgen"
)

// IDGenerator returns a fresh record id.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

type options struct {
	logger       *slog.Logger
	newID        IDGenerator
	now          Clock
	mode         sqlgen.ViewMode
	eval         formula.Evaluator
	pollInterval time.Duration
}

func defaultOptions() options {
	return options{
		logger: slog.New(slog.DiscardHandler),
		newID:  uuid.NewString,
		now:    time.Now,
		mode:   sqlgen.ComputeInView,
	}
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger. A nil logger keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithIDGenerator sets how ids are generated for records inserted
// without one. The default is uuid.NewString.
func WithIDGenerator(gen IDGenerator) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// WithClock sets the source of created_at and updated_at.
func WithClock(now Clock) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithComputeMode selects whether formulas and rollups are computed by
// the views or by the engine after each read.
func WithComputeMode(m sqlgen.ViewMode) Option {
	return func(o *options) { o.mode = m }
}

// WithEvaluator sets the formula evaluator used in ComputeAtRead mode.
// The default is a Starlark evaluator.
func WithEvaluator(ev formula.Evaluator) Option {
	return func(o *options) { o.eval = ev }
}

// WithPollInterval sets how often queue-backed change feeds are polled.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}
