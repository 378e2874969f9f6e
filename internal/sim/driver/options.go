package driver

import (
	"time"

	"go.uber.org/zap"
)

// StateSink receives every emitted GameState, in order.
type StateSink interface {
	WriteState(GameState) error
}

type Option func(*options)

type options struct {
	log             *zap.Logger
	sinks           []StateSink
	ownSinks        bool
	parallelObserve bool
	timeout         *time.Duration
	genSeed         *uint64
	episodeSeed     *uint64
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithSink adds a sink. Sink errors are logged and do not stop the episode.
func WithSink(s StateSink) Option {
	return func(o *options) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithSinkOwnership makes Episode.Close close sinks that implement io.Closer.
func WithSinkOwnership(own bool) Option {
	return func(o *options) { o.ownSinks = own }
}

// WithParallelObserve computes per-agent views concurrently.
func WithParallelObserve(on bool) Option {
	return func(o *options) { o.parallelObserve = on }
}

// WithActionTimeout overrides the configured per-call action source timeout.
// Zero disables the timeout.
func WithActionTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = &d }
}

// WithSeeds overrides the generation and episode seeds from the config.
func WithSeeds(gen, episode uint64) Option {
	return func(o *options) {
		o.genSeed = &gen
		o.episodeSeed = &episode
	}
}
