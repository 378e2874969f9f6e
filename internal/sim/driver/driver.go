// Package driver runs an episode: it builds the world from a config and then
// advances it one step per call, yielding a GameState for every tick.
//
// An episode moves through three phases. Initializing ends when the tick 0
// state is emitted; Stepping lasts until a termination predicate holds; the
// state for that tick is marked terminal and every later call fails with
// ErrAlreadyTerminated until Reset rewinds the episode to its initial world.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/agents"
	"ggcore.ai/internal/sim/camera"
	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/logic/mathx"
	"ggcore.ai/internal/sim/policy"
	"ggcore.ai/internal/sim/resolve"
	"ggcore.ai/internal/sim/world/gen"
)

var (
	ErrAlreadyTerminated = errors.New("episode already terminated")
	ErrClosed            = errors.New("episode closed")
)

type Phase int

const (
	Initializing Phase = iota
	Stepping
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case Stepping:
		return "stepping"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ActionSource supplies actions for externally controlled agents. It is called
// once per active agent per step, sequentially in agent id order, with the
// agent's latest view. Errors, panics and timeouts turn into NOOP plus a Failure.
//
// A call that outlives the action timeout is abandoned, not stopped: its ctx is
// cancelled and its result discarded, but it may still be running when the
// next Act starts. Sources with shared state must either return promptly once
// ctx is done or be safe for concurrent use.
type ActionSource interface {
	Act(ctx context.Context, agentID string, view camera.View) (action.Action, error)
}

type ActionSourceFunc func(ctx context.Context, agentID string, view camera.View) (action.Action, error)

func (f ActionSourceFunc) Act(ctx context.Context, agentID string, view camera.View) (action.Action, error) {
	return f(ctx, agentID, view)
}

// Episode owns the world of one run. It is not safe for concurrent use beyond
// the serialization Next provides.
type Episode struct {
	mu sync.Mutex

	*board

	cfg    config.GGConfig
	opts   options
	log    *zap.Logger
	phase  Phase
	closed bool

	genSeed     uint64
	episodeSeed uint64

	res      *resolve.Resolver
	cam      *camera.Camera
	external policy.Source
	src      ActionSource
	timeout  time.Duration

	views map[string]camera.View
}

// Run validates cfg, generates the world and returns an episode in the
// Initializing phase. A nil source idles every external agent.
func Run(cfg config.GGConfig, src ActionSource, opts ...Option) (*Episode, error) {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg = cfg.Clone()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	genSeed, episodeSeed := seeds(cfg, o)
	timeout := time.Duration(cfg.ActionTimeoutMs) * time.Millisecond
	if o.timeout != nil {
		timeout = *o.timeout
	}
	e := &Episode{
		cfg:     cfg,
		opts:    o,
		log:     o.log,
		genSeed: genSeed,
		timeout: timeout,
	}
	if src != nil {
		e.external = src
	}
	if err := e.build(episodeSeed); err != nil {
		return nil, err
	}
	e.log.Info("episode initialized",
		zap.Int("width", cfg.World.Width),
		zap.Int("height", cfg.World.Height),
		zap.Int("agents", e.reg.Len()),
		zap.Int("entities", e.store.Len()),
		zap.Uint64("gen_seed", genSeed),
		zap.Uint64("episode_seed", episodeSeed))
	return e, nil
}

// build generates the initial world from the generation seed and wires the
// per-episode randomness to episodeSeed. The same generation seed always
// yields the same initial world.
func (e *Episode) build(episodeSeed uint64) error {
	store, bound, err := gen.Generate(e.cfg, gen.NewRand(e.genSeed))
	if err != nil {
		// Validation catches fixed placements; random shapes can still crowd the grid.
		return fmt.Errorf("%w: %w", &config.ConfigError{Path: "world", Msg: "cannot generate world"}, err)
	}
	reg := agents.New(e.cfg.Agents)
	for _, a := range e.cfg.Agents {
		if err := reg.Bind(a.ID, bound[a.ID]); err != nil {
			return fmt.Errorf("bind agent %s: %w", a.ID, err)
		}
	}
	router, err := policy.NewRouter(e.cfg.Agents, e.external, mathx.Mix64(episodeSeed^0x5eed))
	if err != nil {
		return err
	}

	e.board = newBoard(&e.cfg, store, reg)
	e.episodeSeed = episodeSeed
	e.res = resolve.New(store, reg, gen.NewRand(episodeSeed), e.cfg.World.ClampMoves, e.log)
	e.cam = camera.New(store, reg, e.cfg.Cameras)
	e.src = router
	e.views = map[string]camera.View{}
	e.phase = Initializing
	return nil
}

// Reset rewinds the episode to its initial world and the Initializing phase,
// from any phase short of Close. The world is rebuilt from the same generation
// seed; the episode seed is the given one, else the configured one, else a
// fresh draw. It returns the episode seed now in use.
func (e *Episode) Reset(episodeSeed *uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	var seed uint64
	switch {
	case episodeSeed != nil:
		seed = *episodeSeed
	case e.cfg.EpisodeSeed != nil:
		seed = *e.cfg.EpisodeSeed
	default:
		seed = rand.Uint64()
	}
	prev := e.tick
	if err := e.build(seed); err != nil {
		return 0, err
	}
	e.log.Info("episode reset",
		zap.Uint64("at_tick", prev),
		zap.Uint64("gen_seed", e.genSeed),
		zap.Uint64("episode_seed", seed))
	return seed, nil
}

func seeds(cfg config.GGConfig, o options) (uint64, uint64) {
	var genSeed uint64
	switch {
	case o.genSeed != nil:
		genSeed = *o.genSeed
	case cfg.Seed != nil:
		genSeed = *cfg.Seed
	default:
		genSeed = rand.Uint64()
	}
	episodeSeed := mathx.Mix64(genSeed)
	switch {
	case o.episodeSeed != nil:
		episodeSeed = *o.episodeSeed
	case cfg.EpisodeSeed != nil:
		episodeSeed = *cfg.EpisodeSeed
	}
	return genSeed, episodeSeed
}

func (e *Episode) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Seeds reports the generation and episode seeds in use, including drawn ones.
func (e *Episode) Seeds() (gen, episode uint64) { return e.genSeed, e.episodeSeed }

// Config returns a copy of the normalized config the episode runs.
func (e *Episode) Config() config.GGConfig { return e.cfg.Clone() }

// Next yields the next state. The first call returns tick 0 without stepping.
// A ctx cancelled while actions are collected aborts the call before the world
// changes; once actions are resolved the step always completes and is emitted.
func (e *Episode) Next(ctx context.Context) (GameState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.phase {
	case Terminated:
		return GameState{}, ErrAlreadyTerminated
	case Initializing:
		if err := ctx.Err(); err != nil {
			return GameState{}, err
		}
		if err := e.refreshViews(ctx); err != nil {
			return GameState{}, err
		}
		e.phase = Stepping
		return e.emit(resolve.Report{}, nil), nil
	}

	acts, failures, err := e.collect(ctx)
	if err != nil {
		return GameState{}, err
	}
	rep := e.step(e.res, acts)
	// The world has moved: the step is finished and emitted regardless of ctx.
	if err := e.refreshViews(context.WithoutCancel(ctx)); err != nil {
		e.log.Error("observe after step", zap.Uint64("tick", e.tick), zap.Error(err))
	}
	return e.emit(rep, failures), nil
}

// States exposes the episode as a lazy sequence. Iteration stops after the
// terminal state or at the first error, which is yielded.
func (e *Episode) States(ctx context.Context) iter.Seq2[GameState, error] {
	return func(yield func(GameState, error) bool) {
		for {
			s, err := e.Next(ctx)
			if err != nil {
				yield(GameState{}, err)
				return
			}
			if !yield(s, nil) || s.Terminal {
				return
			}
		}
	}
}

// Collect drains an episode into a slice.
func Collect(ctx context.Context, e *Episode) ([]GameState, error) {
	var out []GameState
	for s, err := range e.States(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Close ends the episode for good; Next and Reset fail afterwards. Sinks are
// closed only under WithSinkOwnership.
func (e *Episode) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	if e.opts.ownSinks {
		for _, s := range e.opts.sinks {
			if c, ok := s.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
		e.opts.sinks = nil
	}
	e.phase = Terminated
	e.closed = true
	e.views = nil
	return errors.Join(errs...)
}

func (e *Episode) refreshViews(ctx context.Context) error {
	views, err := e.cam.ObserveAll(ctx, e.reg.Active(), e.opts.parallelObserve)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	for id, v := range views {
		v.Tick = e.tick
		e.views[id] = v
	}
	return nil
}

func (e *Episode) emit(rep resolve.Report, failures []Failure) GameState {
	s := e.state(e.views, rep, failures)
	if s.Terminal {
		e.phase = Terminated
		e.log.Info("episode terminated",
			zap.Uint64("tick", e.tick),
			zap.String("reason", s.Reason),
			zap.String("digest", s.Digest))
	}
	for _, sink := range e.opts.sinks {
		if err := sink.WriteState(s); err != nil {
			e.log.Warn("state sink failed", zap.Uint64("tick", e.tick), zap.Error(err))
		}
	}
	return s
}
