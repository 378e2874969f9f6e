package driver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ggcore.ai/internal/protocol"
	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/camera"
	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/world"
)

func mustConfig(t *testing.T, doc string) config.GGConfig {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(doc), config.FormatYAML)
	require.NoError(t, err)
	return cfg
}

func mustRun(t *testing.T, cfg config.GGConfig, src ActionSource, opts ...Option) []GameState {
	t.Helper()
	ep, err := Run(cfg, src, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })
	states, err := Collect(context.Background(), ep)
	require.NoError(t, err)
	return states
}

// script answers each agent from a fixed plan, then NOOP.
func script(plans map[string][]action.Action) ActionSource {
	var mu sync.Mutex
	next := map[string]int{}
	return ActionSourceFunc(func(_ context.Context, id string, _ camera.View) (action.Action, error) {
		mu.Lock()
		defer mu.Unlock()
		i := next[id]
		next[id] = i + 1
		if i >= len(plans[id]) {
			return action.Noop(), nil
		}
		return plans[id][i], nil
	})
}

func agentPos(t *testing.T, s GameState, id string) world.Vec2i {
	t.Helper()
	a, ok := s.Agent(id)
	require.True(t, ok, "agent %s missing", id)
	for _, e := range s.Entities {
		if e.ID == a.EntityID {
			return e.Pos
		}
	}
	t.Fatalf("entity of agent %s missing at tick %d", id, s.Tick)
	return world.Vec2i{}
}

const roaming = `
world: {width: 12, height: 9}
max_steps: 30
seed: 7
entity_types:
  wall:
    spawn: {border: true}
  goblet:
    spawn: {count: 6, reward_min: 1, reward_max: 3}
agents:
  - id: a
    controller: random
    transition: [0.7, 0.1, 0.1, 0.1]
  - id: b
    controller: random
  - id: c
    controller: idle
`

func TestRun_Deterministic(t *testing.T) {
	cfg := mustConfig(t, roaming)
	first := mustRun(t, cfg, nil)
	second := mustRun(t, cfg, nil)
	require.Equal(t, len(first), len(second))
	for i := range first {
		if first[i].Digest != second[i].Digest {
			t.Fatalf("tick %d: digest %s != %s", first[i].Tick, first[i].Digest, second[i].Digest)
		}
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	require.JSONEq(t, string(a), string(b))
}

func TestRun_SeedOverride(t *testing.T) {
	cfg := mustConfig(t, roaming)
	ep, err := Run(cfg, nil, WithSeeds(99, 100))
	require.NoError(t, err)
	g, e := ep.Seeds()
	require.Equal(t, uint64(99), g)
	require.Equal(t, uint64(100), e)

	ep2, err := Run(cfg, nil)
	require.NoError(t, err)
	g, _ = ep2.Seeds()
	require.Equal(t, uint64(7), g)
}

func TestRun_MaxStepsEmitsInitialPlusSteps(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 4, height: 4}
max_steps: 3
agents:
  - id: solo
    controller: idle
`)
	ep, err := Run(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, Initializing, ep.Phase())

	states, err := Collect(context.Background(), ep)
	require.NoError(t, err)
	require.Len(t, states, 4)
	for i, s := range states {
		require.Equal(t, uint64(i), s.Tick)
		require.Equal(t, protocol.Version, s.ProtocolVersion)
		require.Equal(t, i == 3, s.Terminal)
	}
	require.Empty(t, states[0].Outcomes)
	require.Equal(t, protocol.ReasonMaxSteps, states[3].Reason)
	require.Equal(t, Terminated, ep.Phase())

	_, err = ep.Next(context.Background())
	require.ErrorIs(t, err, ErrAlreadyTerminated)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 4, height: 4}
agents:
  - id: solo
`)
	cfg.MaxSteps = 0
	_, err := Run(cfg, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, config.ErrConfig)
}

func TestRun_CrowdedGenerationIsConfigError(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 3, height: 3}
seed: 3
entity_types:
  wall:
    spawn: {clusters: 50, cluster_radius: 1}
agents:
  - id: a
`)
	_, err := Run(cfg, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, config.ErrConfig)
	require.ErrorIs(t, err, world.ErrSpatialConflict)
	require.NotEmpty(t, config.Problems(err))
}

func TestRun_BoundaryRejectionRecorded(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 4, height: 4}
max_steps: 2
agents:
  - id: a
    start: [0, 0]
`)
	states := mustRun(t, cfg, script(map[string][]action.Action{
		"a": {action.Left, action.Down},
	}))
	require.Len(t, states, 3)

	out, ok := states[1].Outcome("a")
	require.True(t, ok)
	require.Equal(t, protocol.StatusRejected, out.Status)
	require.Equal(t, protocol.ErrOutOfBounds, out.Code)
	require.Equal(t, world.Vec2i{X: 0, Y: 0}, agentPos(t, states[1], "a"))

	out, _ = states[2].Outcome("a")
	require.Equal(t, protocol.StatusApplied, out.Status)
	require.Equal(t, world.Vec2i{X: 0, Y: 1}, agentPos(t, states[2], "a"))
}

func TestRun_SourceFailuresBecomeNoop(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 5, height: 5}
max_steps: 1
agents:
  - id: err
    start: [0, 0]
  - id: panics
    start: [2, 2]
  - id: slow
    start: [4, 4]
`)
	src := ActionSourceFunc(func(ctx context.Context, id string, _ camera.View) (action.Action, error) {
		switch id {
		case "err":
			return action.Action{}, errors.New("boom")
		case "panics":
			panic("kaboom")
		default:
			<-ctx.Done()
			return action.Up, nil
		}
	})
	states := mustRun(t, cfg, src, WithActionTimeout(20*time.Millisecond))
	require.Len(t, states, 2)

	last := states[1]
	require.Len(t, last.Failures, 3)
	codes := map[string]string{}
	for _, f := range last.Failures {
		codes[f.AgentID] = f.Code
	}
	require.Equal(t, protocol.ErrSourceFailed, codes["err"])
	require.Equal(t, protocol.ErrSourceFailed, codes["panics"])
	require.Equal(t, protocol.ErrSourceTimeout, codes["slow"])
	for _, o := range last.Outcomes {
		require.Equal(t, protocol.StatusNoop, o.Status, "agent %s", o.AgentID)
	}
	require.Equal(t, world.Vec2i{X: 4, Y: 4}, agentPos(t, last, "slow"))
}

func TestRun_CancelledContextDoesNotAdvance(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 4, height: 4}
max_steps: 5
agents:
  - id: a
    controller: idle
`)
	ep, err := Run(cfg, nil)
	require.NoError(t, err)
	s, err := ep.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), s.Tick)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ep.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)

	s, err = ep.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.Tick)
}

func TestRun_CancelDuringActKeepsStep(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 6, height: 5}
max_steps: 5
agents:
  - id: a
    start: [2, 2]
`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := ActionSourceFunc(func(context.Context, string, camera.View) (action.Action, error) {
		cancel()
		return action.Right, nil
	})
	ep, err := Run(cfg, src, WithActionTimeout(0))
	require.NoError(t, err)
	_, err = ep.Next(ctx)
	require.NoError(t, err)

	s, err := ep.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.Tick)
	require.Equal(t, world.Vec2i{X: 3, Y: 2}, agentPos(t, s, "a"))
	o, ok := s.Outcome("a")
	require.True(t, ok)
	require.Equal(t, protocol.StatusApplied, o.Status)
	v, ok := s.Observation("a")
	require.True(t, ok)
	require.Equal(t, world.Vec2i{X: 3, Y: 2}, v.Center)

	// The ctx is now cancelled: the next call aborts before asking the source.
	_, err = ep.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
	s, err = ep.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), s.Tick)
}

func TestRun_AbandonedCallOverlapsNextStep(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 5, height: 5}
max_steps: 5
agents:
  - id: a
    start: [2, 2]
`)
	release := make(chan struct{})
	finished := make(chan struct{})
	var calls, running, overlap atomic.Int32
	src := ActionSourceFunc(func(context.Context, string, camera.View) (action.Action, error) {
		running.Add(1)
		defer running.Add(-1)
		if calls.Add(1) == 1 {
			// Ignores ctx on purpose.
			defer close(finished)
			<-release
			return action.Up, nil
		}
		overlap.Store(running.Load() - 1)
		return action.Noop(), nil
	})
	ep, err := Run(cfg, src, WithActionTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer close(release)
	for i := 0; i < 2; i++ {
		_, err = ep.Next(context.Background())
		require.NoError(t, err)
	}
	s, err := ep.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), s.Tick)
	if overlap.Load() != 1 {
		t.Fatalf("abandoned call should still be running during tick 2, overlap=%d", overlap.Load())
	}

	release <- struct{}{}
	<-finished
	s, err = ep.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, world.Vec2i{X: 2, Y: 2}, agentPos(t, s, "a"))
}

func TestRun_CollectAnyWins(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 5, height: 3}
max_steps: 10
entity_types:
  goblet:
    reward: 4
    spawn:
      positions: [[3, 1]]
agents:
  - id: a
    start: [1, 1]
win:
  - kind: collect_any
`)
	states := mustRun(t, cfg, script(map[string][]action.Action{
		"a": {action.Right, action.Right},
	}))
	require.Len(t, states, 3)
	last := states[2]
	require.True(t, last.Terminal)
	require.Equal(t, protocol.ReasonGobletCollected, last.Reason)
	a, _ := last.Agent("a")
	require.Equal(t, 4, a.Score)
	require.Len(t, last.Events, 1)
	require.Equal(t, protocol.EventCollected, last.Events[0].Kind)
}

func TestRun_ScoreBeatsMaxSteps(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 4, height: 3}
max_steps: 1
entity_types:
  goblet:
    reward: 2
    spawn:
      positions: [[2, 1]]
agents:
  - id: a
    start: [1, 1]
win:
  - kind: score_at_least
    value: 2
`)
	states := mustRun(t, cfg, script(map[string][]action.Action{"a": {action.Right}}))
	require.Len(t, states, 2)
	require.Equal(t, protocol.ReasonScoreReached, states[1].Reason)
}

func TestRun_GhostEliminatesLastOpponent(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 6, height: 3}
max_steps: 20
agents:
  - id: a
    start: [1, 1]
    controller: idle
  - id: ghost
    entity_type: ghost
    start: [3, 1]
    controller: chaser
    chase_target: a
    actions: [MOVE]
`)
	states := mustRun(t, cfg, nil)
	require.Len(t, states, 3)
	last := states[2]
	require.True(t, last.Terminal)
	require.Equal(t, protocol.ReasonAgentsEliminated, last.Reason)

	a, _ := last.Agent("a")
	require.False(t, a.Active)
	require.Equal(t, uint64(2), a.EliminatedTick)
	require.Equal(t, protocol.CauseCaught, a.Elimination)

	// The eliminated agent keeps its last view.
	v, ok := last.Observation("a")
	require.True(t, ok)
	require.Equal(t, uint64(1), v.Tick)
}

func TestRun_ParallelObserveMatchesSequential(t *testing.T) {
	cfg := mustConfig(t, roaming)
	seq := mustRun(t, cfg, nil)
	par := mustRun(t, cfg, nil, WithParallelObserve(true))
	require.Equal(t, len(seq), len(par))
	for i := range seq {
		require.Equal(t, seq[i].Digest, par[i].Digest)
		require.Equal(t, seq[i].Observations, par[i].Observations)
	}
}

func TestRun_StatesMatchSchema(t *testing.T) {
	cfg := mustConfig(t, roaming)
	for _, s := range mustRun(t, cfg, nil) {
		raw, err := json.Marshal(s)
		require.NoError(t, err)
		var doc any
		require.NoError(t, json.Unmarshal(raw, &doc))
		if err := protocol.Validate(protocol.SchemaGameState, doc); err != nil {
			t.Fatalf("tick %d: %v", s.Tick, err)
		}
	}
}

type recordingSink struct {
	ticks  []uint64
	fail   bool
	closed bool
}

func (r *recordingSink) WriteState(s GameState) error {
	r.ticks = append(r.ticks, s.Tick)
	if r.fail {
		return errors.New("disk full")
	}
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestRun_SinksReceiveEveryState(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 4, height: 4}
max_steps: 2
agents:
  - id: a
    controller: idle
`)
	core, logs := observer.New(zap.WarnLevel)
	good := &recordingSink{}
	bad := &recordingSink{fail: true}

	ep, err := Run(cfg, nil, WithSink(good), WithSink(bad), WithSinkOwnership(true), WithLogger(zap.New(core)))
	require.NoError(t, err)
	_, err = Collect(context.Background(), ep)
	require.NoError(t, err)
	require.NoError(t, ep.Close())

	require.Equal(t, []uint64{0, 1, 2}, good.ticks)
	require.Equal(t, []uint64{0, 1, 2}, bad.ticks)
	require.True(t, good.closed)
	require.Equal(t, 3, logs.FilterMessage("state sink failed").Len())
}

func TestStates_StopsEarly(t *testing.T) {
	cfg := mustConfig(t, roaming)
	ep, err := Run(cfg, nil)
	require.NoError(t, err)
	n := 0
	for s, err := range ep.States(context.Background()) {
		require.NoError(t, err)
		n++
		if s.Tick == 4 {
			break
		}
	}
	require.Equal(t, 5, n)
	require.Equal(t, Stepping, ep.Phase())
}

func TestEpisode_ResetReplaysInitialWorld(t *testing.T) {
	ep, err := Run(mustConfig(t, roaming), nil)
	require.NoError(t, err)
	defer ep.Close()
	_, episodeSeed := ep.Seeds()

	first, err := Collect(context.Background(), ep)
	require.NoError(t, err)
	_, err = ep.Next(context.Background())
	require.ErrorIs(t, err, ErrAlreadyTerminated)

	got, err := ep.Reset(&episodeSeed)
	require.NoError(t, err)
	require.Equal(t, episodeSeed, got)
	require.Equal(t, Initializing, ep.Phase())
	replay, err := Collect(context.Background(), ep)
	require.NoError(t, err)
	require.Equal(t, len(first), len(replay))
	for i := range first {
		if first[i].Digest != replay[i].Digest {
			t.Fatalf("tick %d: replay digest %s != %s", first[i].Tick, replay[i].Digest, first[i].Digest)
		}
	}

	// Mid-episode, under another seed: same board, new randomness.
	other := episodeSeed + 1
	_, err = ep.Reset(&other)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = ep.Next(context.Background())
		require.NoError(t, err)
	}
	_, err = ep.Reset(&other)
	require.NoError(t, err)
	s0, err := ep.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), s0.Tick)
	require.Equal(t, first[0].Digest, s0.Digest)
	_, seed := ep.Seeds()
	require.Equal(t, other, seed)

	require.NoError(t, ep.Close())
	_, err = ep.Reset(nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestRun_ResetUsesConfiguredEpisodeSeed(t *testing.T) {
	cfg := mustConfig(t, roaming+"episode_seed: 42\n")
	ep, err := Run(cfg, nil, WithSeeds(7, 1))
	require.NoError(t, err)
	defer ep.Close()
	got, err := ep.Reset(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), got)
}

func TestRun_StepResults(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 5, height: 3}
max_steps: 10
entity_types:
  goblet:
    reward: 4
    spawn:
      positions: [[3, 1]]
agents:
  - id: a
    start: [1, 1]
`)
	states := mustRun(t, cfg, script(map[string][]action.Action{
		"a": {action.Right, action.Right},
	}), WithActionTimeout(0))
	want := []StepResult{
		{AgentID: "a"},
		{AgentID: "a"},
		{AgentID: "a", Reward: 4},
	}
	for i, w := range want {
		r, ok := states[i].Result("a")
		require.True(t, ok)
		if r != w {
			t.Fatalf("tick %d: result %+v, want %+v", i, r, w)
		}
	}
	last := states[len(states)-1]
	r, _ := last.Result("a")
	require.True(t, r.Done)
	require.Zero(t, r.Reward)

	cell := world.Vec2i{X: 3, Y: 1}
	before := states[0].At(cell)
	require.Len(t, before, 1)
	require.Equal(t, config.BuiltinGoblet, before[0].Type)
	after := states[2].At(cell)
	require.Len(t, after, 1)
	require.Equal(t, config.BuiltinAgent, after[0].Type)
	require.Empty(t, states[2].At(world.Vec2i{X: 0, Y: 0}))
	require.Empty(t, states[2].At(world.Vec2i{X: 9, Y: 9}))
}

func TestRun_CaughtAgentGetsPenalty(t *testing.T) {
	cfg := mustConfig(t, `
world: {width: 6, height: 3}
max_steps: 20
agents:
  - id: a
    start: [1, 1]
    controller: idle
  - id: ghost
    entity_type: ghost
    start: [3, 1]
    controller: chaser
    chase_target: a
    actions: [MOVE]
`)
	states := mustRun(t, cfg, nil)
	require.Len(t, states, 3)
	r, _ := states[1].Result("a")
	require.Equal(t, StepResult{AgentID: "a"}, r)

	r, _ = states[2].Result("a")
	require.Equal(t, StepResult{AgentID: "a", Reward: CaughtPenalty, Done: true}, r)
	g, _ := states[2].Result("ghost")
	require.Equal(t, StepResult{AgentID: "ghost", Done: true}, g)

	cell := states[2].At(world.Vec2i{X: 1, Y: 1})
	require.Len(t, cell, 2)
}
