// Package policy provides the built-in action sources: the random and chaser
// ghost policies, an idle policy, scripted plans for tests, and a router that
// dispatches each agent to its configured controller.
package policy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/cespare/xxhash/v2"

	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/camera"
	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/logic/mathx"
)

// Source chooses an action for an agent from its latest view.
type Source interface {
	Act(ctx context.Context, agentID string, view camera.View) (action.Action, error)
}

type SourceFunc func(ctx context.Context, agentID string, view camera.View) (action.Action, error)

func (f SourceFunc) Act(ctx context.Context, agentID string, view camera.View) (action.Action, error) {
	return f(ctx, agentID, view)
}

var cardinals = []action.Action{action.Up, action.Right, action.Down, action.Left}

// Idle always submits NOOP.
type Idle struct{}

func (Idle) Act(context.Context, string, camera.View) (action.Action, error) {
	return action.Noop(), nil
}

// Random picks a cardinal move uniformly. Each agent draws from its own stream
// derived from the seed, so results do not depend on call interleaving.
type Random struct {
	seed uint64

	mu      sync.Mutex
	streams map[string]*rand.Rand
}

func NewRandom(seed uint64) *Random {
	return &Random{seed: seed, streams: map[string]*rand.Rand{}}
}

func (r *Random) Act(_ context.Context, agentID string, _ camera.View) (action.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rng, ok := r.streams[agentID]
	if !ok {
		s := r.seed ^ xxhash.Sum64String(agentID)
		rng = rand.New(rand.NewPCG(s, mathx.Mix64(s)))
		r.streams[agentID] = rng
	}
	return cardinals[rng.IntN(len(cardinals))], nil
}

// Chaser steps greedily toward the target agent along the larger axis. The
// target must be visible with the owner and position channels; otherwise it idles.
type Chaser struct {
	Target string
}

func (c Chaser) Act(_ context.Context, _ string, view camera.View) (action.Action, error) {
	for _, e := range view.Entities {
		if e.Owner != c.Target || e.Pos == nil {
			continue
		}
		dx := e.Pos.X - view.Center.X
		dy := e.Pos.Y - view.Center.Y
		switch {
		case dx == 0 && dy == 0:
			return action.Noop(), nil
		case mathx.AbsInt(dx) > mathx.AbsInt(dy):
			return action.Move(mathx.Sign(dx), 0), nil
		default:
			return action.Move(0, mathx.Sign(dy)), nil
		}
	}
	return action.Noop(), nil
}

// Scripted replays a fixed plan per agent, one action per call, then NOOP.
type Scripted struct {
	mu    sync.Mutex
	plans map[string][]action.Action
	next  map[string]int
}

func NewScripted(plans map[string][]action.Action) *Scripted {
	cp := make(map[string][]action.Action, len(plans))
	for id, p := range plans {
		cp[id] = append([]action.Action(nil), p...)
	}
	return &Scripted{plans: cp, next: map[string]int{}}
}

func (s *Scripted) Act(_ context.Context, agentID string, _ camera.View) (action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.next[agentID]
	s.next[agentID] = i + 1
	plan := s.plans[agentID]
	if i >= len(plan) {
		return action.Noop(), nil
	}
	return plan[i], nil
}

// Router sends each agent to the source its controller names. External agents
// go to the caller's source; a nil external source idles them.
type Router struct {
	routes map[string]Source
}

func NewRouter(agents []config.AgentConfig, external Source, seed uint64) (*Router, error) {
	if external == nil {
		external = Idle{}
	}
	random := NewRandom(seed)
	r := &Router{routes: make(map[string]Source, len(agents))}
	for _, a := range agents {
		switch a.Controller {
		case config.ControllerExternal, "":
			r.routes[a.ID] = external
		case config.ControllerRandom:
			r.routes[a.ID] = random
		case config.ControllerChaser:
			r.routes[a.ID] = Chaser{Target: a.ChaseTarget}
		case config.ControllerIdle:
			r.routes[a.ID] = Idle{}
		default:
			return nil, fmt.Errorf("agent %s: unknown controller %q", a.ID, a.Controller)
		}
	}
	return r, nil
}

func (r *Router) Act(ctx context.Context, agentID string, view camera.View) (action.Action, error) {
	src, ok := r.routes[agentID]
	if !ok {
		return action.Action{}, fmt.Errorf("no route for agent %s", agentID)
	}
	return src.Act(ctx, agentID, view)
}
