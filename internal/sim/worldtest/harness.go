// Package worldtest drives whole episodes through the exported driver API so
// scenario tests can live outside the simulation packages.
package worldtest

import (
	"context"
	"testing"

	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/camera"
	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/driver"
	"ggcore.ai/internal/sim/world"
)

// Harness is a small black-box test helper:
// - Step()/StepFor() queue actions for external agents and advance one tick
// - Last() returns the latest emitted state
// - Pos()/View() read agent state from it
type Harness struct {
	T   *testing.T
	Cfg config.GGConfig
	Ep  *driver.Episode

	pending map[string]action.Action
	history []driver.GameState
}

// NewHarness parses a YAML config, starts the episode and consumes tick 0.
func NewHarness(t *testing.T, doc string, opts ...driver.Option) *Harness {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(doc), config.FormatYAML)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	return NewHarnessWithConfig(t, cfg, opts...)
}

func NewHarnessWithConfig(t *testing.T, cfg config.GGConfig, opts ...driver.Option) *Harness {
	t.Helper()
	h := &Harness{T: t, Cfg: cfg, pending: map[string]action.Action{}}
	src := driver.ActionSourceFunc(func(_ context.Context, id string, _ camera.View) (action.Action, error) {
		a, ok := h.pending[id]
		if !ok {
			return action.Noop(), nil
		}
		return a, nil
	})
	ep, err := driver.Run(cfg, src, opts...)
	if err != nil {
		t.Fatalf("driver.Run: %v", err)
	}
	t.Cleanup(func() { _ = ep.Close() })
	h.Ep = ep
	h.next()
	return h
}

func (h *Harness) next() driver.GameState {
	h.T.Helper()
	s, err := h.Ep.Next(context.Background())
	if err != nil {
		h.T.Fatalf("Next at tick %d: %v", len(h.history), err)
	}
	h.history = append(h.history, s)
	return s
}

// Step submits acts for the external agents named and NOOP for the rest.
func (h *Harness) Step(acts map[string]action.Action) driver.GameState {
	h.T.Helper()
	h.pending = acts
	defer func() { h.pending = map[string]action.Action{} }()
	return h.next()
}

// StepFor advances n ticks with the same actions, stopping early at a terminal state.
func (h *Harness) StepFor(n int, acts map[string]action.Action) driver.GameState {
	h.T.Helper()
	s := h.Last()
	for i := 0; i < n && !s.Terminal; i++ {
		s = h.Step(acts)
	}
	return s
}

// RunToEnd advances with NOOPs until the episode terminates.
func (h *Harness) RunToEnd() driver.GameState {
	h.T.Helper()
	s := h.Last()
	for !s.Terminal {
		s = h.Step(nil)
	}
	return s
}

func (h *Harness) Last() driver.GameState { return h.history[len(h.history)-1] }

func (h *Harness) History() []driver.GameState {
	return append([]driver.GameState(nil), h.history...)
}

func (h *Harness) Digests() []string {
	out := make([]string, len(h.history))
	for i, s := range h.history {
		out[i] = s.Digest
	}
	return out
}

// Pos returns the position of the agent's entity in the latest state.
func (h *Harness) Pos(agentID string) world.Vec2i {
	h.T.Helper()
	s := h.Last()
	a, ok := s.Agent(agentID)
	if !ok {
		h.T.Fatalf("unknown agent %q", agentID)
	}
	for _, e := range s.Entities {
		if e.ID == a.EntityID {
			return e.Pos
		}
	}
	h.T.Fatalf("agent %q has no entity at tick %d", agentID, s.Tick)
	return world.Vec2i{}
}

func (h *Harness) View(agentID string) camera.View {
	h.T.Helper()
	v, ok := h.Last().Observation(agentID)
	if !ok {
		h.T.Fatalf("no observation for %q at tick %d", agentID, h.Last().Tick)
	}
	return v
}

// Count returns the number of entities of a type in the latest state.
func (h *Harness) Count(typeName string) int {
	n := 0
	for _, e := range h.Last().Entities {
		if e.Type == typeName {
			n++
		}
	}
	return n
}
