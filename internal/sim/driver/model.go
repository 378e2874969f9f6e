package driver

import (
	"context"
	"fmt"

	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/agents"
	"ggcore.ai/internal/sim/camera"
	"ggcore.ai/internal/sim/resolve"
	"ggcore.ai/internal/sim/world"
)

// Model is a detached copy of an episode's world for lookahead planning.
// Models are values: Next and AllStates return new models and never touch
// the receiver or the episode it came from.
//
// Transitions are deterministic. A move takes the first direction with a
// positive slip weight (the intended one under the default weights) and
// agents without an action in the map do nothing, scripted ones included.
type Model struct {
	b   *board
	rep resolve.Report
}

// Model snapshots the current world.
func (e *Episode) Model() (*Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return &Model{b: e.board.clone()}, nil
}

func (m *Model) Tick() uint64 { return m.b.tick }

// Terminal reports whether the model's world satisfies a termination predicate.
func (m *Model) Terminal() bool {
	_, done := m.b.terminated()
	return done
}

// State renders the model like an emitted state, with fresh observations for
// every active agent. Outcomes, events and results describe the step that
// produced the model; they are empty for snapshots and placements.
func (m *Model) State() GameState {
	views, err := camera.New(m.b.store, m.b.reg, m.b.cfg.Cameras).
		ObserveAll(context.Background(), m.b.reg.Active(), false)
	if err != nil {
		views = nil
	}
	for id, v := range views {
		v.Tick = m.b.tick
		views[id] = v
	}
	return m.b.state(views, m.rep, nil)
}

// At returns the entities in one cell, sorted by id.
func (m *Model) At(p world.Vec2i) []world.Entity { return m.b.store.At(p) }

// Next resolves one step. A terminal model yields a copy of itself with no
// step applied.
func (m *Model) Next(actions map[string]action.Action) *Model {
	b := m.b.clone()
	if m.Terminal() {
		return &Model{b: b}
	}
	res := resolve.New(b.store, b.reg, nil, b.cfg.World.ClampMoves, nil)
	rep := b.step(res, actions)
	return &Model{b: b, rep: rep}
}

// AllStates enumerates the placements of one agent's entity: a model for every
// cell the entity may occupy, in row-major order, with everything else as in
// the receiver. Lethal contact and pickups are not applied to placements.
func (m *Model) AllStates(agentID string) ([]*Model, error) {
	a, ok := m.b.reg.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", agents.ErrUnknownAgent, agentID)
	}
	if _, ok := m.b.store.Get(a.EntityID); !ok {
		return nil, fmt.Errorf("agent %s: %w", agentID, camera.ErrNoEntity)
	}
	var out []*Model
	for y := 0; y < m.b.store.Height(); y++ {
		for x := 0; x < m.b.store.Width(); x++ {
			b := m.b.clone()
			if err := b.store.Move(a.EntityID, world.Vec2i{X: x, Y: y}); err != nil {
				continue
			}
			out = append(out, &Model{b: b})
		}
	}
	return out, nil
}
