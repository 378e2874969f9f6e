package driver

import (
	"ggcore.ai/internal/protocol"
	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/agents"
	"ggcore.ai/internal/sim/camera"
	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/resolve"
	"ggcore.ai/internal/sim/world"
)

// board is the mutable world shared by an Episode and the Models derived
// from it: entities, agents and the counters termination depends on.
type board struct {
	cfg         *config.GGConfig
	tick        uint64
	store       *world.Store
	reg         *agents.Registry
	startAgents int
	collected   int
	collectible map[string]bool
}

func newBoard(cfg *config.GGConfig, store *world.Store, reg *agents.Registry) *board {
	b := &board{
		cfg:         cfg,
		store:       store,
		reg:         reg,
		startAgents: reg.Len(),
		collectible: map[string]bool{},
	}
	for name, t := range cfg.EntityTypes {
		if t.Collectible {
			b.collectible[name] = true
		}
	}
	return b
}

func (b *board) clone() *board {
	c := *b
	c.store = b.store.Clone()
	c.reg = b.reg.Clone()
	return &c
}

// step advances the tick and resolves one set of actions.
func (b *board) step(res *resolve.Resolver, acts map[string]action.Action) resolve.Report {
	b.tick++
	rep := res.Resolve(b.tick, acts)
	b.sweep(&rep)
	for _, ev := range rep.Events {
		if ev.Kind == protocol.EventCollected {
			b.collected++
		}
	}
	return rep
}

// sweep eliminates active agents whose entity no longer exists.
func (b *board) sweep(rep *resolve.Report) {
	for _, id := range b.reg.Active() {
		a, _ := b.reg.Get(id)
		if _, ok := b.store.Get(a.EntityID); ok {
			continue
		}
		_ = b.reg.Eliminate(id, b.tick, protocol.CauseDestroyed)
		rep.Events = append(rep.Events, resolve.Event{
			Kind: protocol.EventEliminated, AgentID: id, EntityID: a.EntityID, Reason: protocol.CauseDestroyed,
		})
	}
}

// state snapshots the board. views supplies observations by agent id; agents
// without one are left out.
func (b *board) state(views map[string]camera.View, rep resolve.Report, failures []Failure) GameState {
	ags := b.reg.All()
	ents := b.store.Snapshot()
	s := GameState{
		ProtocolVersion: protocol.Version,
		Tick:            b.tick,
		Digest:          digest(b.tick, ags, ents),
		Agents:          ags,
		Entities:        ents,
		Observations:    make([]camera.View, 0, len(ags)),
		Outcomes:        rep.Outcomes,
		Failures:        failures,
		Events:          rep.Events,
	}
	for _, a := range ags {
		if v, ok := views[a.ID]; ok {
			s.Observations = append(s.Observations, v)
		}
	}
	s.Reason, s.Terminal = b.terminated()
	s.Results = results(ags, rep.Events, s.Terminal)
	return s
}
