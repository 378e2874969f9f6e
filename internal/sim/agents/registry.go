// Package agents tracks the agents of an episode: which entity each controls,
// whether it is still active, and its score.
package agents

import (
	"errors"
	"fmt"
	"sort"

	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/world"
)

var ErrUnknownAgent = errors.New("unknown agent")

type Agent struct {
	ID             string             `json:"id"`
	Config         config.AgentConfig `json:"-"`
	EntityID       world.EntityID     `json:"entity_id,omitempty"`
	Active         bool               `json:"active"`
	Score          int                `json:"score"`
	EliminatedTick uint64             `json:"eliminated_tick,omitempty"`
	Elimination    string             `json:"elimination,omitempty"`
}

type Registry struct {
	agents map[string]*Agent
	ids    []string // sorted
	owners map[world.EntityID]string
}

// New registers every configured agent as active and unbound.
func New(cfgs []config.AgentConfig) *Registry {
	r := &Registry{
		agents: make(map[string]*Agent, len(cfgs)),
		owners: map[world.EntityID]string{},
	}
	for _, c := range cfgs {
		r.agents[c.ID] = &Agent{ID: c.ID, Config: c, Active: true}
		r.ids = append(r.ids, c.ID)
	}
	sort.Strings(r.ids)
	return r
}

// Bind attaches the agent to an entity, replacing any earlier binding.
func (r *Registry) Bind(agentID string, entityID world.EntityID) error {
	a, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if a.EntityID != 0 {
		delete(r.owners, a.EntityID)
	}
	if prev, ok := r.owners[entityID]; ok && prev != agentID {
		return fmt.Errorf("entity %d already bound to %s", entityID, prev)
	}
	a.EntityID = entityID
	if entityID != 0 {
		r.owners[entityID] = agentID
	}
	return nil
}

// Eliminate marks the agent inactive. The bound entity is left in place.
// Eliminating an inactive agent is a no-op and keeps the first reason.
func (r *Registry) Eliminate(agentID string, tick uint64, reason string) error {
	a, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	if !a.Active {
		return nil
	}
	a.Active = false
	a.EliminatedTick = tick
	a.Elimination = reason
	return nil
}

func (r *Registry) IsActive(agentID string) bool {
	a, ok := r.agents[agentID]
	return ok && a.Active
}

// Active returns the ids of active agents in ascending order.
func (r *Registry) Active() []string {
	out := make([]string, 0, len(r.ids))
	for _, id := range r.ids {
		if r.agents[id].Active {
			out = append(out, id)
		}
	}
	return out
}

// IDs returns every agent id in ascending order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

func (r *Registry) Get(agentID string) (Agent, bool) {
	a, ok := r.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// All returns copies of every agent sorted by id.
func (r *Registry) All() []Agent {
	out := make([]Agent, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, *r.agents[id])
	}
	return out
}

func (r *Registry) AddScore(agentID string, delta int) error {
	a, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	a.Score += delta
	return nil
}

// OwnerOf returns the agent bound to an entity.
func (r *Registry) OwnerOf(entityID world.EntityID) (string, bool) {
	id, ok := r.owners[entityID]
	return id, ok
}

func (r *Registry) Len() int { return len(r.ids) }

// Clone returns an independent registry with the same agents and bindings.
func (r *Registry) Clone() *Registry {
	out := &Registry{
		agents: make(map[string]*Agent, len(r.agents)),
		ids:    append([]string(nil), r.ids...),
		owners: make(map[world.EntityID]string, len(r.owners)),
	}
	for id, a := range r.agents {
		c := *a
		out.agents[id] = &c
	}
	for eid, id := range r.owners {
		out.owners[eid] = id
	}
	return out
}
