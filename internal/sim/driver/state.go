package driver

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"ggcore.ai/internal/protocol"
	"ggcore.ai/internal/sim/agents"
	"ggcore.ai/internal/sim/camera"
	"ggcore.ai/internal/sim/resolve"
	"ggcore.ai/internal/sim/world"
)

// Failure records an action source call that produced no usable action.
// The agent's action for that step was NOOP.
type Failure struct {
	AgentID string `json:"agent_id"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

// GameState is an immutable snapshot emitted once per tick. Tick 0 is the
// initial world and carries no outcomes.
type GameState struct {
	ProtocolVersion string            `json:"protocol_version"`
	Tick            uint64            `json:"tick"`
	Terminal        bool              `json:"terminal"`
	Reason          string            `json:"reason,omitempty"`
	Digest          string            `json:"digest"`
	Agents          []agents.Agent    `json:"agents"`
	Entities        []world.Entity    `json:"entities"`
	Observations    []camera.View     `json:"observations"`
	Outcomes        []resolve.Outcome `json:"outcomes,omitempty"`
	Failures        []Failure         `json:"failures,omitempty"`
	Events          []resolve.Event   `json:"events,omitempty"`
	Results         []StepResult      `json:"results"`
}

// CaughtPenalty is the step reward of an agent caught by a lethal entity.
const CaughtPenalty = math.MinInt32

// StepResult is one agent's reward for the step that produced a state, and
// whether the agent is done: eliminated, or the episode is over.
type StepResult struct {
	AgentID string `json:"agent_id"`
	Reward  int    `json:"reward"`
	Done    bool   `json:"done"`
}

// results sums collected rewards per agent. Being caught replaces the sum
// with CaughtPenalty.
func results(ags []agents.Agent, events []resolve.Event, terminal bool) []StepResult {
	reward := map[string]int{}
	caught := map[string]bool{}
	for _, ev := range events {
		switch {
		case ev.Kind == protocol.EventCollected:
			reward[ev.AgentID] += ev.Value
		case ev.Kind == protocol.EventEliminated && ev.Reason == protocol.CauseCaught:
			caught[ev.AgentID] = true
		}
	}
	out := make([]StepResult, 0, len(ags))
	for _, a := range ags {
		r := StepResult{AgentID: a.ID, Reward: reward[a.ID], Done: terminal || !a.Active}
		if caught[a.ID] {
			r.Reward = CaughtPenalty
		}
		out = append(out, r)
	}
	return out
}

// Observation returns the view of one agent.
func (s GameState) Observation(agentID string) (camera.View, bool) {
	for _, v := range s.Observations {
		if v.AgentID == agentID {
			return v, true
		}
	}
	return camera.View{}, false
}

func (s GameState) Agent(agentID string) (agents.Agent, bool) {
	for _, a := range s.Agents {
		if a.ID == agentID {
			return a, true
		}
	}
	return agents.Agent{}, false
}

func (s GameState) Outcome(agentID string) (resolve.Outcome, bool) {
	for _, o := range s.Outcomes {
		if o.AgentID == agentID {
			return o, true
		}
	}
	return resolve.Outcome{}, false
}

func (s GameState) Result(agentID string) (StepResult, bool) {
	for _, r := range s.Results {
		if r.AgentID == agentID {
			return r, true
		}
	}
	return StepResult{}, false
}

// At returns the entities occupying a cell, sorted by id. An empty result is
// an empty cell; positions outside the world are empty too.
func (s GameState) At(p world.Vec2i) []world.Entity {
	var out []world.Entity
	for _, e := range s.Entities {
		if e.Pos == p {
			out = append(out, e)
		}
	}
	return out
}

// digest hashes the canonical world section: tick, agents and entities.
// Observations are derived from it and left out.
func digest(tick uint64, ags []agents.Agent, ents []world.Entity) string {
	h := xxhash.New()
	b, err := json.Marshal(struct {
		Tick     uint64         `json:"tick"`
		Agents   []agents.Agent `json:"agents"`
		Entities []world.Entity `json:"entities"`
	}{tick, ags, ents})
	if err != nil {
		return ""
	}
	_, _ = h.Write(b)
	return fmt.Sprintf("%016x", h.Sum64())
}
