package resolve

import (
	"errors"

	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/world"
)

// ErrInvalidAction matches every per-agent rejection via errors.Is.
var ErrInvalidAction = errors.New("invalid action")

// InvalidActionError is the error form of a rejected Outcome.
type InvalidActionError struct {
	AgentID string
	Code    string
	Reason  string
}

func (e *InvalidActionError) Error() string {
	return "agent " + e.AgentID + ": " + e.Code + ": " + e.Reason
}

func (e *InvalidActionError) Unwrap() error { return ErrInvalidAction }

type Outcome struct {
	AgentID string        `json:"agent_id"`
	Action  action.Action `json:"action"`
	Status  string        `json:"status"`
	Code    string        `json:"code"`
	Reason  string        `json:"reason,omitempty"`
	From    *world.Vec2i  `json:"from,omitempty"`
	To      *world.Vec2i  `json:"to,omitempty"`
	Slipped bool          `json:"slipped,omitempty"`
}

// Err returns an *InvalidActionError for rejected outcomes and nil otherwise.
func (o Outcome) Err() error {
	if o.Status != statusRejected {
		return nil
	}
	return &InvalidActionError{AgentID: o.AgentID, Code: o.Code, Reason: o.Reason}
}

type Event struct {
	Kind     string         `json:"kind"`
	AgentID  string         `json:"agent_id,omitempty"`
	EntityID world.EntityID `json:"entity_id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Value    int            `json:"value,omitempty"`
	Pos      *world.Vec2i   `json:"pos,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// Report is the aggregated result of one step. Outcomes are sorted by agent id;
// events are in application order.
type Report struct {
	Tick     uint64    `json:"tick"`
	Outcomes []Outcome `json:"outcomes"`
	Events   []Event   `json:"events,omitempty"`
}

// Rejected returns the rejected outcomes.
func (r Report) Rejected() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == statusRejected {
			out = append(out, o)
		}
	}
	return out
}

func (r Report) Outcome(agentID string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.AgentID == agentID {
			return o, true
		}
	}
	return Outcome{}, false
}
