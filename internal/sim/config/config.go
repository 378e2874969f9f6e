// Package config loads and validates the declarative description of an episode:
// the world size, entity types, agents, cameras and win conditions.
package config

import (
	"sort"

	"ggcore.ai/internal/sim/logic/mathx"
)

type Kind string

const (
	KindStatic   Kind = "static"
	KindResource Kind = "resource"
	KindUnit     Kind = "unit"
)

type Shape string

const (
	ShapeSquare  Shape = "square"  // Chebyshev
	ShapeCircle  Shape = "circle"  // Euclidean
	ShapeDiamond Shape = "diamond" // Manhattan
)

type Channel string

const (
	ChannelType     Channel = "type"
	ChannelPosition Channel = "position"
	ChannelHealth   Channel = "health"
	ChannelReward   Channel = "reward"
	ChannelOwner    Channel = "owner"
	ChannelBlocking Channel = "blocking"
	ChannelGrid     Channel = "grid"
)

// AllChannels is the channel set of the built-in camera, in canonical order.
var AllChannels = []Channel{
	ChannelType, ChannelPosition, ChannelHealth, ChannelReward,
	ChannelOwner, ChannelBlocking, ChannelGrid,
}

type Controller string

const (
	ControllerExternal Controller = "external"
	ControllerRandom   Controller = "random"
	ControllerChaser   Controller = "chaser"
	ControllerIdle     Controller = "idle"
)

type WinKind string

const (
	WinCollectAll   WinKind = "collect_all"
	WinCollectAny   WinKind = "collect_any"
	WinScoreAtLeast WinKind = "score_at_least"
)

// Action kind names accepted in AgentConfig.Actions.
const (
	ActionNoop     = "NOOP"
	ActionMove     = "MOVE"
	ActionInteract = "INTERACT"
)

const (
	BuiltinWall   = "wall"
	BuiltinGoblet = "goblet"
	BuiltinAgent  = "agent"
	BuiltinGhost  = "ghost"

	DefaultCamera = "default"
)

type GGConfig struct {
	World           WorldConfig             `json:"world"`
	MaxSteps        int                     `json:"max_steps"`
	Seed            *uint64                 `json:"seed,omitempty"`
	EpisodeSeed     *uint64                 `json:"episode_seed,omitempty"`
	ActionTimeoutMs int                     `json:"action_timeout_ms"`
	EntityTypes     map[string]EntityType   `json:"entity_types"`
	Cameras         map[string]CameraConfig `json:"cameras"`
	Agents          []AgentConfig           `json:"agents"`
	Win             []WinCondition          `json:"win,omitempty"`
}

type WorldConfig struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	// ClampMoves clamps out-of-bounds moves to the edge instead of rejecting them.
	ClampMoves bool `json:"clamp_moves,omitempty"`
}

type EntityType struct {
	Name        string `json:"-"`
	Kind        Kind   `json:"kind"`
	Blocking    bool   `json:"blocking,omitempty"`
	Collectible bool   `json:"collectible,omitempty"`
	Lethal      bool   `json:"lethal,omitempty"`
	// Phasing movers pass through blocking occupants when they are not blocking themselves.
	Phasing   bool  `json:"phasing,omitempty"`
	Collector bool  `json:"collector,omitempty"`
	Health    int   `json:"health,omitempty"`
	Reward    int   `json:"reward,omitempty"`
	Spawn     Spawn `json:"spawn"`
}

type Spawn struct {
	Border        bool          `json:"border,omitempty"`
	Clusters      int           `json:"clusters,omitempty"`
	ClusterRadius int           `json:"cluster_radius,omitempty"`
	Count         int           `json:"count,omitempty"`
	Positions     []mathx.Vec2i `json:"positions,omitempty"`
	RewardMin     int           `json:"reward_min,omitempty"`
	RewardMax     int           `json:"reward_max,omitempty"`
}

// Spawns reports whether the rules place at least one entity.
func (s Spawn) Spawns() bool {
	return s.Border || s.Clusters > 0 || s.Count > 0 || len(s.Positions) > 0
}

type CameraConfig struct {
	Radius   int       `json:"radius"`
	Shape    Shape     `json:"shape"`
	Channels []Channel `json:"channels"`
}

func (c CameraConfig) Has(ch Channel) bool {
	for _, x := range c.Channels {
		if x == ch {
			return true
		}
	}
	return false
}

type AgentConfig struct {
	ID          string       `json:"id"`
	EntityType  string       `json:"entity_type"`
	Start       *mathx.Vec2i `json:"start,omitempty"`
	Actions     []string     `json:"actions"`
	Camera      string       `json:"camera"`
	Controller  Controller   `json:"controller"`
	ChaseTarget string       `json:"chase_target,omitempty"`
	// Transition holds slip weights for [intended, clockwise, opposite, counter-clockwise].
	Transition [4]float64 `json:"transition"`
	// MoveRange bounds the Chebyshev length of one MOVE. A move is a jump:
	// only the destination cell is checked, so cells in between may be blocked.
	MoveRange int  `json:"move_range"`
	Diagonal  bool `json:"diagonal,omitempty"`
	Damage    int  `json:"damage"`
	Reach     int  `json:"reach"`
}

// Allows reports whether the agent may submit actions of the given kind. NOOP is always allowed.
func (a AgentConfig) Allows(kind string) bool {
	if kind == ActionNoop {
		return true
	}
	for _, k := range a.Actions {
		if k == kind {
			return true
		}
	}
	return false
}

type WinCondition struct {
	Kind  WinKind `json:"kind"`
	Value int     `json:"value,omitempty"`
}

func (c GGConfig) Agent(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// TypeNames returns the entity type names in sorted order.
func (c GGConfig) TypeNames() []string {
	out := make([]string, 0, len(c.EntityTypes))
	for name := range c.EntityTypes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (c GGConfig) Clone() GGConfig {
	out := c
	if c.Seed != nil {
		s := *c.Seed
		out.Seed = &s
	}
	if c.EpisodeSeed != nil {
		s := *c.EpisodeSeed
		out.EpisodeSeed = &s
	}
	out.EntityTypes = make(map[string]EntityType, len(c.EntityTypes))
	for k, t := range c.EntityTypes {
		t.Spawn.Positions = append([]mathx.Vec2i(nil), t.Spawn.Positions...)
		out.EntityTypes[k] = t
	}
	out.Cameras = make(map[string]CameraConfig, len(c.Cameras))
	for k, cam := range c.Cameras {
		cam.Channels = append([]Channel(nil), cam.Channels...)
		out.Cameras[k] = cam
	}
	out.Agents = make([]AgentConfig, len(c.Agents))
	for i, a := range c.Agents {
		if a.Start != nil {
			p := *a.Start
			a.Start = &p
		}
		a.Actions = append([]string(nil), a.Actions...)
		out.Agents[i] = a
	}
	out.Win = append([]WinCondition(nil), c.Win...)
	return out
}
