package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ggcore.ai/internal/sim/logic/mathx"
)

const sampleYAML = `
world:
  width: 10
  height: 8
max_steps: 50
seed: 42
entity_types:
  wall:
    spawn:
      border: true
  goblet:
    spawn:
      count: 3
      reward_min: -2
      reward_max: 5
cameras:
  near:
    radius: 1
    shape: diamond
    channels: [type, position]
agents:
  - id: player
    start: [2, 3]
    camera: near
    transition: [0.8, 0.1, 0, 0.1]
  - id: ghost
    entity_type: ghost
    controller: chaser
    chase_target: player
    actions: [MOVE]
win:
  - kind: collect_any
`

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	require.Equal(t, 10, cfg.World.Width)
	require.Equal(t, 8, cfg.World.Height)
	require.Equal(t, 50, cfg.MaxSteps)
	require.NotNil(t, cfg.Seed)
	require.Equal(t, uint64(42), *cfg.Seed)
	require.Nil(t, cfg.EpisodeSeed)
	require.Equal(t, DefaultActionTimeoutMs, cfg.ActionTimeoutMs)

	// Overrides merge over the built-in definition.
	wall := cfg.EntityTypes[BuiltinWall]
	require.Equal(t, KindStatic, wall.Kind)
	require.True(t, wall.Blocking)
	require.True(t, wall.Spawn.Border)
	require.Equal(t, BuiltinWall, wall.Name)

	goblet := cfg.EntityTypes[BuiltinGoblet]
	require.True(t, goblet.Collectible)
	require.Equal(t, 3, goblet.Spawn.Count)
	require.Equal(t, -2, goblet.Spawn.RewardMin)

	require.Contains(t, cfg.Cameras, DefaultCamera)
	near := cfg.Cameras["near"]
	require.Equal(t, ShapeDiamond, near.Shape)
	require.Equal(t, []Channel{ChannelType, ChannelPosition}, near.Channels)

	require.Len(t, cfg.Agents, 2)
	player := cfg.Agents[0]
	require.Equal(t, BuiltinAgent, player.EntityType)
	require.Equal(t, &mathx.Vec2i{X: 2, Y: 3}, player.Start)
	require.Equal(t, ControllerExternal, player.Controller)
	require.Equal(t, [4]float64{0.8, 0.1, 0, 0.1}, player.Transition)
	require.True(t, player.Allows(ActionInteract))

	ghost := cfg.Agents[1]
	require.Equal(t, ControllerChaser, ghost.Controller)
	require.Equal(t, "default", ghost.Camera)
	require.False(t, ghost.Allows(ActionInteract))
	require.True(t, ghost.Allows(ActionNoop))
	require.Equal(t, 1, ghost.MoveRange)
}

func TestParseConfig_FormatsAgree(t *testing.T) {
	js := `{"world":{"width":10,"height":8},"max_steps":50,"seed":42,
	  "entity_types":{"wall":{"spawn":{"border":true}},"goblet":{"spawn":{"count":3,"reward_min":-2,"reward_max":5}}},
	  "cameras":{"near":{"radius":1,"shape":"diamond","channels":["type","position"]}},
	  "agents":[{"id":"player","start":[2,3],"camera":"near","transition":[0.8,0.1,0,0.1]},
	            {"id":"ghost","entity_type":"ghost","controller":"chaser","chase_target":"player","actions":["MOVE"]}],
	  "win":[{"kind":"collect_any"}]}`
	tm := `
max_steps = 50
seed = 42

[world]
width = 10
height = 8

[entity_types.wall.spawn]
border = true

[entity_types.goblet.spawn]
count = 3
reward_min = -2
reward_max = 5

[cameras.near]
radius = 1
shape = "diamond"
channels = ["type", "position"]

[[agents]]
id = "player"
start = [2, 3]
camera = "near"
transition = [0.8, 0.1, 0.0, 0.1]

[[agents]]
id = "ghost"
entity_type = "ghost"
controller = "chaser"
chase_target = "player"
actions = ["MOVE"]

[[win]]
kind = "collect_any"
`
	fromYAML, err := ParseConfig([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)
	fromJSON, err := ParseConfig([]byte(js), FormatJSON)
	require.NoError(t, err)
	fromTOML, err := ParseConfig([]byte(tm), FormatTOML)
	require.NoError(t, err)

	require.Equal(t, fromYAML.Digest(), fromJSON.Digest())
	require.Equal(t, fromYAML.Digest(), fromTOML.Digest())
}

func TestParseConfig_SchemaErrors(t *testing.T) {
	_, err := ParseConfig([]byte(`
world: {width: 0, height: 5}
agents:
  - id: a
    camera: 7
bogus: true
`), FormatYAML)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConfig))

	var ce *ConfigError
	require.True(t, errors.As(err, &ce))

	paths := map[string]bool{}
	for _, p := range Problems(err) {
		paths[p.Path] = true
	}
	require.True(t, paths["world.width"], "got %v", paths)
	require.True(t, paths["agents[0].camera"], "got %v", paths)
	require.True(t, len(Problems(err)) >= 3, "want all problems reported, got %v", err)
}

func TestParseConfig_SemanticErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		path string
	}{
		{"unknown camera", `{"world":{"width":5,"height":5},"agents":[{"id":"a","camera":"nope"}]}`, "agents[0].camera"},
		{"unknown type", `{"world":{"width":5,"height":5},"agents":[{"id":"a","entity_type":"tree"}]}`, "agents[0].entity_type"},
		{"non unit agent", `{"world":{"width":5,"height":5},"agents":[{"id":"a","entity_type":"wall"}]}`, "agents[0].entity_type"},
		{"duplicate id", `{"world":{"width":5,"height":5},"agents":[{"id":"a"},{"id":"a"}]}`, "agents[1].id"},
		{"start out of bounds", `{"world":{"width":5,"height":5},"agents":[{"id":"a","start":[5,0]}]}`, "agents[0].start"},
		{"chaser without target", `{"world":{"width":5,"height":5},"agents":[{"id":"a","controller":"chaser"}]}`, "agents[0].chase_target"},
		{"chaser unknown target", `{"world":{"width":5,"height":5},"agents":[{"id":"a","controller":"chaser","chase_target":"b"}]}`, "agents[0].chase_target"},
		{"zero transition", `{"world":{"width":5,"height":5},"agents":[{"id":"a","transition":[0,0,0,0]}]}`, "agents[0].transition"},
		{"reward range", `{"world":{"width":5,"height":5},"entity_types":{"goblet":{"spawn":{"count":1,"reward_min":3,"reward_max":1}}},"agents":[{"id":"a"}]}`, "entity_types.goblet.spawn"},
		{"overlap", `{"world":{"width":5,"height":5},"entity_types":{"wall":{"spawn":{"positions":[[1,1]]}}},"agents":[{"id":"a","start":[1,1]}]}`, "agents[0].start"},
		{"win without collectibles", `{"world":{"width":5,"height":5},"agents":[{"id":"a"}],"win":[{"kind":"collect_all"}]}`, "win[0]"},
		{"start on border wall", `{"world":{"width":5,"height":5},"entity_types":{"wall":{"spawn":{"border":true}}},"agents":[{"id":"a","start":[0,2]}]}`, "agents[0].start"},
		{"goblet on border wall", `{"world":{"width":5,"height":5},"entity_types":{"wall":{"spawn":{"border":true}},"goblet":{"spawn":{"positions":[[4,4]]}}},"agents":[{"id":"a"}]}`, "entity_types.goblet.spawn.positions[0]"},
		{"goblet under agent", `{"world":{"width":5,"height":5},"entity_types":{"goblet":{"spawn":{"positions":[[2,2]]}}},"agents":[{"id":"a","start":[2,2]}]}`, "entity_types.goblet.spawn.positions[0]"},
		{"count exceeds grid", `{"world":{"width":3,"height":3},"entity_types":{"wall":{"spawn":{"border":true}},"goblet":{"spawn":{"count":1}}},"agents":[{"id":"a"}]}`, "world"},
		{"spawn on unit", `{"world":{"width":5,"height":5},"entity_types":{"ghost":{"spawn":{"count":1}}},"agents":[{"id":"a"}]}`, "entity_types.ghost.spawn"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tc.doc), FormatJSON)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrConfig))
			require.Empty(t, cfg.Agents, "no partial config on failure")
			found := false
			for _, p := range Problems(err) {
				if p.Path == tc.path {
					found = true
				}
			}
			require.True(t, found, "want problem at %s, got %v", tc.path, err)
		})
	}
}

func TestParseConfig_PlacementThatFits(t *testing.T) {
	// Walls listed on their own border and a grid filled exactly are fine.
	_, err := ParseConfig([]byte(`{"world":{"width":3,"height":3},
	  "entity_types":{"wall":{"spawn":{"border":true,"positions":[[0,0]]}}},
	  "agents":[{"id":"a"},{"id":"g","entity_type":"ghost","start":[0,1]}]}`), FormatJSON)
	require.NoError(t, err)
}

func TestParseConfig_BadInput(t *testing.T) {
	for _, tc := range []struct {
		raw    string
		format Format
	}{
		{"", FormatYAML},
		{"   \n", FormatJSON},
		{"- 1\n- 2\n", FormatYAML},
		{"{not json", FormatJSON},
		{"world = [", FormatTOML},
		{"{}", Format("ini")},
	} {
		_, err := ParseConfig([]byte(tc.raw), tc.format)
		require.Error(t, err, "%q", tc.raw)
		require.True(t, errors.Is(err, ErrConfig), "%q: %v", tc.raw, err)
	}
}

func TestParseConfig_TimeoutZeroIsKept(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"world":{"width":3,"height":3},"action_timeout_ms":0,"agents":[{"id":"a"}]}`), FormatJSON)
	require.NoError(t, err)
	require.Equal(t, 0, cfg.ActionTimeoutMs)
	require.Equal(t, DefaultMaxSteps, cfg.MaxSteps)
}

func TestParseConfig_LargeSeed(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"world":{"width":3,"height":3},"seed":18446744073709551615,"agents":[{"id":"a"}]}`), FormatJSON)
	require.NoError(t, err)
	require.Equal(t, uint64(18446744073709551615), *cfg.Seed)
}

func TestLoad_ByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "episode.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 2)

	bad := filepath.Join(dir, "episode.ini")
	require.NoError(t, os.WriteFile(bad, []byte(sampleYAML), 0o644))
	_, err = Load(bad)
	require.ErrorIs(t, err, ErrConfig)

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"agents":[]}`), 0o644))
	_, err = Load(broken)
	require.ErrorIs(t, err, ErrConfig)
	require.True(t, strings.HasPrefix(err.Error(), "broken.json: "))
}

func TestClone_IsDeep(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)
	cp := cfg.Clone()
	cp.Agents[0].Start.X = 9
	cp.Agents[0].Actions[0] = "X"
	cp.Cameras["near"].Channels[0] = ChannelGrid
	*cp.Seed = 7
	require.Equal(t, 2, cfg.Agents[0].Start.X)
	require.Equal(t, ActionNoop, cfg.Agents[0].Actions[0])
	require.Equal(t, ChannelType, cfg.Cameras["near"].Channels[0])
	require.Equal(t, uint64(42), *cfg.Seed)
}

func TestPointerPath(t *testing.T) {
	require.Equal(t, "", pointerPath(""))
	require.Equal(t, "agents[0].id", pointerPath("/agents/0/id"))
	require.Equal(t, "entity_types.goblet.spawn.positions[2][1]", pointerPath("/entity_types/goblet/spawn/positions/2/1"))
}
