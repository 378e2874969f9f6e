package scripting

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/camera"
	"ggcore.ai/internal/sim/world"
)

const seeker = `
function act(agent_id, view)
  for _, e in ipairs(view.entities) do
    if e.type == "goblet" then
      if e.x > view.x then return "RIGHT" end
      if e.x < view.x then return "LEFT" end
      if e.y > view.y then return {kind = "MOVE", dx = 0, dy = 1} end
      if e.y < view.y then return {kind = "MOVE", dx = 0, dy = -1} end
      return {kind = "INTERACT", target = e.id}
    end
  end
  if agent_id == "quiet" then return nil end
  return "NOOP"
end
`

func view(center world.Vec2i, goblet *world.Vec2i) camera.View {
	v := camera.View{AgentID: "a", Center: center, Radius: 2}
	if goblet != nil {
		p := *goblet
		v.Entities = append(v.Entities, camera.Observed{ID: 9, Type: "goblet", Pos: &p})
	}
	return v
}

func TestLuaSource_Act(t *testing.T) {
	src, err := NewLuaSourceString(seeker, nil)
	require.NoError(t, err)
	defer src.Close()
	ctx := context.Background()

	cases := []struct {
		goblet *world.Vec2i
		want   action.Action
	}{
		{&world.Vec2i{X: 3, Y: 1}, action.Right},
		{&world.Vec2i{X: 0, Y: 1}, action.Left},
		{&world.Vec2i{X: 1, Y: 3}, action.Down},
		{&world.Vec2i{X: 1, Y: 0}, action.Up},
		{&world.Vec2i{X: 1, Y: 1}, action.Interact(9)},
		{nil, action.Noop()},
	}
	for _, tc := range cases {
		got, err := src.Act(ctx, "a", view(world.Vec2i{X: 1, Y: 1}, tc.goblet))
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
	got, err := src.Act(ctx, "quiet", view(world.Vec2i{}, nil))
	require.NoError(t, err)
	require.Equal(t, action.Noop(), got)
}

func TestLuaSource_Errors(t *testing.T) {
	_, err := NewLuaSourceString(`x = 1`, nil)
	require.Error(t, err)
	_, err = NewLuaSourceString(`function act(`, nil)
	require.Error(t, err)

	src, err := NewLuaSourceString(`function act() error("boom") end`, nil)
	require.NoError(t, err)
	_, err = src.Act(context.Background(), "a", camera.View{})
	require.ErrorContains(t, err, "boom")

	src, err = NewLuaSourceString(`function act() return 12 end`, nil)
	require.NoError(t, err)
	_, err = src.Act(context.Background(), "a", camera.View{})
	require.Error(t, err)

	src, err = NewLuaSourceString(`function act() return "FLY" end`, nil)
	require.NoError(t, err)
	_, err = src.Act(context.Background(), "a", camera.View{})
	require.ErrorIs(t, err, action.ErrParse)
}

func TestLuaSource_ContextStopsScript(t *testing.T) {
	src, err := NewLuaSourceString(`
function act(agent_id, view)
  if agent_id == "loop" then
    while true do end
  end
  return "UP"
end
`, nil)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.Act(ctx, "loop", camera.View{})
	require.Error(t, err)

	// The VM stays usable for later calls.
	got, err := src.Act(context.Background(), "a", camera.View{})
	require.NoError(t, err)
	require.Equal(t, action.Up, got)
}

func TestNewLuaSource_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.lua")
	require.NoError(t, os.WriteFile(path, []byte(seeker), 0o644))
	src, err := NewLuaSource(path, nil)
	require.NoError(t, err)
	defer src.Close()

	_, err = NewLuaSource(filepath.Join(t.TempDir(), "missing.lua"), nil)
	require.Error(t, err)
}
