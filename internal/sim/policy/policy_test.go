package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/camera"
	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/world"
)

func viewWith(center world.Vec2i, owner string, pos world.Vec2i) camera.View {
	return camera.View{
		Center: center,
		Entities: []camera.Observed{
			{ID: 1, Type: "agent", Owner: owner, Pos: &pos},
		},
	}
}

func TestChaser_LargerAxis(t *testing.T) {
	ctx := context.Background()
	c := Chaser{Target: "player"}
	cases := []struct {
		target world.Vec2i
		want   action.Action
	}{
		{world.Vec2i{X: 5, Y: 3}, action.Right},
		{world.Vec2i{X: 0, Y: 3}, action.Left},
		{world.Vec2i{X: 3, Y: 6}, action.Down},
		{world.Vec2i{X: 4, Y: 0}, action.Up},
		{world.Vec2i{X: 4, Y: 4}, action.Down}, // tie goes vertical
		{world.Vec2i{X: 2, Y: 2}, action.Up},
		{world.Vec2i{X: 3, Y: 3}, action.Noop()},
	}
	for _, tc := range cases {
		got, err := c.Act(ctx, "ghost", viewWith(world.Vec2i{X: 3, Y: 3}, "player", tc.target))
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "target %v", tc.target)
	}
	got, err := c.Act(ctx, "ghost", viewWith(world.Vec2i{X: 3, Y: 3}, "someone", world.Vec2i{X: 9, Y: 3}))
	require.NoError(t, err)
	require.Equal(t, action.Noop(), got)
}

func TestRandom_DeterministicPerAgent(t *testing.T) {
	ctx := context.Background()
	draw := func(order []string) map[string][]action.Action {
		r := NewRandom(5)
		out := map[string][]action.Action{}
		for i := 0; i < 10; i++ {
			for _, id := range order {
				a, err := r.Act(ctx, id, camera.View{})
				require.NoError(t, err)
				require.Equal(t, action.KindMove, a.Kind)
				out[id] = append(out[id], a)
			}
		}
		return out
	}
	require.Equal(t, draw([]string{"a", "b"}), draw([]string{"b", "a"}))
}

func TestScripted(t *testing.T) {
	ctx := context.Background()
	s := NewScripted(map[string][]action.Action{"a": {action.Up, action.Left}})
	for _, want := range []action.Action{action.Up, action.Left, action.Noop(), action.Noop()} {
		got, err := s.Act(ctx, "a", camera.View{})
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	got, _ := s.Act(ctx, "other", camera.View{})
	require.Equal(t, action.Noop(), got)
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	external := SourceFunc(func(context.Context, string, camera.View) (action.Action, error) {
		return action.Interact(42), nil
	})
	r, err := NewRouter([]config.AgentConfig{
		{ID: "p", Controller: config.ControllerExternal},
		{ID: "g", Controller: config.ControllerChaser, ChaseTarget: "p"},
		{ID: "i", Controller: config.ControllerIdle},
		{ID: "r", Controller: config.ControllerRandom},
	}, external, 1)
	require.NoError(t, err)

	got, err := r.Act(ctx, "p", camera.View{})
	require.NoError(t, err)
	require.Equal(t, action.Interact(42), got)

	got, err = r.Act(ctx, "g", viewWith(world.Vec2i{}, "p", world.Vec2i{X: 2}))
	require.NoError(t, err)
	require.Equal(t, action.Right, got)

	got, _ = r.Act(ctx, "i", camera.View{})
	require.Equal(t, action.Noop(), got)

	got, _ = r.Act(ctx, "r", camera.View{})
	require.Equal(t, action.KindMove, got.Kind)

	_, err = r.Act(ctx, "nobody", camera.View{})
	require.Error(t, err)

	_, err = NewRouter([]config.AgentConfig{{ID: "x", Controller: "psychic"}}, nil, 1)
	require.Error(t, err)
}
