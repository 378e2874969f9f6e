package indexdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ggcore.ai/internal/protocol"
	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/camera"
	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/driver"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqStep}

	sink := s.Sink("ep")
	_ = sink.WriteState(driver.GameState{
		Tick:     3,
		Terminal: true,
		Outcomes: nil,
		Failures: []driver.Failure{{AgentID: "a", Code: protocol.ErrSourceFailed, Reason: "x"}},
	})

	st := s.Stats()
	if st.DropStepTotal != 1 {
		t.Fatalf("DropStepTotal=%d want=1", st.DropStepTotal)
	}
	if st.DropRejectionTotal != 1 {
		t.Fatalf("DropRejectionTotal=%d want=1", st.DropRejectionTotal)
	}
	if st.DropEndTotal != 1 {
		t.Fatalf("DropEndTotal=%d want=1", st.DropEndTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_IndexesEpisode(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "index.sqlite"))
	require.NoError(t, err)
	defer idx.Close()

	cfg, err := config.ParseConfig([]byte(`
world: {width: 4, height: 4}
max_steps: 3
seed: 18446744073709551615
agents:
  - id: a
    start: [0, 0]
  - id: b
    controller: idle
`), config.FormatYAML)
	require.NoError(t, err)

	id := NewEpisodeID()
	require.NoError(t, idx.BeginEpisode(ctx, EpisodeRow{
		ID:           id,
		ConfigDigest: cfg.Digest(),
		GenSeed:      *cfg.Seed,
		EpisodeSeed:  1,
		Width:        cfg.World.Width,
		Height:       cfg.World.Height,
		Agents:       len(cfg.Agents),
		MaxSteps:     cfg.MaxSteps,
	}))

	src := driver.ActionSourceFunc(func(context.Context, string, camera.View) (action.Action, error) {
		return action.Left, nil
	})
	ep, err := driver.Run(cfg, src, driver.WithSink(idx.Sink(id)))
	require.NoError(t, err)
	states, err := driver.Collect(ctx, ep)
	require.NoError(t, err)
	require.NoError(t, idx.Flush(ctx))

	steps, err := idx.Steps(ctx, id)
	require.NoError(t, err)
	require.Len(t, steps, len(states))
	for i, s := range steps {
		require.Equal(t, states[i].Digest, s.Digest)
		require.Equal(t, 2, s.ActiveAgents)
	}
	require.True(t, steps[len(steps)-1].Terminal)

	rej, err := idx.Rejections(ctx, id, "a")
	require.NoError(t, err)
	require.Len(t, rej, 3)
	for _, r := range rej {
		require.Equal(t, protocol.ErrOutOfBounds, r.Code)
	}

	row, err := idx.Episode(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint64(18446744073709551615), row.GenSeed)
	require.NotNil(t, row.EndedAt)
	require.NotNil(t, row.FinalTick)
	require.Equal(t, uint64(3), *row.FinalTick)
	require.Equal(t, protocol.ReasonMaxSteps, row.Reason)
}

func TestSQLiteIndex_UnknownEpisode(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Episode(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrNotFound))
	require.Error(t, idx.BeginEpisode(context.Background(), EpisodeRow{}))
}
