// Package runner wires a config file, an action source and the persistence
// sinks into one episode run. The commands are thin flag wrappers over it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"ggcore.ai/internal/persistence/indexdb"
	persistlog "ggcore.ai/internal/persistence/log"
	"ggcore.ai/internal/scripting"
	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/driver"
	"ggcore.ai/internal/sim/logic/mathx"
	"ggcore.ai/internal/sim/policy"
)

const (
	PolicyIdle   = "idle"
	PolicyRandom = "random"
	PolicyLua    = "lua"
)

type Options struct {
	ConfigPath string
	// Config is used instead of ConfigPath when set.
	Config *config.GGConfig

	// Policy drives the external agents: idle, random or lua.
	Policy string
	Script string

	// Seed overrides the generation seed of the config.
	Seed *uint64

	DataDir         string
	DisableDB       bool
	NoTrace         bool
	ParallelObserve bool
}

type Result struct {
	EpisodeID   string
	GenSeed     uint64
	EpisodeSeed uint64
	Final       driver.GameState
	Digests     []string
	Rejections  int
	Failures    int
	TracePath   string
	AuditPath   string
	IndexPath   string
}

// Execute runs one episode to its terminal state.
func Execute(ctx context.Context, o Options, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := loadConfig(o)
	if err != nil {
		return Result{}, err
	}
	if o.Seed != nil {
		s := *o.Seed
		cfg.Seed = &s
	}
	if cfg.Seed == nil {
		s := rand.Uint64()
		cfg.Seed = &s
	}

	src, closeSrc, err := buildSource(o, *cfg.Seed, log)
	if err != nil {
		return Result{}, err
	}
	defer closeSrc()

	res := Result{EpisodeID: indexdb.NewEpisodeID()}
	opts := []driver.Option{
		driver.WithLogger(log.With(zap.String("episode", res.EpisodeID))),
		driver.WithParallelObserve(o.ParallelObserve),
	}

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("close", zap.Error(err))
			}
		}
	}()

	if !o.NoTrace && o.DataDir != "" {
		tr := persistlog.NewTrace(filepath.Join(o.DataDir, "episodes"), res.EpisodeID)
		closers = append(closers, tr.Close)
		opts = append(opts, driver.WithSink(tr))
		res.TracePath, res.AuditPath = tr.StatesPath(), tr.AuditPath()
	}

	var idx *indexdb.SQLiteIndex
	if !o.DisableDB && o.DataDir != "" {
		res.IndexPath = filepath.Join(o.DataDir, "index.sqlite")
		idx, err = indexdb.OpenSQLite(res.IndexPath)
		if err != nil {
			return Result{}, fmt.Errorf("open index: %w", err)
		}
		closers = append(closers, idx.Close)
		opts = append(opts, driver.WithSink(idx.Sink(res.EpisodeID)))
	}

	ep, err := driver.Run(cfg, src, opts...)
	if err != nil {
		return Result{}, err
	}
	closers = append(closers, ep.Close)
	res.GenSeed, res.EpisodeSeed = ep.Seeds()

	if idx != nil {
		if err := idx.BeginEpisode(ctx, indexdb.EpisodeRow{
			ID:           res.EpisodeID,
			ConfigDigest: cfg.Digest(),
			GenSeed:      res.GenSeed,
			EpisodeSeed:  res.EpisodeSeed,
			Width:        cfg.World.Width,
			Height:       cfg.World.Height,
			Agents:       len(cfg.Agents),
			MaxSteps:     cfg.MaxSteps,
		}); err != nil {
			return Result{}, err
		}
	}

	for s, err := range ep.States(ctx) {
		if err != nil {
			return res, err
		}
		res.Digests = append(res.Digests, s.Digest)
		for _, out := range s.Outcomes {
			if out.Err() != nil {
				res.Rejections++
			}
		}
		res.Failures += len(s.Failures)
		res.Final = s
	}

	if idx != nil {
		if err := idx.Flush(ctx); err != nil {
			return res, err
		}
	}
	log.Info("episode finished",
		zap.String("episode", res.EpisodeID),
		zap.Uint64("tick", res.Final.Tick),
		zap.String("reason", res.Final.Reason),
		zap.String("digest", res.Final.Digest),
		zap.Int("rejections", res.Rejections),
		zap.Int("failures", res.Failures))
	return res, nil
}

func loadConfig(o Options) (config.GGConfig, error) {
	if o.Config != nil {
		return o.Config.Clone(), nil
	}
	if strings.TrimSpace(o.ConfigPath) == "" {
		return config.GGConfig{}, errors.New("no config given")
	}
	return config.Load(o.ConfigPath)
}

func buildSource(o Options, seed uint64, log *zap.Logger) (driver.ActionSource, func(), error) {
	switch strings.ToLower(strings.TrimSpace(o.Policy)) {
	case "", PolicyIdle:
		return nil, func() {}, nil
	case PolicyRandom:
		return policy.NewRandom(mathx.Mix64(seed ^ 0xa5a5)), func() {}, nil
	case PolicyLua:
		if o.Script == "" {
			return nil, nil, errors.New("policy lua needs a script")
		}
		ls, err := scripting.NewLuaSource(o.Script, log)
		if err != nil {
			return nil, nil, err
		}
		return ls, ls.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown policy %q", o.Policy)
}

// Mismatch is the first tick at which two digest sequences differ.
type Mismatch struct {
	Tick  int
	Left  string
	Right string
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("digest mismatch at tick %d: %s != %s", m.Tick, m.Left, m.Right)
}

// CompareDigests returns nil when both runs produced the same digest sequence.
func CompareDigests(a, b []string) *Mismatch {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return &Mismatch{Tick: i, Left: a[i], Right: b[i]}
		}
	}
	if len(a) != len(b) {
		m := &Mismatch{Tick: n}
		if n < len(a) {
			m.Left = a[n]
		}
		if n < len(b) {
			m.Right = b[n]
		}
		return m
	}
	return nil
}

// TraceDigests reads the digests recorded in a state log.
func TraceDigests(path string) ([]string, error) {
	states, err := persistlog.ReadStates(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.Digest
	}
	return out, nil
}
