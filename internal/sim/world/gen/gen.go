// Package gen builds the initial world of an episode from its configuration.
package gen

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/logic/mathx"
	"ggcore.ai/internal/sim/world"
)

// NewRand returns the deterministic generator used for world generation and
// episode randomness.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, mathx.Mix64(seed)))
}

// Generate places entities in three phases: static types, then agent units
// (fixed starts first, then random free cells in agent order), then every
// remaining type by name. The result depends only on cfg and the rng state.
func Generate(cfg config.GGConfig, rng *rand.Rand) (*world.Store, map[string]world.EntityID, error) {
	s := world.New(cfg.World.Width, cfg.World.Height, cfg.EntityTypes)
	bound := make(map[string]world.EntityID, len(cfg.Agents))

	var statics, rest []string
	for _, name := range cfg.TypeNames() {
		t := cfg.EntityTypes[name]
		switch t.Kind {
		case config.KindStatic:
			statics = append(statics, name)
		case config.KindUnit:
		default:
			rest = append(rest, name)
		}
	}

	for _, name := range statics {
		if err := placeType(s, cfg.EntityTypes[name], rng); err != nil {
			return nil, nil, err
		}
	}

	for _, a := range cfg.Agents {
		if a.Start == nil {
			continue
		}
		id, err := s.Spawn(a.EntityType, *a.Start, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("agent %s: %w", a.ID, err)
		}
		bound[a.ID] = id
	}
	// Fixed positions of later types are kept out of the random agent draw.
	reserved := map[world.Vec2i]bool{}
	for _, name := range rest {
		for _, p := range cfg.EntityTypes[name].Spawn.Positions {
			reserved[p] = true
		}
	}
	var free []world.Vec2i
	for _, a := range cfg.Agents {
		if a.Start != nil {
			continue
		}
		if free == nil {
			free = freeCells(s, reserved)
		}
		if len(free) == 0 {
			return nil, nil, fmt.Errorf("agent %s: %w: no free cell left", a.ID, world.ErrSpatialConflict)
		}
		var pos world.Vec2i
		pos, free = take(free, rng)
		id, err := s.Spawn(a.EntityType, pos, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("agent %s: %w", a.ID, err)
		}
		bound[a.ID] = id
	}

	for _, name := range rest {
		if err := placeType(s, cfg.EntityTypes[name], rng); err != nil {
			return nil, nil, err
		}
	}
	return s, bound, nil
}

func placeType(s *world.Store, t config.EntityType, rng *rand.Rand) error {
	sp := t.Spawn
	cells := map[world.Vec2i]bool{}
	if sp.Border {
		w, h := s.Width(), s.Height()
		for x := 0; x < w; x++ {
			cells[world.Vec2i{X: x, Y: 0}] = true
			cells[world.Vec2i{X: x, Y: h - 1}] = true
		}
		for y := 0; y < h; y++ {
			cells[world.Vec2i{X: 0, Y: y}] = true
			cells[world.Vec2i{X: w - 1, Y: y}] = true
		}
	}
	for i := 0; i < sp.Clusters; i++ {
		center := world.Vec2i{X: rng.IntN(s.Width()), Y: rng.IntN(s.Height())}
		r := 1 + rng.IntN(sp.ClusterRadius)
		for _, p := range disc(center, r, s.Width(), s.Height()) {
			cells[p] = true
		}
	}
	for _, p := range sp.Positions {
		cells[p] = true
	}

	// Shaped rules may overlap earlier placements; those cells are skipped.
	// Fixed positions must be honored.
	ordered := make([]world.Vec2i, 0, len(cells))
	for p := range cells {
		ordered = append(ordered, p)
	}
	sortCells(ordered)
	for _, p := range ordered {
		_, err := s.Spawn(t.Name, p, attrsFor(s, t, rng))
		if err != nil && isFixed(sp.Positions, p) {
			return fmt.Errorf("entity type %s: %w", t.Name, err)
		}
	}

	if sp.Count == 0 {
		return nil
	}
	free := freeCells(s, nil)
	if len(free) < sp.Count {
		return fmt.Errorf("entity type %s: %w: %d free cells for %d entities",
			t.Name, world.ErrSpatialConflict, len(free), sp.Count)
	}
	for i := 0; i < sp.Count; i++ {
		var p world.Vec2i
		p, free = take(free, rng)
		if _, err := s.Spawn(t.Name, p, attrsFor(s, t, rng)); err != nil {
			return fmt.Errorf("entity type %s: %w", t.Name, err)
		}
	}
	return nil
}

func attrsFor(s *world.Store, t config.EntityType, rng *rand.Rand) *world.Attrs {
	a := s.DefaultAttrs(t.Name)
	if t.Spawn.RewardMin != 0 || t.Spawn.RewardMax != 0 {
		a.Reward = t.Spawn.RewardMin + rng.IntN(t.Spawn.RewardMax-t.Spawn.RewardMin+1)
	}
	return &a
}

// disc returns the in-bounds cells with dx*dx+dy*dy <= r*r around c.
func disc(c world.Vec2i, r, width, height int) []world.Vec2i {
	var out []world.Vec2i
	for y := c.Y - r; y <= c.Y+r; y++ {
		for x := c.X - r; x <= c.X+r; x++ {
			p := world.Vec2i{X: x, Y: y}
			if x < 0 || y < 0 || x >= width || y >= height {
				continue
			}
			if mathx.Dist2(p, c) <= r*r {
				out = append(out, p)
			}
		}
	}
	return out
}

// freeCells lists the cells holding no entity at all, row by row.
func freeCells(s *world.Store, reserved map[world.Vec2i]bool) []world.Vec2i {
	var out []world.Vec2i
	for y := 0; y < s.Height(); y++ {
		for x := 0; x < s.Width(); x++ {
			p := world.Vec2i{X: x, Y: y}
			if len(s.At(p)) == 0 && !reserved[p] {
				out = append(out, p)
			}
		}
	}
	return out
}

func take(cells []world.Vec2i, rng *rand.Rand) (world.Vec2i, []world.Vec2i) {
	i := rng.IntN(len(cells))
	p := cells[i]
	last := len(cells) - 1
	cells[i] = cells[last]
	return p, cells[:last]
}

func isFixed(positions []world.Vec2i, p world.Vec2i) bool {
	for _, q := range positions {
		if q == p {
			return true
		}
	}
	return false
}

func sortCells(cells []world.Vec2i) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Y != cells[j].Y {
			return cells[i].Y < cells[j].Y
		}
		return cells[i].X < cells[j].X
	})
}
