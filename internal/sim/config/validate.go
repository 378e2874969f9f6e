package config

import (
	"fmt"
	"sort"
	"strings"

	"ggcore.ai/internal/sim/logic/mathx"
)

func (c *GGConfig) Normalize() {
	if c == nil {
		return
	}
	if c.EntityTypes == nil {
		c.EntityTypes = builtinTypes()
	}
	for name, t := range c.EntityTypes {
		t.Name = name
		c.EntityTypes[name] = t
	}
	if c.Cameras == nil {
		c.Cameras = map[string]CameraConfig{}
	}
	if _, ok := c.Cameras[DefaultCamera]; !ok {
		c.Cameras[DefaultCamera] = defaultCamera()
	}
	for name, cam := range c.Cameras {
		if cam.Shape == "" {
			cam.Shape = ShapeSquare
		}
		c.Cameras[name] = cam
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		a.ID = strings.TrimSpace(a.ID)
		if a.EntityType == "" {
			a.EntityType = BuiltinAgent
		}
		if a.Camera == "" {
			a.Camera = DefaultCamera
		}
		if a.Controller == "" {
			a.Controller = ControllerExternal
		}
		if a.MoveRange <= 0 {
			a.MoveRange = 1
		}
	}
}

func (c GGConfig) Validate() error {
	var p problems
	if c.World.Width <= 0 || c.World.Height <= 0 {
		p.addf("world", "width and height must be > 0 (got %dx%d)", c.World.Width, c.World.Height)
	}
	if c.MaxSteps <= 0 {
		p.addf("max_steps", "must be > 0")
	}
	if c.ActionTimeoutMs < 0 {
		p.addf("action_timeout_ms", "must be >= 0")
	}
	if len(c.Agents) == 0 {
		p.addf("agents", "at least one agent is required")
	}

	inBounds := func(v mathx.Vec2i) bool {
		return v.X >= 0 && v.Y >= 0 && v.X < c.World.Width && v.Y < c.World.Height
	}

	for _, name := range c.TypeNames() {
		t := c.EntityTypes[name]
		path := "entity_types." + name
		switch t.Kind {
		case KindStatic, KindResource, KindUnit:
		default:
			p.addf(path+".kind", "unknown kind %q", t.Kind)
		}
		if t.Health < 0 {
			p.addf(path+".health", "must be >= 0")
		}
		s := t.Spawn
		if s.RewardMin > s.RewardMax {
			p.addf(path+".spawn", "reward_min %d > reward_max %d", s.RewardMin, s.RewardMax)
		}
		if s.Clusters > 0 && s.ClusterRadius < 1 {
			p.addf(path+".spawn.cluster_radius", "must be >= 1 when clusters are requested")
		}
		if s.Count < 0 || s.Clusters < 0 {
			p.addf(path+".spawn", "counts must be >= 0")
		}
		if t.Kind == KindUnit && s.Spawns() {
			p.addf(path+".spawn", "unit types are placed through agents, not spawn rules")
		}
		for i, pos := range s.Positions {
			if !inBounds(pos) {
				p.addf(fmt.Sprintf("%s.spawn.positions[%d]", path, i), "position %v out of bounds", pos)
			}
		}
	}

	for _, name := range sortedKeys(c.Cameras) {
		cam := c.Cameras[name]
		path := "cameras." + name
		if cam.Radius < 0 {
			p.addf(path+".radius", "must be >= 0")
		}
		switch cam.Shape {
		case ShapeSquare, ShapeCircle, ShapeDiamond:
		default:
			p.addf(path+".shape", "unknown shape %q", cam.Shape)
		}
		for i, ch := range cam.Channels {
			if !knownChannel(ch) {
				p.addf(fmt.Sprintf("%s.channels[%d]", path, i), "unknown channel %q", ch)
			}
		}
	}

	ids := map[string]int{}
	for i, a := range c.Agents {
		path := fmt.Sprintf("agents[%d]", i)
		if a.ID == "" {
			p.addf(path+".id", "missing id")
		} else if prev, dup := ids[a.ID]; dup {
			p.addf(path+".id", "duplicate agent id %q (also agents[%d])", a.ID, prev)
		} else {
			ids[a.ID] = i
		}
		t, ok := c.EntityTypes[a.EntityType]
		if !ok {
			p.addf(path+".entity_type", "unknown entity type %q", a.EntityType)
		} else if t.Kind != KindUnit {
			p.addf(path+".entity_type", "entity type %q is %s, agents need a unit", a.EntityType, t.Kind)
		}
		if _, ok := c.Cameras[a.Camera]; !ok {
			p.addf(path+".camera", "unknown camera %q", a.Camera)
		}
		if a.Start != nil && !inBounds(*a.Start) {
			p.addf(path+".start", "position %v out of bounds", *a.Start)
		}
		for j, k := range a.Actions {
			switch k {
			case ActionNoop, ActionMove, ActionInteract:
			default:
				p.addf(fmt.Sprintf("%s.actions[%d]", path, j), "unknown action kind %q", k)
			}
		}
		switch a.Controller {
		case ControllerExternal, ControllerRandom, ControllerIdle:
		case ControllerChaser:
			if a.ChaseTarget == "" {
				p.addf(path+".chase_target", "required for chaser controller")
			}
		default:
			p.addf(path+".controller", "unknown controller %q", a.Controller)
		}
		var sum float64
		for _, w := range a.Transition {
			if w < 0 {
				p.addf(path+".transition", "weights must be >= 0")
				break
			}
			sum += w
		}
		if sum <= 0 {
			p.addf(path+".transition", "weights must not all be zero")
		}
		if a.Damage < 0 {
			p.addf(path+".damage", "must be >= 0")
		}
		if a.Reach < 0 {
			p.addf(path+".reach", "must be >= 0")
		}
	}
	for i, a := range c.Agents {
		if a.Controller != ControllerChaser || a.ChaseTarget == "" {
			continue
		}
		if _, ok := ids[a.ChaseTarget]; !ok {
			p.addf(fmt.Sprintf("agents[%d].chase_target", i), "unknown agent %q", a.ChaseTarget)
		} else if a.ChaseTarget == a.ID {
			p.addf(fmt.Sprintf("agents[%d].chase_target", i), "agent cannot chase itself")
		}
	}

	c.validatePlacement(&p)

	hasCollectible := false
	for _, t := range c.EntityTypes {
		if t.Collectible && t.Spawn.Spawns() {
			hasCollectible = true
		}
	}
	for i, w := range c.Win {
		path := fmt.Sprintf("win[%d]", i)
		switch w.Kind {
		case WinCollectAll, WinCollectAny:
			if !hasCollectible {
				p.addf(path, "%s needs a collectible entity type with spawn rules", w.Kind)
			}
		case WinScoreAtLeast:
		default:
			p.addf(path+".kind", "unknown win condition %q", w.Kind)
		}
	}
	return p.err()
}

// validatePlacement rejects fixed positions that generation could not honor:
// two blocking entities in one cell, a non-phasing entity on a blocking cell
// (borders included), and random placements that cannot fit in the grid.
func (c GGConfig) validatePlacement(p *problems) {
	type claim struct {
		path string
		typ  string
		// border claims do not conflict with fixed positions of their own type.
		border bool
	}
	blockers := map[mathx.Vec2i]claim{}
	borderCells := 0
	for _, name := range c.TypeNames() {
		t := c.EntityTypes[name]
		if !t.Blocking || !t.Spawn.Border || t.Kind == KindUnit {
			continue
		}
		path := fmt.Sprintf("entity_types.%s.spawn.border", name)
		for _, pos := range c.borderCells() {
			if _, ok := blockers[pos]; !ok {
				blockers[pos] = claim{path: path, typ: name, border: true}
				borderCells++
			}
		}
	}

	type item struct {
		path string
		typ  string
		pos  mathx.Vec2i
	}
	var items []item
	for _, name := range c.TypeNames() {
		for i, pos := range c.EntityTypes[name].Spawn.Positions {
			items = append(items, item{path: fmt.Sprintf("entity_types.%s.spawn.positions[%d]", name, i), typ: name, pos: pos})
		}
	}
	for i, a := range c.Agents {
		if a.Start != nil {
			items = append(items, item{path: fmt.Sprintf("agents[%d].start", i), typ: a.EntityType, pos: *a.Start})
		}
	}

	conflicts := func(it item, cl claim) bool {
		return !(cl.border && cl.typ == it.typ)
	}
	// Blocking claims first, so later checks see every blocked cell.
	for _, it := range items {
		t, ok := c.EntityTypes[it.typ]
		if !ok || !t.Blocking {
			continue
		}
		if prev, ok := blockers[it.pos]; ok {
			if conflicts(it, prev) {
				p.addf(it.path, "blocking position %v already taken by %s", it.pos, prev.path)
			}
			continue
		}
		blockers[it.pos] = claim{path: it.path, typ: it.typ}
	}
	for _, it := range items {
		t, ok := c.EntityTypes[it.typ]
		if !ok || t.Blocking || t.Phasing {
			continue
		}
		if prev, ok := blockers[it.pos]; ok && conflicts(it, prev) {
			p.addf(it.path, "position %v is blocked by %s", it.pos, prev.path)
		}
	}

	// Random placements draw from cells holding nothing at all.
	occupied := map[mathx.Vec2i]bool{}
	for pos := range blockers {
		occupied[pos] = true
	}
	for _, it := range items {
		occupied[it.pos] = true
	}
	need := 0
	for _, a := range c.Agents {
		if a.Start == nil {
			need++
		}
	}
	for _, name := range c.TypeNames() {
		if n := c.EntityTypes[name].Spawn.Count; n > 0 {
			need += n
		}
	}
	if free := c.World.Width*c.World.Height - len(occupied); c.World.Width > 0 && c.World.Height > 0 && need > free {
		p.addf("world", "%d randomly placed entities do not fit in %d free cells", need, free)
	}
}

// borderCells lists the outermost ring of the grid, row by row.
func (c GGConfig) borderCells() []mathx.Vec2i {
	w, h := c.World.Width, c.World.Height
	var out []mathx.Vec2i
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				out = append(out, mathx.Vec2i{X: x, Y: y})
			}
		}
	}
	return out
}

func knownChannel(ch Channel) bool {
	for _, x := range AllChannels {
		if x == ch {
			return true
		}
	}
	return false
}

// ChannelsSorted returns the camera channels in canonical order without duplicates.
func (c CameraConfig) ChannelsSorted() []Channel {
	rank := map[Channel]int{}
	for i, ch := range AllChannels {
		rank[ch] = i
	}
	out := make([]Channel, 0, len(c.Channels))
	seen := map[Channel]bool{}
	for _, ch := range c.Channels {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return rank[out[i]] < rank[out[j]] })
	return out
}
