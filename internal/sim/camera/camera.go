// Package camera extracts the partial view each agent has of the world.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"ggcore.ai/internal/sim/agents"
	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/encoding"
	"ggcore.ai/internal/sim/world"
)

var (
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrUnknownCamera = errors.New("unknown camera")
	ErrNoEntity      = errors.New("agent has no entity")
)

type Bounds struct {
	Min world.Vec2i `json:"min"`
	Max world.Vec2i `json:"max"`
}

// Observed is an entity projected through the camera channels. ID is always
// present; every other field is set only when its channel is enabled.
type Observed struct {
	ID       world.EntityID `json:"id"`
	Type     string         `json:"type,omitempty"`
	Pos      *world.Vec2i   `json:"pos,omitempty"`
	Health   *int           `json:"health,omitempty"`
	Reward   *int           `json:"reward,omitempty"`
	Owner    string         `json:"owner,omitempty"`
	Blocking *bool          `json:"blocking,omitempty"`
}

type View struct {
	AgentID  string         `json:"agent_id"`
	Tick     uint64         `json:"tick"`
	Center   world.Vec2i    `json:"center"`
	Radius   int            `json:"radius"`
	Shape    config.Shape   `json:"shape"`
	Bounds   Bounds         `json:"bounds"`
	Entities []Observed     `json:"entities"`
	Grid     *encoding.Grid `json:"grid,omitempty"`
}

// Find returns the first observed entity of a type.
func (v View) Find(typeName string) (Observed, bool) {
	for _, e := range v.Entities {
		if e.Type == typeName {
			return e, true
		}
	}
	return Observed{}, false
}

// Camera reads the store and registry without mutating them.
type Camera struct {
	store   *world.Store
	reg     *agents.Registry
	cameras map[string]config.CameraConfig
}

func New(store *world.Store, reg *agents.Registry, cameras map[string]config.CameraConfig) *Camera {
	return &Camera{store: store, reg: reg, cameras: cameras}
}

// Observe builds the agent's view of the current world. Calling it twice with
// no step in between yields identical views.
func (c *Camera) Observe(agentID string) (View, error) {
	ag, ok := c.reg.Get(agentID)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	cam, ok := c.cameras[ag.Config.Camera]
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrUnknownCamera, ag.Config.Camera)
	}
	self, ok := c.store.Get(ag.EntityID)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrNoEntity, agentID)
	}

	region := world.Around(self.Pos, cam.Radius, cam.Shape)
	clipped := region.Clip(c.store.Width(), c.store.Height())
	v := View{
		AgentID:  agentID,
		Center:   self.Pos,
		Radius:   cam.Radius,
		Shape:    cam.Shape,
		Bounds:   Bounds{Min: clipped.Min, Max: clipped.Max},
		Entities: []Observed{},
	}

	visible := c.store.EntitiesIn(region)
	for _, e := range visible {
		v.Entities = append(v.Entities, c.project(e, cam))
	}
	if cam.Has(config.ChannelGrid) {
		g, err := c.grid(clipped, region, visible)
		if err != nil {
			return View{}, err
		}
		v.Grid = &g
	}
	return v, nil
}

func (c *Camera) project(e world.Entity, cam config.CameraConfig) Observed {
	o := Observed{ID: e.ID}
	t, _ := c.store.Type(e.Type)
	for _, ch := range cam.Channels {
		switch ch {
		case config.ChannelType:
			o.Type = e.Type
		case config.ChannelPosition:
			p := e.Pos
			o.Pos = &p
		case config.ChannelHealth:
			h := e.Attrs.Health
			o.Health = &h
		case config.ChannelReward:
			if t.Collectible {
				r := e.Attrs.Reward
				o.Reward = &r
			}
		case config.ChannelOwner:
			if owner, ok := c.reg.OwnerOf(e.ID); ok {
				o.Owner = owner
			}
		case config.ChannelBlocking:
			b := t.Blocking
			o.Blocking = &b
		}
	}
	return o
}

// grid labels every cell of the clipped box with the type of its top entity.
// Cells outside the camera shape are hidden.
func (c *Camera) grid(box, shape world.Region, visible []world.Entity) (encoding.Grid, error) {
	w := box.Max.X - box.Min.X + 1
	h := box.Max.Y - box.Min.Y + 1
	if box.Empty() {
		return encoding.EncodeGrid(0, 0, nil)
	}
	cells := make([]string, w*h)
	top := make([]int, w*h) // rank of the label currently held, -1 when empty
	for i := range top {
		top[i] = -1
	}
	for y := box.Min.Y; y <= box.Max.Y; y++ {
		for x := box.Min.X; x <= box.Max.X; x++ {
			if !shape.Contains(world.Vec2i{X: x, Y: y}) {
				cells[(y-box.Min.Y)*w+(x-box.Min.X)] = encoding.CellHidden
			}
		}
	}
	for _, e := range visible {
		i := (e.Pos.Y-box.Min.Y)*w + (e.Pos.X - box.Min.X)
		t, _ := c.store.Type(e.Type)
		if r := layer(t); r > top[i] {
			top[i] = r
			cells[i] = e.Type
		}
	}
	return encoding.EncodeGrid(w, h, cells)
}

// layer orders what is drawn on top when several entities share a cell.
func layer(t config.EntityType) int {
	switch t.Kind {
	case config.KindUnit:
		return 2
	case config.KindResource:
		return 1
	}
	return 0
}

// ObserveAll builds views for the given agents. With parallel set the views are
// computed concurrently; the store must not be mutated meanwhile.
func (c *Camera) ObserveAll(ctx context.Context, agentIDs []string, parallel bool) (map[string]View, error) {
	out := make(map[string]View, len(agentIDs))
	if !parallel {
		for _, id := range agentIDs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v, err := c.Observe(id)
			if err != nil {
				return nil, err
			}
			out[id] = v
		}
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range agentIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := c.Observe(id)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
