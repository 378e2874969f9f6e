// Package world holds the entity store: every entity in the episode, indexed
// by id and by cell, with the spatial rules that keep blocking entities apart.
package world

import (
	"errors"

	"ggcore.ai/internal/sim/logic/mathx"
)

type EntityID uint64

type Vec2i = mathx.Vec2i

var (
	// ErrSpatialConflict is returned when a spawn or move would put two blocking
	// entities in one cell, or a position lies outside the world.
	ErrSpatialConflict = errors.New("spatial conflict")
	ErrUnknownType     = errors.New("unknown entity type")
	ErrUnknownEntity   = errors.New("unknown entity")
)

type Attrs struct {
	Health    int             `json:"health,omitempty"`
	Reward    int             `json:"reward,omitempty"`
	Inventory map[string]int  `json:"inventory,omitempty"`
	Flags     map[string]bool `json:"flags,omitempty"`
}

func (a Attrs) Clone() Attrs {
	out := a
	if a.Inventory != nil {
		out.Inventory = make(map[string]int, len(a.Inventory))
		for k, v := range a.Inventory {
			out.Inventory[k] = v
		}
	}
	if a.Flags != nil {
		out.Flags = make(map[string]bool, len(a.Flags))
		for k, v := range a.Flags {
			out.Flags[k] = v
		}
	}
	return out
}

type Entity struct {
	ID    EntityID `json:"id"`
	Type  string   `json:"type"`
	Pos   Vec2i    `json:"pos"`
	Attrs Attrs    `json:"attrs"`
}

func (e Entity) Clone() Entity {
	e.Attrs = e.Attrs.Clone()
	return e
}
