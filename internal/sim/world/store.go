package world

import (
	"fmt"
	"sort"

	"ggcore.ai/internal/sim/config"
)

// Store owns every entity of an episode. Entities live in a contiguous slot
// slice (swap-remove) with an id index and a per-cell index for spatial queries.
// Ids are assigned monotonically and never reused.
//
// Store is not safe for concurrent mutation; concurrent readers are fine while
// no mutation is in flight.
type Store struct {
	width  int
	height int
	types  map[string]config.EntityType

	slots  []Entity
	index  map[EntityID]int
	cells  [][]EntityID // width*height, each sorted by id
	nextID EntityID
}

func New(width, height int, types map[string]config.EntityType) *Store {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	t := make(map[string]config.EntityType, len(types))
	for k, v := range types {
		if v.Name == "" {
			v.Name = k
		}
		t[k] = v
	}
	return &Store{
		width:  width,
		height: height,
		types:  t,
		index:  map[EntityID]int{},
		cells:  make([][]EntityID, width*height),
		nextID: 1,
	}
}

func (s *Store) Width() int  { return s.width }
func (s *Store) Height() int { return s.height }
func (s *Store) Len() int    { return len(s.slots) }

func (s *Store) InBounds(p Vec2i) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < s.width && p.Y < s.height
}

func (s *Store) Type(name string) (config.EntityType, bool) {
	t, ok := s.types[name]
	return t, ok
}

// TypeOf returns the entity type of a live entity.
func (s *Store) TypeOf(id EntityID) (config.EntityType, bool) {
	i, ok := s.index[id]
	if !ok {
		return config.EntityType{}, false
	}
	return s.Type(s.slots[i].Type)
}

// DefaultAttrs returns the attributes an entity of the type starts with.
func (s *Store) DefaultAttrs(typeName string) Attrs {
	t := s.types[typeName]
	return Attrs{Health: t.Health, Reward: t.Reward}
}

func (s *Store) cell(p Vec2i) int { return p.Y*s.width + p.X }

// Blocked reports whether a blocking entity occupies p. Out-of-bounds cells are blocked.
func (s *Store) Blocked(p Vec2i) bool {
	return s.blockedExcept(p, 0)
}

func (s *Store) blockedExcept(p Vec2i, self EntityID) bool {
	if !s.InBounds(p) {
		return true
	}
	for _, id := range s.cells[s.cell(p)] {
		if id == self {
			continue
		}
		if t, _ := s.TypeOf(id); t.Blocking {
			return true
		}
	}
	return false
}

// canEnter applies the occupancy rule for an entity of type t entering p.
// Phasing entities that are not blocking themselves pass through blocking occupants.
func (s *Store) canEnter(t config.EntityType, p Vec2i, self EntityID) error {
	if !s.InBounds(p) {
		return fmt.Errorf("%w: %v out of bounds", ErrSpatialConflict, p)
	}
	if t.Phasing && !t.Blocking {
		return nil
	}
	if s.blockedExcept(p, self) {
		return fmt.Errorf("%w: %v occupied by a blocking entity", ErrSpatialConflict, p)
	}
	return nil
}

// Spawn places a new entity. A nil attrs uses the type defaults.
func (s *Store) Spawn(typeName string, pos Vec2i, attrs *Attrs) (EntityID, error) {
	t, ok := s.types[typeName]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	if err := s.canEnter(t, pos, 0); err != nil {
		return 0, err
	}
	a := s.DefaultAttrs(typeName)
	if attrs != nil {
		a = attrs.Clone()
	}
	id := s.nextID
	s.nextID++
	s.index[id] = len(s.slots)
	s.slots = append(s.slots, Entity{ID: id, Type: typeName, Pos: pos, Attrs: a})
	c := s.cell(pos)
	s.cells[c] = insertID(s.cells[c], id)
	return id, nil
}

func (s *Store) Remove(id EntityID) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	e := s.slots[i]
	c := s.cell(e.Pos)
	s.cells[c] = removeID(s.cells[c], id)

	last := len(s.slots) - 1
	if i != last {
		s.slots[i] = s.slots[last]
		s.index[s.slots[i].ID] = i
	}
	s.slots[last] = Entity{}
	s.slots = s.slots[:last]
	delete(s.index, id)
	return nil
}

// Get returns a copy of the entity.
func (s *Store) Get(id EntityID) (Entity, bool) {
	i, ok := s.index[id]
	if !ok {
		return Entity{}, false
	}
	return s.slots[i].Clone(), true
}

// Move relocates an entity under the same occupancy rules as Spawn.
func (s *Store) Move(id EntityID, to Vec2i) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	e := &s.slots[i]
	if e.Pos == to {
		return nil
	}
	t := s.types[e.Type]
	if err := s.canEnter(t, to, id); err != nil {
		return err
	}
	from := s.cell(e.Pos)
	s.cells[from] = removeID(s.cells[from], id)
	c := s.cell(to)
	s.cells[c] = insertID(s.cells[c], id)
	e.Pos = to
	return nil
}

func (s *Store) UpdateAttrs(id EntityID, fn func(*Attrs)) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	fn(&s.slots[i].Attrs)
	return nil
}

// At returns copies of the entities in one cell, sorted by id.
func (s *Store) At(p Vec2i) []Entity {
	if !s.InBounds(p) {
		return nil
	}
	ids := s.cells[s.cell(p)]
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.slots[s.index[id]].Clone())
	}
	return out
}

// EntitiesIn returns copies of the entities inside r, ordered by y, then x, then id.
func (s *Store) EntitiesIn(r Region) []Entity {
	r = r.Clip(s.width, s.height)
	if r.Empty() {
		return nil
	}
	var out []Entity
	for y := r.Min.Y; y <= r.Max.Y; y++ {
		for x := r.Min.X; x <= r.Max.X; x++ {
			p := Vec2i{X: x, Y: y}
			ids := s.cells[s.cell(p)]
			if len(ids) == 0 || !r.Contains(p) {
				continue
			}
			for _, id := range ids {
				out = append(out, s.slots[s.index[id]].Clone())
			}
		}
	}
	return out
}

// Count returns the number of live entities of a type.
func (s *Store) Count(typeName string) int {
	n := 0
	for i := range s.slots {
		if s.slots[i].Type == typeName {
			n++
		}
	}
	return n
}

// Snapshot returns copies of every entity sorted by id.
func (s *Store) Snapshot() []Entity {
	out := make([]Entity, len(s.slots))
	for i := range s.slots {
		out[i] = s.slots[i].Clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clone returns an independent copy. Entity types are shared; they are never
// mutated after New.
func (s *Store) Clone() *Store {
	out := &Store{
		width:  s.width,
		height: s.height,
		types:  s.types,
		slots:  make([]Entity, len(s.slots)),
		index:  make(map[EntityID]int, len(s.index)),
		cells:  make([][]EntityID, len(s.cells)),
		nextID: s.nextID,
	}
	for i := range s.slots {
		out.slots[i] = s.slots[i].Clone()
	}
	for id, i := range s.index {
		out.index[id] = i
	}
	for c, ids := range s.cells {
		if len(ids) > 0 {
			out.cells[c] = append([]EntityID(nil), ids...)
		}
	}
	return out
}

// NextID is the id the next spawn will receive.
func (s *Store) NextID() EntityID { return s.nextID }

func insertID(ids []EntityID, id EntityID) []EntityID {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeID(ids []EntityID, id EntityID) []EntityID {
	for i, x := range ids {
		if x == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
