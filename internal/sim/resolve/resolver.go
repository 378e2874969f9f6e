// Package resolve turns one step's worth of agent actions into world mutations.
//
// Resolution is validate, sort by agent id, apply one at a time, aggregate.
// The lower agent id wins a contested cell; a mutation that fails while being
// applied is rejected whole and never retried within the step.
package resolve

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"go.uber.org/zap"

	"ggcore.ai/internal/protocol"
	"ggcore.ai/internal/sim/action"
	"ggcore.ai/internal/sim/agents"
	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/logic/mathx"
	"ggcore.ai/internal/sim/world"
)

const (
	statusApplied  = protocol.StatusApplied
	statusRejected = protocol.StatusRejected
	statusNoop     = protocol.StatusNoop
)

type Resolver struct {
	store *world.Store
	reg   *agents.Registry
	rng   *rand.Rand
	clamp bool
	log   *zap.Logger
}

// New binds a resolver to the episode state it mutates. rng drives slip
// transitions; it may be nil when no agent has slip weights.
func New(store *world.Store, reg *agents.Registry, rng *rand.Rand, clampMoves bool, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: store, reg: reg, rng: rng, clamp: clampMoves, log: log}
}

type pending struct {
	agentID string
	act     action.Action
	eff     action.Action // after slip
	entity  world.EntityID
	from    world.Vec2i
	to      world.Vec2i
	slipped bool
}

// Resolve validates and applies the actions submitted for one tick.
func (r *Resolver) Resolve(tick uint64, actions map[string]action.Action) Report {
	ids := make([]string, 0, len(actions))
	for id := range actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rep := Report{Tick: tick}
	outcomes := make(map[string]Outcome, len(ids))
	var queue []pending

	// 1. validate
	for _, id := range ids {
		p, out, ok := r.validate(id, actions[id])
		if !ok {
			outcomes[id] = out
			if out.Status == statusRejected {
				r.log.Debug("action rejected",
					zap.Uint64("tick", tick),
					zap.String("agent", id),
					zap.String("code", out.Code),
					zap.String("reason", out.Reason))
			}
			continue
		}
		queue = append(queue, p)
	}

	// 2. sort
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].agentID < queue[j].agentID })

	// 3. apply
	moved := map[world.EntityID]bool{}
	for _, p := range queue {
		out := r.apply(tick, p, moved, &rep)
		outcomes[p.agentID] = out
		if out.Status == statusRejected {
			r.log.Debug("action rejected",
				zap.Uint64("tick", tick),
				zap.String("agent", p.agentID),
				zap.String("code", out.Code),
				zap.String("reason", out.Reason))
		}
	}

	// 4. aggregate
	rep.Outcomes = make([]Outcome, 0, len(ids))
	for _, id := range ids {
		rep.Outcomes = append(rep.Outcomes, outcomes[id])
	}
	return rep
}

func reject(id string, a action.Action, code, format string, args ...any) Outcome {
	return Outcome{AgentID: id, Action: a, Status: statusRejected, Code: code, Reason: fmt.Sprintf(format, args...)}
}

func (r *Resolver) validate(id string, a action.Action) (pending, Outcome, bool) {
	ag, ok := r.reg.Get(id)
	if !ok {
		return pending{}, reject(id, a, protocol.ErrUnknownAgent, "no agent %q", id), false
	}
	if !ag.Active {
		return pending{}, reject(id, a, protocol.ErrNotActive, "agent is eliminated"), false
	}
	switch a.Kind {
	case action.KindNoop, action.KindMove, action.KindInteract:
	default:
		return pending{}, reject(id, a, protocol.ErrBadRequest, "unknown action kind %q", a.Kind), false
	}
	if !ag.Config.Allows(string(a.Kind)) {
		return pending{}, reject(id, a, protocol.ErrNotAllowed, "%s not allowed for this agent", a.Kind), false
	}
	if a.Kind == action.KindNoop {
		return pending{}, Outcome{AgentID: id, Action: a, Status: statusNoop, Code: protocol.CodeOK}, false
	}
	self, ok := r.store.Get(ag.EntityID)
	if !ok {
		return pending{}, reject(id, a, protocol.ErrNotActive, "agent has no entity"), false
	}
	p := pending{agentID: id, act: a, eff: a, entity: self.ID, from: self.Pos}

	switch a.Kind {
	case action.KindMove:
		if a.DX == 0 && a.DY == 0 {
			return pending{}, reject(id, a, protocol.ErrBadRequest, "zero move"), false
		}
		if !ag.Config.Diagonal && a.DX != 0 && a.DY != 0 {
			return pending{}, reject(id, a, protocol.ErrBadRequest, "diagonal moves not allowed"), false
		}
		if n := mathx.Chebyshev(world.Vec2i{}, world.Vec2i{X: a.DX, Y: a.DY}); n > ag.Config.MoveRange {
			return pending{}, reject(id, a, protocol.ErrBadRequest, "move of %d exceeds range %d", n, ag.Config.MoveRange), false
		}
		if q := r.slip(ag.Config.Transition); q != 0 {
			p.eff = a.Rotate(q)
			p.slipped = true
		}
		to := self.Pos.Add(p.eff.DX, p.eff.DY)
		if !r.store.InBounds(to) {
			if !r.clamp {
				out := reject(id, a, protocol.ErrOutOfBounds, "destination %v outside %dx%d world", to, r.store.Width(), r.store.Height())
				out.Slipped = p.slipped
				return pending{}, out, false
			}
			to.X = mathx.Clamp(to.X, 0, r.store.Width()-1)
			to.Y = mathx.Clamp(to.Y, 0, r.store.Height()-1)
		}
		p.to = to
	case action.KindInteract:
		target, ok := r.store.Get(a.Target)
		if !ok || a.Target == self.ID {
			return pending{}, reject(id, a, protocol.ErrInvalidTarget, "no interactable entity %d", a.Target), false
		}
		t, _ := r.store.Type(target.Type)
		if !t.Collectible && target.Attrs.Health <= 0 {
			return pending{}, reject(id, a, protocol.ErrInvalidTarget, "entity %d (%s) is not interactable", target.ID, target.Type), false
		}
		if d := mathx.Chebyshev(self.Pos, target.Pos); d > ag.Config.Reach {
			return pending{}, reject(id, a, protocol.ErrOutOfReach, "entity %d is %d cells away, reach %d", target.ID, d, ag.Config.Reach), false
		}
		p.to = target.Pos
	}
	return p, Outcome{}, true
}

// slip draws the rotation for a move from [intended, cw, opposite, ccw] weights.
func (r *Resolver) slip(w [4]float64) int {
	total := 0.0
	nonzero := 0
	for _, x := range w {
		if x > 0 {
			total += x
			nonzero++
		}
	}
	if nonzero <= 1 || r.rng == nil {
		for i, x := range w {
			if x > 0 {
				return i
			}
		}
		return 0
	}
	v := r.rng.Float64() * total
	for i, x := range w {
		if x <= 0 {
			continue
		}
		if v < x {
			return i
		}
		v -= x
	}
	for i := 3; i >= 0; i-- {
		if w[i] > 0 {
			return i
		}
	}
	return 0
}

func (r *Resolver) apply(tick uint64, p pending, moved map[world.EntityID]bool, rep *Report) Outcome {
	out := Outcome{AgentID: p.agentID, Action: p.act, Slipped: p.slipped}
	if !r.reg.IsActive(p.agentID) {
		out.Status, out.Code, out.Reason = statusRejected, protocol.ErrNotActive, "eliminated earlier this step"
		return out
	}
	switch p.act.Kind {
	case action.KindMove:
		return r.applyMove(tick, p, moved, rep, out)
	case action.KindInteract:
		return r.applyInteract(tick, p, rep, out)
	}
	out.Status, out.Code = statusNoop, protocol.CodeOK
	return out
}

func (r *Resolver) applyMove(tick uint64, p pending, moved map[world.EntityID]bool, rep *Report, out Outcome) Outcome {
	from, to := p.from, p.to
	out.From, out.To = &from, &to
	if err := r.store.Move(p.entity, p.to); err != nil {
		out.Status = statusRejected
		out.Code = protocol.ErrBlocked
		for _, e := range r.store.At(p.to) {
			if t, _ := r.store.Type(e.Type); t.Blocking && moved[e.ID] {
				out.Code = protocol.ErrConflict
				break
			}
		}
		out.Reason = fmt.Sprintf("cannot enter %v: %v", p.to, err)
		return out
	}
	if p.to != p.from {
		moved[p.entity] = true
	}
	out.Status, out.Code = statusApplied, protocol.CodeOK
	r.contact(tick, p.agentID, p.entity, rep)
	return out
}

// contact runs the effects of arriving in a cell: lethal contact first, then
// pickup of collectibles by a surviving collector.
func (r *Resolver) contact(tick uint64, agentID string, mover world.EntityID, rep *Report) {
	me, ok := r.store.Get(mover)
	if !ok {
		return
	}
	mt, _ := r.store.Type(me.Type)
	others := r.store.At(me.Pos)
	for _, o := range others {
		if o.ID == mover {
			continue
		}
		ot, _ := r.store.Type(o.Type)
		switch {
		case mt.Lethal && !ot.Lethal:
			if owner, ok := r.reg.OwnerOf(o.ID); ok {
				r.eliminate(tick, owner, protocol.CauseCaught, o, rep)
			}
		case ot.Lethal && !mt.Lethal:
			r.eliminate(tick, agentID, protocol.CauseCaught, me, rep)
		}
	}
	if !r.reg.IsActive(agentID) || !mt.Collector {
		return
	}
	for _, o := range others {
		if ot, _ := r.store.Type(o.Type); o.ID != mover && ot.Collectible {
			r.collect(tick, agentID, o, rep)
		}
	}
}

func (r *Resolver) applyInteract(tick uint64, p pending, rep *Report, out Outcome) Outcome {
	target, ok := r.store.Get(p.act.Target)
	if !ok {
		out.Status, out.Code, out.Reason = statusRejected, protocol.ErrTargetGone, fmt.Sprintf("entity %d no longer exists", p.act.Target)
		return out
	}
	self, _ := r.store.Get(p.entity)
	ag, _ := r.reg.Get(p.agentID)
	if d := mathx.Chebyshev(self.Pos, target.Pos); d > ag.Config.Reach {
		out.Status, out.Code, out.Reason = statusRejected, protocol.ErrOutOfReach, fmt.Sprintf("entity %d moved out of reach", target.ID)
		return out
	}
	out.Status, out.Code = statusApplied, protocol.CodeOK
	if t, _ := r.store.Type(target.Type); t.Collectible {
		r.collect(tick, p.agentID, target, rep)
		return out
	}

	dmg := ag.Config.Damage
	_ = r.store.UpdateAttrs(target.ID, func(a *world.Attrs) { a.Health -= dmg })
	after, _ := r.store.Get(target.ID)
	pos := after.Pos
	rep.Events = append(rep.Events, Event{
		Kind: protocol.EventDamaged, AgentID: p.agentID, EntityID: target.ID,
		Type: target.Type, Value: dmg, Pos: &pos,
	})
	if after.Attrs.Health > 0 {
		return out
	}
	_ = r.store.Remove(target.ID)
	rep.Events = append(rep.Events, Event{
		Kind: protocol.EventDestroyed, AgentID: p.agentID, EntityID: target.ID, Type: target.Type, Pos: &pos,
	})
	if owner, ok := r.reg.OwnerOf(target.ID); ok {
		r.eliminate(tick, owner, protocol.CauseDestroyed, target, rep)
	}
	return out
}

func (r *Resolver) collect(tick uint64, agentID string, e world.Entity, rep *Report) {
	if err := r.store.Remove(e.ID); err != nil {
		return
	}
	_ = r.reg.AddScore(agentID, e.Attrs.Reward)
	pos := e.Pos
	rep.Events = append(rep.Events, Event{
		Kind: protocol.EventCollected, AgentID: agentID, EntityID: e.ID, Type: e.Type, Value: e.Attrs.Reward, Pos: &pos,
	})
	r.log.Debug("collected",
		zap.Uint64("tick", tick),
		zap.String("agent", agentID),
		zap.Uint64("entity", uint64(e.ID)),
		zap.Int("reward", e.Attrs.Reward))
}

func (r *Resolver) eliminate(tick uint64, agentID, cause string, e world.Entity, rep *Report) {
	if !r.reg.IsActive(agentID) {
		return
	}
	_ = r.reg.Eliminate(agentID, tick, cause)
	pos := e.Pos
	rep.Events = append(rep.Events, Event{
		Kind: protocol.EventEliminated, AgentID: agentID, EntityID: e.ID, Type: e.Type, Pos: &pos, Reason: cause,
	})
	r.log.Info("agent eliminated",
		zap.Uint64("tick", tick),
		zap.String("agent", agentID),
		zap.String("cause", cause))
}

// ValidKinds lists the action kinds an agent config permits, NOOP first.
func ValidKinds(c config.AgentConfig) []action.Kind {
	out := []action.Kind{action.KindNoop}
	for _, k := range []action.Kind{action.KindMove, action.KindInteract} {
		if c.Allows(string(k)) {
			out = append(out, k)
		}
	}
	return out
}
