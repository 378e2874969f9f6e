// Package action defines the per-agent commands submitted each step.
package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ggcore.ai/internal/sim/world"
)

type Kind string

const (
	KindNoop     Kind = "NOOP"
	KindMove     Kind = "MOVE"
	KindInteract Kind = "INTERACT"
)

// Action is a tagged union: DX/DY are meaningful for MOVE, Target for INTERACT.
type Action struct {
	Kind   Kind           `json:"kind"`
	DX     int            `json:"dx,omitempty"`
	DY     int            `json:"dy,omitempty"`
	Target world.EntityID `json:"target,omitempty"`
}

func Noop() Action                          { return Action{Kind: KindNoop} }
func Move(dx, dy int) Action                { return Action{Kind: KindMove, DX: dx, DY: dy} }
func Interact(target world.EntityID) Action { return Action{Kind: KindInteract, Target: target} }

// Cardinal shorthands. Y grows downwards.
var (
	Up    = Move(0, -1)
	Right = Move(1, 0)
	Down  = Move(0, 1)
	Left  = Move(-1, 0)
)

var ErrParse = errors.New("bad action")

var shorthands = map[string]Action{
	"UP":    Up,
	"RIGHT": Right,
	"DOWN":  Down,
	"LEFT":  Left,
	"NOOP":  Noop(),
}

// Parse reads the textual form: NOOP, UP/DOWN/LEFT/RIGHT, "MOVE dx dy" or "INTERACT id".
func Parse(s string) (Action, error) {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return Action{}, fmt.Errorf("%w: empty", ErrParse)
	}
	if a, ok := shorthands[fields[0]]; ok && len(fields) == 1 {
		return a, nil
	}
	switch Kind(fields[0]) {
	case KindMove:
		if len(fields) != 3 {
			return Action{}, fmt.Errorf("%w: MOVE needs dx dy", ErrParse)
		}
		dx, err1 := strconv.Atoi(fields[1])
		dy, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			return Action{}, fmt.Errorf("%w: %q", ErrParse, s)
		}
		return Move(dx, dy), nil
	case KindInteract:
		if len(fields) != 2 {
			return Action{}, fmt.Errorf("%w: INTERACT needs a target", ErrParse)
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return Action{}, fmt.Errorf("%w: %q", ErrParse, s)
		}
		return Interact(world.EntityID(id)), nil
	}
	return Action{}, fmt.Errorf("%w: %q", ErrParse, s)
}

func (a Action) String() string {
	switch a.Kind {
	case KindMove:
		for name, sh := range shorthands {
			if sh == a && name != "NOOP" {
				return name
			}
		}
		return fmt.Sprintf("MOVE %d %d", a.DX, a.DY)
	case KindInteract:
		return fmt.Sprintf("INTERACT %d", a.Target)
	case KindNoop:
		return "NOOP"
	}
	return string(a.Kind)
}

// Rotate turns a move clockwise by quarter turns. Other kinds are returned unchanged.
func (a Action) Rotate(quarters int) Action {
	if a.Kind != KindMove {
		return a
	}
	q := ((quarters % 4) + 4) % 4
	for i := 0; i < q; i++ {
		a.DX, a.DY = -a.DY, a.DX
	}
	return a
}
