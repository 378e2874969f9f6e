package world

import (
	"ggcore.ai/internal/sim/config"
	"ggcore.ai/internal/sim/logic/mathx"
)

// Region is an inclusive rectangle, optionally narrowed to a shape around Center.
type Region struct {
	Min Vec2i
	Max Vec2i

	Center Vec2i
	Radius int
	Shape  config.Shape // empty: the whole rectangle
}

func Rect(min, max Vec2i) Region {
	return Region{Min: min, Max: max}
}

// Around is the bounding box of a radius around center, filtered by shape.
func Around(center Vec2i, radius int, shape config.Shape) Region {
	return Region{
		Min:    Vec2i{X: center.X - radius, Y: center.Y - radius},
		Max:    Vec2i{X: center.X + radius, Y: center.Y + radius},
		Center: center,
		Radius: radius,
		Shape:  shape,
	}
}

func (r Region) Empty() bool { return r.Min.X > r.Max.X || r.Min.Y > r.Max.Y }

// Clip intersects the rectangle with a width x height grid.
func (r Region) Clip(width, height int) Region {
	if r.Min.X < 0 {
		r.Min.X = 0
	}
	if r.Min.Y < 0 {
		r.Min.Y = 0
	}
	if r.Max.X > width-1 {
		r.Max.X = width - 1
	}
	if r.Max.Y > height-1 {
		r.Max.Y = height - 1
	}
	return r
}

func (r Region) Contains(p Vec2i) bool {
	if p.X < r.Min.X || p.X > r.Max.X || p.Y < r.Min.Y || p.Y > r.Max.Y {
		return false
	}
	switch r.Shape {
	case config.ShapeCircle:
		return mathx.Dist2(p, r.Center) <= r.Radius*r.Radius
	case config.ShapeDiamond:
		return mathx.Manhattan(p, r.Center) <= r.Radius
	case config.ShapeSquare:
		return mathx.Chebyshev(p, r.Center) <= r.Radius
	}
	return true
}
