package mathx

import (
	"encoding/json"
	"fmt"
)

// Vec2i is a grid cell coordinate. It encodes as a two element JSON array [x, y].
type Vec2i struct {
	X int
	Y int
}

func (v Vec2i) ToArray() [2]int { return [2]int{v.X, v.Y} }

func (v Vec2i) Add(dx, dy int) Vec2i { return Vec2i{X: v.X + dx, Y: v.Y + dy} }

func (v Vec2i) String() string { return fmt.Sprintf("(%d,%d)", v.X, v.Y) }

func (v Vec2i) MarshalJSON() ([]byte, error) { return json.Marshal(v.ToArray()) }

func (v *Vec2i) UnmarshalJSON(b []byte) error {
	var a [2]int
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	v.X, v.Y = a[0], a[1]
	return nil
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func Sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func Clamp(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Chebyshev is the king-move distance.
func Chebyshev(a, b Vec2i) int {
	dx := AbsInt(a.X - b.X)
	dy := AbsInt(a.Y - b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

func Manhattan(a, b Vec2i) int {
	return AbsInt(a.X-b.X) + AbsInt(a.Y-b.Y)
}

// Dist2 is the squared Euclidean distance.
func Dist2(a, b Vec2i) int {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Mix64 is the splitmix64 finalizer. Used to derive secondary seeds.
func Mix64(z uint64) uint64 { return mix64(z) }

func Hash2(seed uint64, x, y int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	v := seed ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
