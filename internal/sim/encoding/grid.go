package encoding

import (
	"fmt"
	"sort"
)

// Palette entries with fixed indices.
const (
	CellEmpty  = ""
	CellHidden = "?"
)

// Grid is a row-major width x height block of cell labels, run-length encoded
// against a palette. Palette[0] is always CellEmpty and Palette[1] CellHidden;
// the remaining labels are sorted.
type Grid struct {
	Width   int      `json:"w"`
	Height  int      `json:"h"`
	Palette []string `json:"palette"`
	RLE     string   `json:"rle"`
}

func EncodeGrid(width, height int, cells []string) (Grid, error) {
	if width < 0 || height < 0 || len(cells) != width*height {
		return Grid{}, fmt.Errorf("grid %dx%d does not match %d cells", width, height, len(cells))
	}
	seen := map[string]bool{}
	var labels []string
	for _, c := range cells {
		if c == CellEmpty || c == CellHidden || seen[c] {
			continue
		}
		seen[c] = true
		labels = append(labels, c)
	}
	sort.Strings(labels)
	palette := append([]string{CellEmpty, CellHidden}, labels...)
	if len(palette) > 0xFFFF {
		return Grid{}, fmt.Errorf("palette too large: %d", len(palette))
	}
	index := make(map[string]uint16, len(palette))
	for i, p := range palette {
		index[p] = uint16(i)
	}
	ids := make([]uint16, len(cells))
	for i, c := range cells {
		ids[i] = index[c]
	}
	return Grid{Width: width, Height: height, Palette: palette, RLE: EncodeRLE(ids)}, nil
}

// Cells decodes the grid back into row-major labels.
func (g Grid) Cells() ([]string, error) {
	n := g.Width * g.Height
	ids, err := DecodeRLE(g.RLE, n)
	if err != nil {
		return nil, err
	}
	if len(ids) != n {
		return nil, fmt.Errorf("grid: decoded %d cells, want %d", len(ids), n)
	}
	out := make([]string, n)
	for i, id := range ids {
		if int(id) >= len(g.Palette) {
			return nil, fmt.Errorf("grid: palette index %d out of range", id)
		}
		out[i] = g.Palette[id]
	}
	return out, nil
}

// At returns the label at column x, row y.
func (g Grid) At(cells []string, x, y int) string {
	return cells[y*g.Width+x]
}
