// Package depth defines the data types exchanged between pipeline stages:
// the global depth-hypothesis sequence, per-pixel depth/similarity maps, and
// scalar per-pixel grids.
package depth

import (
	"github.com/pkg/errors"
)

// Scores are costs: lower means more similar.
const (
	// MinScore is the best possible score, also the sentinel for a
	// degenerate comparison of two identical flat patches.
	MinScore float32 = 0
	// MaxScore is the worst possible score, the "no information" sentinel
	// for out-of-bounds projections and the seed value of the first
	// aggregation slice.
	MaxScore float32 = 2
)

// Hypotheses is the ordered global sequence of candidate depths shared by
// all pixels of a sweep.
type Hypotheses []float64

// Validate checks the ordering the interpolation steps rely on.
func (h Hypotheses) Validate() error {
	if len(h) == 0 {
		return errors.New("depth hypotheses are empty")
	}
	asc := h[len(h)-1] >= h[0]
	for i := 1; i < len(h); i++ {
		if asc && h[i] <= h[i-1] {
			return errors.Errorf("depth hypotheses not strictly monotonic at index %d", i)
		}
		if !asc && h[i] >= h[i-1] {
			return errors.Errorf("depth hypotheses not strictly monotonic at index %d", i)
		}
	}
	return nil
}

// Map is a per-pixel (depth, similarity) grid, the unit of progress between
// pipeline stages.
type Map struct {
	width, height int
	depths        []float64
	sims          []float64
}

// NewMap returns a zeroed map.
func NewMap(width, height int) (*Map, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid map size (%d, %d)", width, height)
	}
	return &Map{
		width:  width,
		height: height,
		depths: make([]float64, width*height),
		sims:   make([]float64, width*height),
	}, nil
}

func (m *Map) Width() int  { return m.width }
func (m *Map) Height() int { return m.height }

// Get returns the (depth, similarity) pair at (x, y).
func (m *Map) Get(x, y int) (float64, float64) {
	i := y*m.width + x
	return m.depths[i], m.sims[i]
}

// GetDepth returns only the depth channel at (x, y).
func (m *Map) GetDepth(x, y int) float64 {
	return m.depths[y*m.width+x]
}

// GetSimilarity returns only the similarity channel at (x, y).
func (m *Map) GetSimilarity(x, y int) float64 {
	return m.sims[y*m.width+x]
}

// Set writes the (depth, similarity) pair at (x, y).
func (m *Map) Set(x, y int, d, sim float64) {
	i := y*m.width + x
	m.depths[i] = d
	m.sims[i] = sim
}

// Clone returns an independent copy.
func (m *Map) Clone() *Map {
	out := &Map{
		width:  m.width,
		height: m.height,
		depths: make([]float64, len(m.depths)),
		sims:   make([]float64, len(m.sims)),
	}
	copy(out.depths, m.depths)
	copy(out.sims, m.sims)
	return out
}

// CheckSameShape returns a configuration error naming the stage when two
// maps disagree in size.
func CheckSameShape(stage string, a, b *Map) error {
	if a.width != b.width || a.height != b.height {
		return errors.Errorf("%s: map size mismatch (%d, %d) != (%d, %d)",
			stage, a.width, a.height, b.width, b.height)
	}
	return nil
}

// Grid is a scalar per-pixel grid (pixel-size and variance maps).
type Grid struct {
	width, height int
	vals          []float64
}

// NewGrid returns a zeroed grid.
func NewGrid(width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid grid size (%d, %d)", width, height)
	}
	return &Grid{width: width, height: height, vals: make([]float64, width*height)}, nil
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }

// Get returns the value at (x, y).
func (g *Grid) Get(x, y int) float64 { return g.vals[y*g.width+x] }

// Set writes the value at (x, y).
func (g *Grid) Set(x, y int, v float64) { g.vals[y*g.width+x] = v }

// CheckGridShape returns a configuration error naming the stage when a map
// and a scalar grid disagree in size.
func CheckGridShape(stage string, m *Map, g *Grid) error {
	if m.width != g.width || m.height != g.height {
		return errors.Errorf("%s: grid size mismatch (%d, %d) != (%d, %d)",
			stage, m.width, m.height, g.width, g.height)
	}
	return nil
}
