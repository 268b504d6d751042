// Package pyramid supplies the per-camera color data the kernels sample:
// level 0 is the full-resolution image converted to the perceptually uniform
// Lab space, each further level is a Gaussian-downscaled copy. All sampling
// is clamped to the image bounds.
package pyramid

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// Color is one Lab sample. L is lightness; A and B are the chroma axes.
type Color struct {
	L, A, B float64
}

// Distance is the euclidean Lab distance, the dissimilarity measure used by
// the bilateral patch weights.
func (c Color) Distance(o Color) float64 {
	dl := c.L - o.L
	da := c.A - o.A
	db := c.B - o.B
	return math.Sqrt(dl*dl + da*da + db*db)
}

// SampleMode selects how non-integer coordinates are resolved.
type SampleMode int

const (
	// SampleNearest rounds to the nearest pixel.
	SampleNearest SampleMode = iota
	// SampleBilinear interpolates the four surrounding pixels.
	SampleBilinear
)

// Grid is one pyramid level: a width x height grid of Lab samples.
type Grid struct {
	width, height int
	pix           []Color
}

// NewGrid returns a zeroed (black) grid.
func NewGrid(width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid grid size (%d, %d)", width, height)
	}
	return &Grid{width: width, height: height, pix: make([]Color, width*height)}, nil
}

// FromImage converts an image to a Lab grid.
func FromImage(img image.Image) (*Grid, error) {
	b := img.Bounds()
	g, err := NewGrid(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			c, ok := colorful.MakeColor(img.At(b.Min.X+x, b.Min.Y+y))
			if !ok {
				// fully transparent pixel, keep black
				continue
			}
			l, a, bb := c.Lab()
			// go-colorful's Lab is normalized to ~[0,1]; scale to the
			// conventional [0,100] lightness range.
			g.pix[y*g.width+x] = Color{L: l * 100, A: a * 100, B: bb * 100}
		}
	}
	return g, nil
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// At returns the sample at (x, y), clamped to the grid bounds.
func (g *Grid) At(x, y int) Color {
	x = clampInt(x, 0, g.width-1)
	y = clampInt(y, 0, g.height-1)
	return g.pix[y*g.width+x]
}

// Set writes the sample at (x, y). Out-of-bounds writes are dropped.
func (g *Grid) Set(x, y int, c Color) {
	if x < 0 || y < 0 || x >= g.width || y >= g.height {
		return
	}
	g.pix[y*g.width+x] = c
}

// Bilinear returns the bilinearly interpolated sample at (u, v) with clamped
// addressing.
func (g *Grid) Bilinear(u, v float64) Color {
	x0 := clampInt(int(math.Floor(u)), 0, g.width-1)
	y0 := clampInt(int(math.Floor(v)), 0, g.height-1)
	x1 := clampInt(x0+1, 0, g.width-1)
	y1 := clampInt(y0+1, 0, g.height-1)
	fx := u - math.Floor(u)
	fy := v - math.Floor(v)
	if u < 0 {
		fx = 0
	}
	if v < 0 {
		fy = 0
	}

	c00 := g.pix[y0*g.width+x0]
	c10 := g.pix[y0*g.width+x1]
	c01 := g.pix[y1*g.width+x0]
	c11 := g.pix[y1*g.width+x1]
	lerp := func(a, b, t float64) float64 { return a + (b-a)*t }
	top := Color{lerp(c00.L, c10.L, fx), lerp(c00.A, c10.A, fx), lerp(c00.B, c10.B, fx)}
	bot := Color{lerp(c01.L, c11.L, fx), lerp(c01.A, c11.A, fx), lerp(c01.B, c11.B, fx)}
	return Color{lerp(top.L, bot.L, fy), lerp(top.A, bot.A, fy), lerp(top.B, bot.B, fy)}
}

// Sample resolves (u, v) under the given mode.
func (g *Grid) Sample(mode SampleMode, u, v float64) Color {
	if mode == SampleBilinear {
		return g.Bilinear(u, v)
	}
	return g.At(int(math.Round(u)), int(math.Round(v)))
}

// Pyramid is the fixed ordered set of scale levels for one camera.
type Pyramid struct {
	levels []*Grid
}

// New builds a pyramid with the given level count. Level 0 is the input at
// full resolution; each further level halves the previous one with a
// Gaussian filter before Lab conversion.
func New(img image.Image, levels int) (*Pyramid, error) {
	if levels < 1 {
		return nil, errors.Errorf("pyramid needs at least 1 level, got %d", levels)
	}
	p := &Pyramid{levels: make([]*Grid, 0, levels)}
	cur := imaging.Clone(img)
	for i := 0; i < levels; i++ {
		g, err := FromImage(cur)
		if err != nil {
			return nil, errors.Wrapf(err, "building pyramid level %d", i)
		}
		p.levels = append(p.levels, g)
		if i == levels-1 {
			break
		}
		w := cur.Bounds().Dx() / 2
		h := cur.Bounds().Dy() / 2
		if w < 1 || h < 1 {
			return nil, errors.Errorf("pyramid level %d would be empty (%dx%d)", i+1, w, h)
		}
		cur = imaging.Resize(cur, w, h, imaging.Gaussian)
	}
	return p, nil
}

// NumLevels returns the fixed level count.
func (p *Pyramid) NumLevels() int { return len(p.levels) }

// Level returns the grid at the given scale level.
func (p *Pyramid) Level(i int) (*Grid, error) {
	if i < 0 || i >= len(p.levels) {
		return nil, errors.Errorf("pyramid has %d levels, no level %d", len(p.levels), i)
	}
	return p.levels[i], nil
}
