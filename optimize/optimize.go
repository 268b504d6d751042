// Package optimize runs the final variational smoothing pass: a fixed
// budget of Jacobi iterations that pull each pixel's depth/similarity
// estimate toward the refined measurement where the local image texture is
// informative and toward its neighborhood where it is flat.
package optimize

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/mvs/compute"
	"go.viam.com/mvs/depth"
	"go.viam.com/mvs/pyramid"
)

// Config carries the iteration budget and the per-iteration step.
type Config struct {
	Iterations int
	// Step scales each Jacobi update, in (0, 1].
	Step float64
}

// Validate reports configuration errors before the iteration starts.
func (c Config) Validate() error {
	if c.Iterations < 1 {
		return errors.Errorf("optimizer iterations must be >= 1, got %d", c.Iterations)
	}
	if c.Step <= 0 || c.Step > 1 {
		return errors.Errorf("optimizer step must be in (0, 1], got %v", c.Step)
	}
	return nil
}

// varianceFloor keeps the data weight finite for near-zero local variance;
// such pixels are driven almost entirely by the smoothness term.
const varianceFloor = 1e-4

// VarianceMap computes, once per reference view, the local lightness
// variance over a (2*halfWindow+1)^2 window per pixel. High variance marks
// texture the data term can trust.
func VarianceMap(img *pyramid.Grid, halfWindow int) (*depth.Grid, error) {
	if halfWindow < 1 {
		return nil, errors.Errorf("variance map half-window must be >= 1, got %d", halfWindow)
	}
	g, err := depth.NewGrid(img.Width(), img.Height())
	if err != nil {
		return nil, err
	}
	side := 2*halfWindow + 1
	window := make([]float64, 0, side*side)
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			window = window[:0]
			for dy := -halfWindow; dy <= halfWindow; dy++ {
				for dx := -halfWindow; dx <= halfWindow; dx++ {
					window = append(window, img.At(x+dx, y+dy).L)
				}
			}
			g.Set(x, y, stat.PopVariance(window, nil))
		}
	}
	return g, nil
}

// Optimize blends the regularized seed map toward the refined map over a
// fixed iteration budget. Each iteration reads only the previous iteration's
// full map (double-buffered Jacobi update): the data weight v/(v+floor)
// pulls toward the refined value, its complement toward the 4-neighbor
// average of the current estimate.
func Optimize(
	ctx context.Context,
	cctx *compute.Context,
	seed, refined *depth.Map,
	variance *depth.Grid,
	cfg Config,
) (*depth.Map, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "depth optimizer")
	}
	if err := depth.CheckSameShape("depth optimizer", seed, refined); err != nil {
		return nil, err
	}
	if err := depth.CheckGridShape("depth optimizer", seed, variance); err != nil {
		return nil, err
	}

	w, h := seed.Width(), seed.Height()
	cur := seed.Clone()
	next, err := depth.NewMap(w, h)
	if err != nil {
		return nil, err
	}

	for it := 0; it < cfg.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := cctx.ForEachPixel(ctx, image.Point{w, h}, func(x, y int) {
			d, sim := cur.Get(x, y)
			rd, rsim := refined.Get(x, y)

			weight := 0.0
			if rd > 0 {
				v := variance.Get(x, y)
				weight = v / (v + varianceFloor)
			}

			var sumN float64
			var numN int
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= w || n[1] >= h {
					continue
				}
				if nd := cur.GetDepth(n[0], n[1]); nd > 0 {
					sumN += nd
					numN++
				}
			}
			smooth := d
			if numN > 0 {
				smooth = sumN / float64(numN)
			}

			target := weight*rd + (1-weight)*smooth
			next.Set(x, y,
				d+cfg.Step*(target-d),
				sim+cfg.Step*weight*(rsim-sim))
		})
		if err != nil {
			return nil, err
		}
		cur, next = next, cur
	}
	return cur, nil
}
