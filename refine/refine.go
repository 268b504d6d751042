// Package refine sharpens a per-pixel seed depth by a local 1-D search
// against a single target view: a handful of depth offsets around the seed
// are scored, the best is kept, and a parabolic fit over its two neighbors
// produces a sub-step depth and similarity. It is the standalone single-pair
// refinement primitive and needs no cost volume.
package refine

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/mvs/camera"
	"go.viam.com/mvs/compute"
	"go.viam.com/mvs/depth"
	"go.viam.com/mvs/patch"
)

// Config carries the search and patch parameters.
type Config struct {
	// Steps is the number of depth offsets tried per pixel, odd so the
	// search is centered on the seed.
	Steps int
	Patch patch.Config
}

// Validate reports configuration errors before the search starts.
func (c Config) Validate() error {
	if c.Steps < 3 || c.Steps%2 == 0 {
		return errors.Errorf("refinement steps must be odd and >= 3, got %d", c.Steps)
	}
	return c.Patch.Validate()
}

// PixelSizeMap builds the per-pixel depth step grid for a seed map: the
// world footprint of one pixel of the reference camera at the seed depth.
func PixelSizeMap(ref *camera.Camera, seed *depth.Map) (*depth.Grid, error) {
	if ref.Width != seed.Width() || ref.Height != seed.Height() {
		return nil, errors.Errorf("pixel-size map: camera size (%d, %d) does not match seed map (%d, %d)",
			ref.Width, ref.Height, seed.Width(), seed.Height())
	}
	g, err := depth.NewGrid(seed.Width(), seed.Height())
	if err != nil {
		return nil, err
	}
	for y := 0; y < seed.Height(); y++ {
		for x := 0; x < seed.Width(); x++ {
			g.Set(x, y, ref.PixelWorldSize(seed.GetDepth(x, y)))
		}
	}
	return g, nil
}

// Refine searches cfg.Steps depth offsets of one pixel-size step around each
// pixel's seed depth against the single target view, then interpolates a
// sub-step (depth, similarity) pair from the scores at the best offset and
// its two neighbors. A non-convex score triple falls back to the unrefined
// best-step pair. Pixels with a non-positive seed depth or step pass through
// with the no-information score.
func Refine(
	ctx context.Context,
	cctx *compute.Context,
	ref, target camera.View,
	seed *depth.Map,
	pixelSize *depth.Grid,
	cfg Config,
) (*depth.Map, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "refinement engine")
	}
	if err := camera.CheckView(ref); err != nil {
		return nil, errors.Wrap(err, "refinement engine: reference")
	}
	if err := camera.CheckView(target); err != nil {
		return nil, errors.Wrap(err, "refinement engine: target")
	}
	if ref.Camera.Width != seed.Width() || ref.Camera.Height != seed.Height() {
		return nil, errors.Errorf("refinement engine: seed map (%d, %d) does not match reference view (%d, %d)",
			seed.Width(), seed.Height(), ref.Camera.Width, ref.Camera.Height)
	}
	if err := depth.CheckGridShape("refinement engine", seed, pixelSize); err != nil {
		return nil, err
	}
	matcher, err := patch.NewMatcher(cfg.Patch)
	if err != nil {
		return nil, errors.Wrap(err, "refinement engine")
	}

	out, err := depth.NewMap(seed.Width(), seed.Height())
	if err != nil {
		return nil, err
	}
	half := (cfg.Steps - 1) / 2
	err = cctx.ForEachPixel(ctx, image.Point{seed.Width(), seed.Height()}, func(x, y int) {
		d0 := seed.GetDepth(x, y)
		step := pixelSize.Get(x, y)
		if d0 <= 0 || step <= 0 {
			out.Set(x, y, d0, float64(depth.MaxScore))
			return
		}

		scoreAt := func(k int) float64 {
			d := d0 + float64(k)*step
			if d <= 0 {
				return float64(depth.MaxScore)
			}
			pt3 := ref.Camera.PointAt(float64(x), float64(y), d)
			px, td := target.Camera.Project(pt3)
			if td <= 0 || !target.Camera.InBounds(px) {
				return float64(depth.MaxScore)
			}
			return float64(matcher.Score(ref.Image, x, y, target.Image, px))
		}

		bestK := -half
		bestScore := scoreAt(bestK)
		for k := -half + 1; k <= half; k++ {
			if s := scoreAt(k); s < bestScore {
				bestK, bestScore = k, s
			}
		}

		// exact re-evaluation at the three offsets around the winner
		cPrev := scoreAt(bestK - 1)
		c := scoreAt(bestK)
		cNext := scoreAt(bestK + 1)

		bestD := d0 + float64(bestK)*step
		denom := cPrev - 2*c + cNext
		if denom <= 0 {
			out.Set(x, y, bestD, c)
			return
		}
		offset := 0.5 * (cPrev - cNext) / denom
		if offset > 0.5 {
			offset = 0.5
		} else if offset < -0.5 {
			offset = -0.5
		}
		out.Set(x, y, bestD+offset*step, c-0.25*(cPrev-cNext)*offset)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
