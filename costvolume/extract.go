package costvolume

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/mvs/compute"
	"go.viam.com/mvs/depth"
)

const parabolaEps = 1e-12

// ExtractBestDepth reduces an aggregated volume to a per-pixel depth and
// similarity: the hypothesis index with minimal cost, ties resolving to the
// lowest index. With interpolate set, interior minima are refined by a
// three-point parabolic fit over the neighboring indices' costs; pixels
// whose minimum sits on the sequence boundary report the boundary depth
// directly.
func ExtractBestDepth(
	ctx context.Context,
	cctx *compute.Context,
	agg *Aggregated,
	hyps depth.Hypotheses,
	interpolate bool,
) (*depth.Map, error) {
	if err := hyps.Validate(); err != nil {
		return nil, errors.Wrap(err, "best-depth extractor")
	}
	if len(hyps) != agg.hyps {
		return nil, errors.Errorf("best-depth extractor: %d hypotheses for a %d-deep volume", len(hyps), agg.hyps)
	}
	cctx.WarnIfMismatched(agg.owner, "best-depth extractor")

	out, err := depth.NewMap(agg.width, agg.height)
	if err != nil {
		return nil, err
	}
	err = cctx.ForEachPixel(ctx, image.Point{agg.width, agg.height}, func(x, y int) {
		base := (y*agg.width + x) * agg.hyps
		costs := agg.cost[base : base+agg.hyps]
		best := 0
		for d := 1; d < len(costs); d++ {
			if costs[d] < costs[best] {
				best = d
			}
		}
		d, sim := hyps[best], float64(costs[best])
		if interpolate && best > 0 && best < len(costs)-1 {
			d, sim = parabolicMin(
				hyps[best-1], hyps[best], hyps[best+1],
				float64(costs[best-1]), float64(costs[best]), float64(costs[best+1]),
			)
		}
		out.Set(x, y, d, sim)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// parabolicMin fits a parabola through three (depth, cost) samples and
// returns the sub-voxel minimum. A non-convex triple keeps the center
// sample unchanged.
func parabolicMin(dPrev, d, dNext, cPrev, c, cNext float64) (float64, float64) {
	denom := cPrev - 2*c + cNext
	if denom <= parabolaEps {
		return d, c
	}
	offset := 0.5 * (cPrev - cNext) / denom
	if offset > 0.5 {
		offset = 0.5
	} else if offset < -0.5 {
		offset = -0.5
	}
	var nd float64
	if offset >= 0 {
		nd = d + offset*(dNext-d)
	} else {
		nd = d + offset*(d-dPrev)
	}
	return nd, c - 0.25*(cPrev-cNext)*offset
}
