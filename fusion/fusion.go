// Package fusion merges the refined depth/similarity maps of several camera
// pairs for one reference view into a single consensus map by Gaussian
// kernel-density voting over depth offsets around the reference estimate.
package fusion

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/mvs/compute"
	"go.viam.com/mvs/depth"
)

// Config carries the voting parameters.
type Config struct {
	// HalfRange is the number of pixel-size steps sampled on each side of
	// the reference depth.
	HalfRange int
	// Sigma is the kernel bandwidth in pixel-size units.
	Sigma float64
}

// Validate reports configuration errors before voting starts.
func (c Config) Validate() error {
	if c.HalfRange < 1 {
		return errors.Errorf("fusion half-range must be >= 1, got %d", c.HalfRange)
	}
	if c.Sigma <= 0 {
		return errors.Errorf("fusion sigma must be positive, got %v", c.Sigma)
	}
	return nil
}

// Fuse votes the maps into a consensus map. maps[0] is the reference
// estimate the sample offsets are centered on; the remaining maps are
// independent observations of the same reference view. A single map is a
// pure passthrough. Per pixel, every map adds a Gaussian vote (bandwidth
// sigma scaled by the per-pixel pixel-size factor) to each sampled offset;
// the winning offset is peak-interpolated across its neighboring vote
// samples, and the similarity is the vote-weighted blend of the
// contributors at the fused depth.
func Fuse(
	ctx context.Context,
	cctx *compute.Context,
	maps []*depth.Map,
	pixelSize *depth.Grid,
	cfg Config,
) (*depth.Map, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "fusion engine")
	}
	if len(maps) == 0 {
		return nil, errors.New("fusion engine: no input maps")
	}
	ref := maps[0]
	for _, m := range maps[1:] {
		if err := depth.CheckSameShape("fusion engine", ref, m); err != nil {
			return nil, err
		}
	}
	if err := depth.CheckGridShape("fusion engine", ref, pixelSize); err != nil {
		return nil, err
	}
	if len(maps) == 1 {
		return ref.Clone(), nil
	}

	out, err := depth.NewMap(ref.Width(), ref.Height())
	if err != nil {
		return nil, err
	}
	samples := 2*cfg.HalfRange + 1
	err = cctx.ForEachPixel(ctx, image.Point{ref.Width(), ref.Height()}, func(x, y int) {
		dRef, simRef := ref.Get(x, y)
		ps := pixelSize.Get(x, y)
		if dRef <= 0 || ps <= 0 {
			out.Set(x, y, dRef, simRef)
			return
		}
		bw := cfg.Sigma * ps
		inv := 1 / (2 * bw * bw)

		votes := make([]float64, samples)
		for o := 0; o < samples; o++ {
			dc := dRef + float64(o-cfg.HalfRange)*ps
			for _, m := range maps {
				dm := m.GetDepth(x, y)
				if dm <= 0 {
					continue
				}
				diff := dm - dc
				votes[o] += math.Exp(-diff * diff * inv)
			}
		}

		best := floats.MaxIdx(votes)
		offset := float64(best - cfg.HalfRange)
		if best > 0 && best < samples-1 {
			denom := votes[best-1] - 2*votes[best] + votes[best+1]
			if denom < 0 {
				sub := 0.5 * (votes[best-1] - votes[best+1]) / denom
				if sub > 0.5 {
					sub = 0.5
				} else if sub < -0.5 {
					sub = -0.5
				}
				offset += sub
			}
		}
		dFused := dRef + offset*ps

		var sw, ssim float64
		for _, m := range maps {
			dm, sm := m.Get(x, y)
			if dm <= 0 {
				continue
			}
			diff := dm - dFused
			w := math.Exp(-diff * diff * inv)
			sw += w
			ssim += w * sm
		}
		sim := simRef
		if sw > 0 {
			sim = ssim / sw
		}
		out.Set(x, y, dFused, sim)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
