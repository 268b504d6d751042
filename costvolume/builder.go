package costvolume

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/mvs/camera"
	"go.viam.com/mvs/compute"
	"go.viam.com/mvs/depth"
	"go.viam.com/mvs/patch"
)

// BuilderConfig carries the plane-sweep patch parameters.
type BuilderConfig struct {
	Patch patch.Config
}

// Validate reports configuration errors before the sweep starts.
func (c BuilderConfig) Validate() error {
	return c.Patch.Validate()
}

// Build runs the plane sweep: for every pixel of the reference view and
// every depth hypothesis, the reference point at that depth is projected
// into each target view and scored against it; the best and second-best
// scores across targets land in the volume. Cells are swept one at a time
// in increasing depth order to bound peak working memory; the cell split
// never changes the result. Projections outside a target's bounds
// contribute the no-information sentinel rather than an error.
func Build(
	ctx context.Context,
	cctx *compute.Context,
	ref camera.View,
	targets []camera.View,
	hyps depth.Hypotheses,
	cells []Cell,
	cfg BuilderConfig,
) (*Volume, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "cost volume builder")
	}
	if err := hyps.Validate(); err != nil {
		return nil, errors.Wrap(err, "cost volume builder")
	}
	if err := camera.CheckView(ref); err != nil {
		return nil, errors.Wrap(err, "cost volume builder: reference")
	}
	if len(targets) == 0 {
		return nil, errors.New("cost volume builder: no target views")
	}
	for _, t := range targets {
		if err := camera.CheckView(t); err != nil {
			return nil, errors.Wrap(err, "cost volume builder: target")
		}
	}
	w, h := ref.Camera.Width, ref.Camera.Height
	if err := checkCells(cctx, cells, len(hyps), w, h); err != nil {
		return nil, err
	}
	matcher, err := patch.NewMatcher(cfg.Patch)
	if err != nil {
		return nil, errors.Wrap(err, "cost volume builder")
	}

	vol, err := NewVolume(cctx, w, h, len(hyps))
	if err != nil {
		return nil, err
	}

	cctx.Logger().Debugf("cost volume sweep: %dx%dx%d in %d cells, %d targets",
		w, h, len(hyps), len(cells), len(targets))

	for _, cell := range cells {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := buildCell(ctx, cctx, vol, ref, targets, hyps, cell, matcher); err != nil {
			return nil, errors.Wrapf(err, "cost volume builder: cell [%d, %d)", cell.Start, cell.Start+cell.Count)
		}
	}
	return vol, nil
}

// cellSlab is the working buffer for one cell's sweep, reserved against the
// compute budget for the duration of the cell.
type cellSlab struct {
	cell          Cell
	width, height int
	best, second  []float32
}

func newCellSlab(cctx *compute.Context, cell Cell, width, height int) (*cellSlab, error) {
	if err := cctx.Reserve(cell.slabBytes(width, height)); err != nil {
		return nil, err
	}
	n := width * height * cell.Count
	s := &cellSlab{cell: cell, width: width, height: height, best: make([]float32, n), second: make([]float32, n)}
	for i := range s.best {
		s.best[i] = depth.MaxScore
		s.second[i] = depth.MaxScore
	}
	return s, nil
}

func (s *cellSlab) release(cctx *compute.Context) {
	cctx.Release(s.cell.slabBytes(s.width, s.height))
}

func (s *cellSlab) index(x, y, k int) int {
	return (y*s.width+x)*s.cell.Count + k
}

func (s *cellSlab) observe(i int, score float32) {
	if score < s.best[i] {
		s.second[i] = s.best[i]
		s.best[i] = score
	} else if score < s.second[i] {
		s.second[i] = score
	}
}

func buildCell(
	ctx context.Context,
	cctx *compute.Context,
	vol *Volume,
	ref camera.View,
	targets []camera.View,
	hyps depth.Hypotheses,
	cell Cell,
	matcher *patch.Matcher,
) error {
	slab, err := newCellSlab(cctx, cell, vol.width, vol.height)
	if err != nil {
		return err
	}
	defer slab.release(cctx)

	err = cctx.ForEachPixel(ctx, image.Point{vol.width, vol.height}, func(x, y int) {
		for k := 0; k < cell.Count; k++ {
			d := hyps[cell.Start+k]
			pt3 := ref.Camera.PointAt(float64(x), float64(y), d)
			i := slab.index(x, y, k)
			for _, tgt := range targets {
				px, td := tgt.Camera.Project(pt3)
				if td <= 0 || !tgt.Camera.InBounds(px) {
					slab.observe(i, depth.MaxScore)
					continue
				}
				slab.observe(i, matcher.Score(ref.Image, x, y, tgt.Image, px))
			}
		}
	})
	if err != nil {
		return err
	}

	// fold the finished slab into the full volume
	for y := 0; y < vol.height; y++ {
		for x := 0; x < vol.width; x++ {
			for k := 0; k < cell.Count; k++ {
				i := slab.index(x, y, k)
				vol.SetBest(x, y, cell.Start+k, slab.best[i], slab.second[i])
			}
		}
	}
	return nil
}
