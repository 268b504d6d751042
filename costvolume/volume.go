// Package costvolume builds, regularizes, and reads out the 3-D similarity
// volume at the heart of the plane sweep: one best/second-best score per
// (pixel, depth hypothesis), swept in memory-bounded cells, smoothed by
// multi-path aggregation, and reduced to a per-pixel best depth.
package costvolume

import (
	"github.com/pkg/errors"

	"go.viam.com/mvs/compute"
	"go.viam.com/mvs/depth"
)

// bytes per (x, y, d) cell of one score channel
const scoreBytes = 4

// Volume is the raw plane-sweep output: per (x, y, hypothesis), the best and
// second-best similarity score seen across the target cameras. The two
// channels are tracked independently; only the best channel feeds
// aggregation, the second-best stays available for ambiguity analysis.
type Volume struct {
	width, height, hyps int
	best, second        []float32
	owner               *compute.Context
}

// NewVolume returns a volume with both channels set to the no-information
// sentinel.
func NewVolume(cctx *compute.Context, width, height, hyps int) (*Volume, error) {
	if width <= 0 || height <= 0 || hyps <= 0 {
		return nil, errors.Errorf("invalid volume shape (%d, %d, %d)", width, height, hyps)
	}
	n := width * height * hyps
	v := &Volume{
		width:  width,
		height: height,
		hyps:   hyps,
		best:   make([]float32, n),
		second: make([]float32, n),
		owner:  cctx,
	}
	for i := range v.best {
		v.best[i] = depth.MaxScore
		v.second[i] = depth.MaxScore
	}
	return v, nil
}

func (v *Volume) Width() int      { return v.width }
func (v *Volume) Height() int     { return v.height }
func (v *Volume) Hypotheses() int { return v.hyps }

func (v *Volume) index(x, y, d int) int {
	return (y*v.width+x)*v.hyps + d
}

// Best returns the best-score channel at (x, y, d).
func (v *Volume) Best(x, y, d int) float32 { return v.best[v.index(x, y, d)] }

// SecondBest returns the second-best channel at (x, y, d).
func (v *Volume) SecondBest(x, y, d int) float32 { return v.second[v.index(x, y, d)] }

// SetBest overwrites both channels at (x, y, d); the second-best is set to
// the given second value.
func (v *Volume) SetBest(x, y, d int, best, second float32) {
	i := v.index(x, y, d)
	v.best[i] = best
	v.second[i] = second
}

// Aggregated is the path-accumulated cost volume produced by Aggregate. It
// has the same shape as the raw volume but a single channel.
type Aggregated struct {
	width, height, hyps int
	cost                []float32
	owner               *compute.Context
}

// NewAggregated returns a zeroed aggregated volume; paths accumulate into it
// by addition.
func NewAggregated(cctx *compute.Context, width, height, hyps int) (*Aggregated, error) {
	if width <= 0 || height <= 0 || hyps <= 0 {
		return nil, errors.Errorf("invalid volume shape (%d, %d, %d)", width, height, hyps)
	}
	return &Aggregated{
		width:  width,
		height: height,
		hyps:   hyps,
		cost:   make([]float32, width*height*hyps),
		owner:  cctx,
	}, nil
}

func (a *Aggregated) Width() int      { return a.width }
func (a *Aggregated) Height() int     { return a.height }
func (a *Aggregated) Hypotheses() int { return a.hyps }

func (a *Aggregated) index(x, y, d int) int {
	return (y*a.width+x)*a.hyps + d
}

// Cost returns the accumulated cost at (x, y, d).
func (a *Aggregated) Cost(x, y, d int) float32 { return a.cost[a.index(x, y, d)] }

// SetCost overwrites the accumulated cost at (x, y, d).
func (a *Aggregated) SetCost(x, y, d int, c float32) { a.cost[a.index(x, y, d)] = c }

// Cell is a contiguous sub-range [Start, Start+Count) of the hypothesis
// sequence, sized so its working slab fits the memory budget.
type Cell struct {
	Start, Count int
}

// slabBytes is the working memory one cell claims while being swept: both
// score channels over the full pixel grid for Count hypotheses.
func (c Cell) slabBytes(width, height int) int64 {
	return int64(width) * int64(height) * int64(c.Count) * scoreBytes * 2
}

// PartitionCells splits the hypothesis range into the largest cells whose
// slabs fit the Context budget. The returned cells cover the range in
// increasing depth order with no gaps or overlaps. A budget too small for
// even a single hypothesis slice is a configuration error.
func PartitionCells(cctx *compute.Context, numHyps, width, height int) ([]Cell, error) {
	if numHyps <= 0 {
		return nil, errors.Errorf("cannot partition %d hypotheses", numHyps)
	}
	perHyp := int64(width) * int64(height) * scoreBytes * 2
	maxCount := numHyps
	if budget := cctx.MemoryBudget(); budget > 0 {
		if perHyp > budget {
			return nil, errors.Errorf(
				"memory budget %d bytes cannot fit a single %dx%d hypothesis slice (%d bytes)",
				budget, width, height, perHyp)
		}
		if fit := int(budget / perHyp); fit < maxCount {
			maxCount = fit
		}
	}
	cells := make([]Cell, 0, (numHyps+maxCount-1)/maxCount)
	for start := 0; start < numHyps; start += maxCount {
		count := maxCount
		if start+count > numHyps {
			count = numHyps - start
		}
		cells = append(cells, Cell{Start: start, Count: count})
	}
	return cells, nil
}

// checkCells verifies a user-supplied cell list partitions [0, numHyps)
// exactly and fits the budget. No silent truncation of the depth range.
func checkCells(cctx *compute.Context, cells []Cell, numHyps, width, height int) error {
	if len(cells) == 0 {
		return errors.New("cost volume builder: no cells supplied")
	}
	next := 0
	for i, c := range cells {
		if c.Start != next {
			return errors.Errorf("cost volume builder: cell %d starts at %d, want %d (gap or overlap)", i, c.Start, next)
		}
		if c.Count <= 0 {
			return errors.Errorf("cost volume builder: cell %d has invalid count %d", i, c.Count)
		}
		if budget := cctx.MemoryBudget(); budget > 0 && c.slabBytes(width, height) > budget {
			return errors.Errorf("cost volume builder: cell %d slab (%d bytes) exceeds memory budget (%d bytes)",
				i, c.slabBytes(width, height), budget)
		}
		next = c.Start + c.Count
	}
	if next != numHyps {
		return errors.Errorf("cost volume builder: cells cover %d hypotheses, want %d", next, numHyps)
	}
	return nil
}
