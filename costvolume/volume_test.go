package costvolume

import (
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"go.viam.com/mvs/compute"
	"go.viam.com/mvs/depth"
)

func TestNewVolumeSeeded(t *testing.T) {
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})
	_, err := NewVolume(cctx, 0, 2, 2)
	test.That(t, err, test.ShouldNotBeNil)

	vol, err := NewVolume(cctx, 3, 2, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vol.Best(1, 1, 2), test.ShouldEqual, depth.MaxScore)
	test.That(t, vol.SecondBest(1, 1, 2), test.ShouldEqual, depth.MaxScore)
}

func TestObserveTracksBestAndSecond(t *testing.T) {
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})
	slab, err := newCellSlab(cctx, Cell{Start: 0, Count: 1}, 1, 1)
	test.That(t, err, test.ShouldBeNil)
	defer slab.release(cctx)
	i := slab.index(0, 0, 0)

	slab.observe(i, 1.0)
	test.That(t, slab.best[i], test.ShouldEqual, float32(1.0))
	test.That(t, slab.second[i], test.ShouldEqual, depth.MaxScore)

	slab.observe(i, 0.25)
	test.That(t, slab.best[i], test.ShouldEqual, float32(0.25))
	test.That(t, slab.second[i], test.ShouldEqual, float32(1.0))

	// a tie keeps the first-seen value in place
	slab.observe(i, 0.25)
	test.That(t, slab.best[i], test.ShouldEqual, float32(0.25))
	test.That(t, slab.second[i], test.ShouldEqual, float32(0.25))

	slab.observe(i, 0.5)
	test.That(t, slab.best[i], test.ShouldEqual, float32(0.25))
	test.That(t, slab.second[i], test.ShouldEqual, float32(0.25))
}

func TestPartitionCells(t *testing.T) {
	logger := golog.NewTestLogger(t)

	// unlimited budget: one cell covering everything
	cctx := compute.NewContext(logger, compute.Options{})
	cells, err := PartitionCells(cctx, 10, 4, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cells, test.ShouldResemble, []Cell{{Start: 0, Count: 10}})

	// 4x4 grid needs 128 bytes per hypothesis slice; a 300 byte budget
	// fits two hypotheses per cell
	cctx = compute.NewContext(logger, compute.Options{MemoryBudget: 300})
	cells, err = PartitionCells(cctx, 5, 4, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cells, test.ShouldResemble, []Cell{{0, 2}, {2, 2}, {4, 1}})

	// no gaps, no overlaps
	next := 0
	for _, c := range cells {
		test.That(t, c.Start, test.ShouldEqual, next)
		next = c.Start + c.Count
	}
	test.That(t, next, test.ShouldEqual, 5)

	// a budget that cannot fit one slice is a configuration error
	cctx = compute.NewContext(logger, compute.Options{MemoryBudget: 100})
	_, err = PartitionCells(cctx, 5, 4, 4)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot fit")

	_, err = PartitionCells(cctx, 0, 4, 4)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCheckCells(t *testing.T) {
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})

	test.That(t, checkCells(cctx, []Cell{{0, 3}, {3, 2}}, 5, 4, 4), test.ShouldBeNil)
	test.That(t, checkCells(cctx, nil, 5, 4, 4), test.ShouldNotBeNil)

	// gap
	err := checkCells(cctx, []Cell{{0, 2}, {3, 2}}, 5, 4, 4)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "gap or overlap")

	// overlap
	test.That(t, checkCells(cctx, []Cell{{0, 3}, {2, 3}}, 5, 4, 4), test.ShouldNotBeNil)

	// truncated coverage is never silently accepted
	err = checkCells(cctx, []Cell{{0, 3}}, 5, 4, 4)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cover")

	// a cell larger than the budget is rejected before execution
	small := compute.NewContext(golog.NewTestLogger(t), compute.Options{MemoryBudget: 200})
	err = checkCells(small, []Cell{{0, 5}}, 5, 4, 4)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "exceeds memory budget")
}
