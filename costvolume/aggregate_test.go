package costvolume

import (
	"context"
	"math/rand"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"go.viam.com/mvs/compute"
	"go.viam.com/mvs/depth"
)

func randomVolume(t *testing.T, cctx *compute.Context, w, h, n int, seed int64) *Volume {
	t.Helper()
	vol, err := NewVolume(cctx, w, h, n)
	test.That(t, err, test.ShouldBeNil)
	rnd := rand.New(rand.NewSource(seed))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for d := 0; d < n; d++ {
				vol.SetBest(x, y, d, rnd.Float32()*depth.MaxScore, depth.MaxScore)
			}
		}
	}
	return vol
}

func TestAggregateConfigValidate(t *testing.T) {
	ok := AggregateConfig{P1: 0.1, P2: 0.5, Paths: DefaultPaths()}
	test.That(t, ok.Validate(), test.ShouldBeNil)

	bad := ok
	bad.P1, bad.P2 = 0.5, 0.1
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = ok
	bad.P1 = -1
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = ok
	bad.Paths = nil
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = ok
	bad.Paths = []Path{{Axis: Axis(9)}}
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
}

// boundarySlice returns the (x, y, d) index triples of a path's first scan
// slice.
func boundarySlice(p Path, w, h, n int) [][3]int {
	var out [][3]int
	pick := func(axis Axis, size int) int {
		if p.Axis == axis {
			if p.Reverse {
				return size - 1
			}
			return 0
		}
		return -1
	}
	sx, sy, sd := pick(AxisX, w), pick(AxisY, h), pick(AxisZ, n)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for d := 0; d < n; d++ {
				if (sx >= 0 && x == sx) || (sy >= 0 && y == sy) || (sd >= 0 && d == sd) {
					out = append(out, [3]int{x, y, d})
				}
			}
		}
	}
	return out
}

func TestAggregateFirstSliceSentinel(t *testing.T) {
	ctx := context.Background()
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})
	const w, h, n = 6, 5, 4

	for _, p := range []Path{
		{Axis: AxisX}, {Axis: AxisX, Reverse: true},
		{Axis: AxisY}, {Axis: AxisY, Reverse: true},
		{Axis: AxisZ}, {Axis: AxisZ, Reverse: true},
	} {
		vol := randomVolume(t, cctx, w, h, n, 7)
		agg, err := Aggregate(ctx, cctx, vol, AggregateConfig{P1: 0.1, P2: 0.4, Paths: []Path{p}})
		test.That(t, err, test.ShouldBeNil)
		for _, c := range boundarySlice(p, w, h, n) {
			test.That(t, agg.Cost(c[0], c[1], c[2]), test.ShouldEqual, depth.MaxScore)
		}
	}
}

func TestAggregateZeroPenaltiesIsIdentity(t *testing.T) {
	// with P1 = P2 = 0 the recurrence collapses to raw + bestPrev -
	// bestPrev: every slice past the seeded boundary is the raw cost
	ctx := context.Background()
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})
	const w, h, n = 7, 4, 5
	vol := randomVolume(t, cctx, w, h, n, 11)

	agg, err := Aggregate(ctx, cctx, vol, AggregateConfig{Paths: []Path{{Axis: AxisX}}})
	test.That(t, err, test.ShouldBeNil)
	for y := 0; y < h; y++ {
		for d := 0; d < n; d++ {
			test.That(t, agg.Cost(0, y, d), test.ShouldEqual, depth.MaxScore)
			for x := 1; x < w; x++ {
				test.That(t, agg.Cost(x, y, d), test.ShouldEqual, vol.Best(x, y, d))
			}
		}
	}
}

func TestAggregateAccumulatesAcrossPaths(t *testing.T) {
	ctx := context.Background()
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})
	const w, h, n = 5, 5, 3
	vol := randomVolume(t, cctx, w, h, n, 3)
	cfg := AggregateConfig{P1: 0.05, P2: 0.2}

	cfg.Paths = []Path{{Axis: AxisX}}
	onlyX, err := Aggregate(ctx, cctx, vol, cfg)
	test.That(t, err, test.ShouldBeNil)
	cfg.Paths = []Path{{Axis: AxisY}}
	onlyY, err := Aggregate(ctx, cctx, vol, cfg)
	test.That(t, err, test.ShouldBeNil)
	cfg.Paths = []Path{{Axis: AxisX}, {Axis: AxisY}}
	both, err := Aggregate(ctx, cctx, vol, cfg)
	test.That(t, err, test.ShouldBeNil)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for d := 0; d < n; d++ {
				test.That(t, both.Cost(x, y, d), test.ShouldAlmostEqual,
					float64(onlyX.Cost(x, y, d))+float64(onlyY.Cost(x, y, d)), 1e-5)
			}
		}
	}
}

func TestAggregateLargerP2NeverCheapensJumps(t *testing.T) {
	// raw costs force the minimum to jump three indices between slice 1 and
	// slice 2; the jumping cell's aggregated cost must be monotone in P2
	ctx := context.Background()
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})
	const w, h, n = 3, 1, 4

	makeVol := func() *Volume {
		vol, err := NewVolume(cctx, w, h, n)
		test.That(t, err, test.ShouldBeNil)
		for d := 0; d < n; d++ {
			vol.SetBest(0, 0, d, 1, depth.MaxScore)
			vol.SetBest(1, 0, d, 1, depth.MaxScore)
			vol.SetBest(2, 0, d, 1, depth.MaxScore)
		}
		vol.SetBest(1, 0, 0, 0.1, depth.MaxScore) // slice 1 minimum at d=0
		vol.SetBest(2, 0, 3, 0.1, depth.MaxScore) // slice 2 minimum at d=3
		return vol
	}

	var prevCost float32 = -1
	for _, p2 := range []float32{0, 0.1, 0.3, 0.8} {
		agg, err := Aggregate(ctx, cctx, makeVol(),
			AggregateConfig{P1: 0, P2: p2, Paths: []Path{{Axis: AxisX}}})
		test.That(t, err, test.ShouldBeNil)
		cost := agg.Cost(2, 0, 3)
		test.That(t, cost, test.ShouldBeGreaterThanOrEqualTo, prevCost)
		prevCost = cost
	}
}

func TestAggregateReleasesSliceBuffers(t *testing.T) {
	ctx := context.Background()
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{MemoryBudget: 1 << 20})
	vol := randomVolume(t, cctx, 8, 8, 4, 5)
	_, err := Aggregate(ctx, cctx, vol, AggregateConfig{P1: 0.1, P2: 0.2, Paths: DefaultPaths()})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cctx.Reserved(), test.ShouldEqual, 0)
}

func TestAggregateCanceled(t *testing.T) {
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})
	vol := randomVolume(t, cctx, 8, 8, 4, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Aggregate(ctx, cctx, vol, AggregateConfig{Paths: DefaultPaths()})
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, cctx.Reserved(), test.ShouldEqual, 0)
}
