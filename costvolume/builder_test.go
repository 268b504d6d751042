package costvolume

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"go.viam.com/mvs/camera"
	"go.viam.com/mvs/compute"
	"go.viam.com/mvs/depth"
	"go.viam.com/mvs/patch"
	"go.viam.com/mvs/testutils"
)

func sweepConfig() BuilderConfig {
	return BuilderConfig{Patch: patch.Config{HalfWindow: 2, GammaColor: 10, GammaSpatial: 3}}
}

func planeHypotheses(d0, delta float64) depth.Hypotheses {
	return depth.Hypotheses{d0 - 2*delta, d0 - delta, d0, d0 + delta, d0 + 2*delta}
}

func TestBuildValidation(t *testing.T) {
	ctx := context.Background()
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})
	scene, err := testutils.NewPlaneScene(40, 30, 50, 2, 10)
	test.That(t, err, test.ShouldBeNil)
	hyps := planeHypotheses(10, 1)
	cells := []Cell{{0, len(hyps)}}

	_, err = Build(ctx, cctx, scene.Ref, nil, hyps, cells, sweepConfig())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no target views")

	bad := sweepConfig()
	bad.Patch.HalfWindow = 0
	_, err = Build(ctx, cctx, scene.Ref, []camera.View{scene.Target}, hyps, cells, bad)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Build(ctx, cctx, scene.Ref, []camera.View{scene.Target}, depth.Hypotheses{1, 1}, cells, sweepConfig())
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Build(ctx, cctx, scene.Ref, []camera.View{scene.Target}, hyps, []Cell{{0, 2}}, sweepConfig())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBuildPlanarScene(t *testing.T) {
	// two calibrated cameras, a textured plane at d0=10, hypotheses
	// [8, 9, 10, 11, 12]: the best score must land at index 2 everywhere
	ctx := context.Background()
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})
	scene, err := testutils.NewPlaneScene(40, 30, 50, 2, 10)
	test.That(t, err, test.ShouldBeNil)
	hyps := planeHypotheses(scene.D0, 1)
	cells, err := PartitionCells(cctx, len(hyps), 40, 30)
	test.That(t, err, test.ShouldBeNil)

	vol, err := Build(ctx, cctx, scene.Ref, []camera.View{scene.Target}, hyps, cells, sweepConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cctx.Reserved(), test.ShouldEqual, 0)

	// patch windows at the image border clamp and lose the exact geometric
	// correspondence, so the index check covers the interior
	margin := sweepConfig().Patch.HalfWindow + 1
	for y := margin; y < vol.Height()-margin; y++ {
		for x := margin; x < vol.Width()-margin; x++ {
			best := 0
			for d := 1; d < vol.Hypotheses(); d++ {
				if vol.Best(x, y, d) < vol.Best(x, y, best) {
					best = d
				}
			}
			test.That(t, best, test.ShouldEqual, 2)
			test.That(t, vol.Best(x, y, 2), test.ShouldBeLessThan, 0.1)
			// a single target never populates the second-best channel
			test.That(t, vol.SecondBest(x, y, 2), test.ShouldEqual, depth.MaxScore)
		}
	}
}

func TestBuildCellSplitDoesNotChangeResults(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	scene, err := testutils.NewPlaneScene(24, 18, 40, 1.5, 10)
	test.That(t, err, test.ShouldBeNil)
	hyps := planeHypotheses(scene.D0, 0.8)

	whole := compute.NewContext(logger, compute.Options{})
	cellsWhole, err := PartitionCells(whole, len(hyps), 24, 18)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(cellsWhole), test.ShouldEqual, 1)
	volWhole, err := Build(ctx, whole, scene.Ref, []camera.View{scene.Target}, hyps, cellsWhole, sweepConfig())
	test.That(t, err, test.ShouldBeNil)

	// a budget of two hypothesis slabs forces three cells
	split := compute.NewContext(logger, compute.Options{MemoryBudget: 24 * 18 * 4 * 2 * 2})
	cellsSplit, err := PartitionCells(split, len(hyps), 24, 18)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(cellsSplit), test.ShouldEqual, 3)
	volSplit, err := Build(ctx, split, scene.Ref, []camera.View{scene.Target}, hyps, cellsSplit, sweepConfig())
	test.That(t, err, test.ShouldBeNil)

	for y := 0; y < 18; y++ {
		for x := 0; x < 24; x++ {
			for d := 0; d < len(hyps); d++ {
				test.That(t, volSplit.Best(x, y, d), test.ShouldEqual, volWhole.Best(x, y, d))
				test.That(t, volSplit.SecondBest(x, y, d), test.ShouldEqual, volWhole.SecondBest(x, y, d))
			}
		}
	}
}

func TestBuildOutOfBoundsIsNoInformation(t *testing.T) {
	// a target looking at the scene from very far to the side never sees
	// the reference points: every score stays at the sentinel
	ctx := context.Background()
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})
	scene, err := testutils.NewPlaneScene(16, 12, 40, 1, 10)
	test.That(t, err, test.ShouldBeNil)

	farCam, err := testutils.NewCamera("far", 16, 12, 40, [3]float64{500, 0, 0})
	test.That(t, err, test.ShouldBeNil)
	farImg, err := testutils.FlatGrid(16, 12, scene.Target.Image.At(0, 0))
	test.That(t, err, test.ShouldBeNil)
	far := camera.View{Camera: farCam, Image: farImg}

	hyps := planeHypotheses(scene.D0, 1)
	vol, err := Build(ctx, cctx, scene.Ref, []camera.View{far}, hyps, []Cell{{0, len(hyps)}}, sweepConfig())
	test.That(t, err, test.ShouldBeNil)
	for y := 0; y < vol.Height(); y++ {
		for x := 0; x < vol.Width(); x++ {
			for d := 0; d < len(hyps); d++ {
				test.That(t, vol.Best(x, y, d), test.ShouldEqual, depth.MaxScore)
			}
		}
	}
}

func TestBuildCanceled(t *testing.T) {
	cctx := compute.NewContext(golog.NewTestLogger(t), compute.Options{})
	scene, err := testutils.NewPlaneScene(16, 12, 40, 1, 10)
	test.That(t, err, test.ShouldBeNil)
	hyps := planeHypotheses(scene.D0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Build(ctx, cctx, scene.Ref, []camera.View{scene.Target}, hyps, []Cell{{0, len(hyps)}}, sweepConfig())
	test.That(t, err, test.ShouldBeError, context.Canceled)
	// partially allocated slabs are released on abort
	test.That(t, cctx.Reserved(), test.ShouldEqual, 0)
}
