// Package mvs estimates a per-pixel depth map for a calibrated reference
// view from multiple neighboring views: a plane-sweep cost volume, SGM-style
// multi-path aggregation, best-depth extraction, per-pair sub-pixel
// refinement, kernel-density fusion, and a final variational smoothing pass.
package mvs

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/mvs/camera"
	"go.viam.com/mvs/compute"
	"go.viam.com/mvs/costvolume"
	"go.viam.com/mvs/depth"
	"go.viam.com/mvs/fusion"
	"go.viam.com/mvs/optimize"
	"go.viam.com/mvs/refine"
)

// View pairs a camera with its image; see camera.View.
type View = camera.View

// Config aggregates the per-stage parameters of one pipeline run.
type Config struct {
	Builder   costvolume.BuilderConfig
	Aggregate costvolume.AggregateConfig
	// Interpolate enables sub-voxel interpolation during best-depth
	// extraction.
	Interpolate bool
	Refine      refine.Config
	Fusion      fusion.Config
	Optimize    optimize.Config
	// VarianceHalfWindow sizes the local-variance window of the optimizer's
	// texture map.
	VarianceHalfWindow int
}

// Validate checks every stage's parameters up front so a run never fails
// mid-pipeline on configuration.
func (c Config) Validate() error {
	err := multierr.Combine(
		c.Builder.Validate(),
		c.Aggregate.Validate(),
		c.Refine.Validate(),
		c.Fusion.Validate(),
		c.Optimize.Validate(),
	)
	if c.VarianceHalfWindow < 1 {
		err = multierr.Append(err, errors.Errorf("variance half-window must be >= 1, got %d", c.VarianceHalfWindow))
	}
	return err
}

// EstimateDepth runs the full pipeline for one reference view against its
// target views over the given depth hypotheses and returns the optimizer's
// converged map. Which views and which depth range to process is the
// caller's decision; the hypothesis cells are sized automatically from the
// Context's memory budget.
func EstimateDepth(
	ctx context.Context,
	cctx *compute.Context,
	ref View,
	targets []View,
	hyps depth.Hypotheses,
	cfg Config,
) (*depth.Map, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "depth estimation")
	}
	if err := camera.CheckView(ref); err != nil {
		return nil, errors.Wrap(err, "depth estimation")
	}
	if len(targets) == 0 {
		return nil, errors.New("depth estimation: no target views")
	}
	logger := cctx.Logger()

	cells, err := costvolume.PartitionCells(cctx, len(hyps), ref.Camera.Width, ref.Camera.Height)
	if err != nil {
		return nil, err
	}
	logger.Debugf("sweeping %d hypotheses in %d cells", len(hyps), len(cells))
	vol, err := costvolume.Build(ctx, cctx, ref, targets, hyps, cells, cfg.Builder)
	if err != nil {
		return nil, err
	}

	logger.Debugf("aggregating %d paths", len(cfg.Aggregate.Paths))
	agg, err := costvolume.Aggregate(ctx, cctx, vol, cfg.Aggregate)
	if err != nil {
		return nil, err
	}

	seed, err := costvolume.ExtractBestDepth(ctx, cctx, agg, hyps, cfg.Interpolate)
	if err != nil {
		return nil, err
	}

	pixelSize, err := refine.PixelSizeMap(ref.Camera, seed)
	if err != nil {
		return nil, err
	}

	// each camera pair refines independently
	logger.Debugf("refining against %d targets", len(targets))
	refined := make([]*depth.Map, len(targets))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, tgt := range targets {
		i, tgt := i, tgt
		group.Go(func() error {
			m, err := refine.Refine(groupCtx, cctx, ref, tgt, seed, pixelSize, cfg.Refine)
			if err != nil {
				return errors.Wrapf(err, "target %q", tgt.Camera.Name)
			}
			refined[i] = m
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	fused, err := fusion.Fuse(ctx, cctx, refined, pixelSize, cfg.Fusion)
	if err != nil {
		return nil, err
	}

	variance, err := optimize.VarianceMap(ref.Image, cfg.VarianceHalfWindow)
	if err != nil {
		return nil, err
	}
	logger.Debugf("optimizing for %d iterations", cfg.Optimize.Iterations)
	return optimize.Optimize(ctx, cctx, seed, fused, variance, cfg.Optimize)
}
