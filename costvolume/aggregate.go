package costvolume

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/mvs/compute"
	"go.viam.com/mvs/depth"
)

// Axis names the volume axis a path scans along.
type Axis int

const (
	// AxisX scans across image columns; columns are image rows, the
	// penalty runs along the hypothesis axis.
	AxisX Axis = iota
	// AxisY scans across image rows; columns are image columns, the
	// penalty runs along the hypothesis axis.
	AxisY
	// AxisZ scans along the hypothesis axis; columns are image columns,
	// the penalty runs along image rows.
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return "?"
}

// Path is one directional sweep: a scan axis plus an orientation.
type Path struct {
	Axis    Axis
	Reverse bool
}

// DefaultPaths are the four spatial sweeps (±X, ±Y); callers wanting
// hypothesis-axis smoothing append ±Z.
func DefaultPaths() []Path {
	return []Path{
		{Axis: AxisX}, {Axis: AxisX, Reverse: true},
		{Axis: AxisY}, {Axis: AxisY, Reverse: true},
	}
}

// AggregateConfig carries the smoothness penalties and the sweep paths.
type AggregateConfig struct {
	// P1 penalizes one-index depth steps between adjacent slices, P2
	// penalizes larger jumps. P1 <= P2.
	P1, P2 float32
	Paths  []Path
}

// Validate reports configuration errors before aggregation starts.
func (c AggregateConfig) Validate() error {
	if c.P1 < 0 || c.P2 < 0 {
		return errors.Errorf("aggregation penalties must be non-negative, got P1=%v P2=%v", c.P1, c.P2)
	}
	if c.P1 > c.P2 {
		return errors.Errorf("aggregation requires P1 <= P2, got P1=%v P2=%v", c.P1, c.P2)
	}
	if len(c.Paths) == 0 {
		return errors.New("aggregation requires at least one path")
	}
	for _, p := range c.Paths {
		if p.Axis < AxisX || p.Axis > AxisZ {
			return errors.Errorf("unknown aggregation axis %d", int(p.Axis))
		}
	}
	return nil
}

// pathShape reinterprets the volume through the path's axis permutation:
// scan slices of size cols x depths, with an index function back into the
// flat volume layout.
type pathShape struct {
	scan, cols, depths int
	index              func(s, c, d int) int
}

func shapeFor(axis Axis, w, h, n int) pathShape {
	switch axis {
	case AxisY:
		return pathShape{
			scan: h, cols: w, depths: n,
			index: func(s, c, d int) int { return (s*w+c)*n + d },
		}
	case AxisZ:
		return pathShape{
			scan: n, cols: w, depths: h,
			index: func(s, c, d int) int { return (d*w+c)*n + s },
		}
	default: // AxisX
		return pathShape{
			scan: w, cols: h, depths: n,
			index: func(s, c, d int) int { return (c*w+s)*n + d },
		}
	}
}

// Aggregate regularizes the volume's best-score channel: each path sweeps
// slice by slice along its scan axis, carrying a running aggregated slice
// forward with the P1/P2 smoothness recurrence, and adds its result into one
// output volume. The first slice of every path is seeded to the maximum
// score. Slices along the scan axis are strictly sequential; the cells of
// one slice run in parallel.
func Aggregate(ctx context.Context, cctx *compute.Context, vol *Volume, cfg AggregateConfig) (*Aggregated, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "volume aggregator")
	}
	cctx.WarnIfMismatched(vol.owner, "volume aggregator")

	out, err := NewAggregated(cctx, vol.width, vol.height, vol.hyps)
	if err != nil {
		return nil, err
	}
	for _, p := range cfg.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := aggregatePath(ctx, cctx, vol, out, p, cfg.P1, cfg.P2); err != nil {
			return nil, errors.Wrapf(err, "volume aggregator: path %s%s", orient(p.Reverse), p.Axis)
		}
	}
	return out, nil
}

func orient(reverse bool) string {
	if reverse {
		return "-"
	}
	return "+"
}

func aggregatePath(ctx context.Context, cctx *compute.Context, vol *Volume, out *Aggregated, p Path, p1, p2 float32) error {
	sh := shapeFor(p.Axis, vol.width, vol.height, vol.hyps)

	// the two ping-pong slice buffers are the only state carried between
	// slices; reserve them against the budget for the path's duration
	sliceBytes := int64(sh.cols) * int64(sh.depths) * scoreBytes * 2
	if err := cctx.Reserve(sliceBytes); err != nil {
		return err
	}
	defer cctx.Release(sliceBytes)
	prev := make([]float32, sh.cols*sh.depths)
	cur := make([]float32, sh.cols*sh.depths)

	at := func(step int) int {
		if p.Reverse {
			return sh.scan - 1 - step
		}
		return step
	}

	// boundary slice: seeded to the maximum score so no depth dominates
	// from the edge
	s0 := at(0)
	for c := 0; c < sh.cols; c++ {
		for d := 0; d < sh.depths; d++ {
			prev[c*sh.depths+d] = depth.MaxScore
			out.cost[sh.index(s0, c, d)] += depth.MaxScore
		}
	}

	for step := 1; step < sh.scan; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := at(step)
		err := cctx.GroupWork(ctx, sh.cols, func(from, to int) {
			for c := from; c < to; c++ {
				row := prev[c*sh.depths : (c+1)*sh.depths]
				bestPrev := row[0]
				for _, v := range row[1:] {
					if v < bestPrev {
						bestPrev = v
					}
				}
				jump := bestPrev + p2
				for d := 0; d < sh.depths; d++ {
					m := row[d]
					if d > 0 && row[d-1]+p1 < m {
						m = row[d-1] + p1
					}
					if d < sh.depths-1 && row[d+1]+p1 < m {
						m = row[d+1] + p1
					}
					if jump < m {
						m = jump
					}
					// subtracting the previous slice's minimum keeps the
					// accumulation bounded across slices
					v := vol.best[sh.index(s, c, d)] + (m - bestPrev)
					cur[c*sh.depths+d] = v
					out.cost[sh.index(s, c, d)] += v
				}
			}
		})
		if err != nil {
			return err
		}
		prev, cur = cur, prev
	}
	return nil
}
