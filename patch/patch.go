// Package patch scores the photometric agreement between a reference image
// patch and a target patch sampled around a projected location. Scores are
// bilateral-weighted normalized cross-correlation costs in [0, 2], lower
// meaning more similar.
package patch

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/mvs/depth"
	"go.viam.com/mvs/pyramid"
)

// Config holds the patch comparison parameters.
type Config struct {
	// HalfWindow is the patch half-size; the full window is
	// (2*HalfWindow+1)^2 samples.
	HalfWindow int
	// GammaColor controls how fast support weights fall off with Lab
	// distance from the patch center.
	GammaColor float64
	// GammaSpatial controls how fast support weights fall off with pixel
	// distance from the patch center.
	GammaSpatial float64
}

// Validate reports configuration errors before any sweep starts.
func (c Config) Validate() error {
	if c.HalfWindow < 1 {
		return errors.Errorf("patch half-window must be >= 1, got %d", c.HalfWindow)
	}
	if c.GammaColor <= 0 || c.GammaSpatial <= 0 {
		return errors.Errorf("patch gammas must be positive, got gammaC=%v gammaP=%v", c.GammaColor, c.GammaSpatial)
	}
	return nil
}

// variance below this is treated as a flat patch
const flatVarianceEps = 1e-6

// Matcher evaluates patch scores for a fixed configuration. The spatial
// falloff term is precomputed once. A Matcher is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	cfg     Config
	spatial []float64
}

// NewMatcher validates the configuration and precomputes the spatial weights.
func NewMatcher(cfg Config) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	side := 2*cfg.HalfWindow + 1
	m := &Matcher{cfg: cfg, spatial: make([]float64, side*side)}
	i := 0
	for dy := -cfg.HalfWindow; dy <= cfg.HalfWindow; dy++ {
		for dx := -cfg.HalfWindow; dx <= cfg.HalfWindow; dx++ {
			r := math.Sqrt(float64(dx*dx + dy*dy))
			m.spatial[i] = r / cfg.GammaSpatial
			i++
		}
	}
	return m, nil
}

// HalfWindow returns the configured patch half-size.
func (m *Matcher) HalfWindow() int { return m.cfg.HalfWindow }

// Score compares the reference patch centered on integer pixel (x, y)
// against the target patch sampled bilinearly around pt. Weights favor
// samples close to the patch center in both color and space. Two flat
// patches compare as identical (MinScore); a one-sided flat patch carries no
// correlation information and scores MaxScore. Both cases guard the
// normalization divide, never fault.
func (m *Matcher) Score(ref *pyramid.Grid, x, y int, tgt *pyramid.Grid, pt r2.Point) float32 {
	hw := m.cfg.HalfWindow
	center := ref.At(x, y)

	var sw, sr, st, srr, stt, srt float64
	i := 0
	for dy := -hw; dy <= hw; dy++ {
		for dx := -hw; dx <= hw; dx++ {
			rc := ref.At(x+dx, y+dy)
			w := math.Exp(-rc.Distance(center)/m.cfg.GammaColor - m.spatial[i])
			i++

			rv := rc.L
			tv := tgt.Bilinear(pt.X+float64(dx), pt.Y+float64(dy)).L
			sw += w
			sr += w * rv
			st += w * tv
			srr += w * rv * rv
			stt += w * tv * tv
			srt += w * rv * tv
		}
	}

	mr := sr / sw
	mt := st / sw
	varR := srr/sw - mr*mr
	varT := stt/sw - mt*mt
	if varR < flatVarianceEps && varT < flatVarianceEps {
		return depth.MinScore
	}
	if varR < flatVarianceEps || varT < flatVarianceEps {
		return depth.MaxScore
	}
	cov := srt/sw - mr*mt
	ncc := cov / math.Sqrt(varR*varT)
	if ncc > 1 {
		ncc = 1
	} else if ncc < -1 {
		ncc = -1
	}
	return float32(1 - ncc)
}
