// Package camera holds the calibrated per-view projection model consumed by
// the depth-estimation kernels. A Camera is immutable once built and is
// shared read-only across every kernel that works on its view.
package camera

import (
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mvs/pyramid"
)

// Parameters is the externally supplied calibration block for one view.
// Matrices are row-major.
type Parameters struct {
	Name        string     `json:"name"`
	Width       int        `json:"width_px"`
	Height      int        `json:"height_px"`
	Intrinsics  [9]float64 `json:"intrinsics"`
	Rotation    [9]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

// Camera is the loaded projection model: the intrinsics/rotation products
// used by projection, the projection center, and the orthonormal basis
// derived from the rotation at load time. The Name is for logging and
// ordering only, never correctness.
type Camera struct {
	Name          string
	Width, Height int

	// XAxis, YAxis, ZAxis are the rows of the rotation; ZAxis is the
	// optical axis along which depth is measured.
	XAxis, YAxis, ZAxis r3.Vector
	// Center is the projection center in world coordinates.
	Center r3.Vector

	fx, fy float64

	kr    [9]float64 // K*R
	krInv [9]float64 // (K*R)^-1
}

const orthonormalTol = 1e-6

// New validates the calibration block and precomputes the basis and the
// forward/inverse projection matrices.
func New(p Parameters) (*Camera, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, errors.Errorf("camera %q: invalid size (%d, %d)", p.Name, p.Width, p.Height)
	}
	fx, fy := p.Intrinsics[0], p.Intrinsics[4]
	if fx <= 0 || fy <= 0 {
		return nil, errors.Errorf("camera %q: invalid focal lengths (%v, %v)", p.Name, fx, fy)
	}
	r := mat.NewDense(3, 3, p.Rotation[:])
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(rtr.At(i, j)-want) > orthonormalTol {
				return nil, errors.Errorf("camera %q: rotation is not orthonormal", p.Name)
			}
		}
	}

	k := mat.NewDense(3, 3, p.Intrinsics[:])
	var kr mat.Dense
	kr.Mul(k, r)
	var krInv mat.Dense
	if err := krInv.Inverse(&kr); err != nil {
		return nil, errors.Wrapf(err, "camera %q: projection matrix is singular", p.Name)
	}

	// C = -R^T * t
	t := mat.NewVecDense(3, p.Translation[:])
	var c mat.VecDense
	c.MulVec(r.T(), t)

	cam := &Camera{
		Name:   p.Name,
		Width:  p.Width,
		Height: p.Height,
		XAxis:  r3.Vector{X: r.At(0, 0), Y: r.At(0, 1), Z: r.At(0, 2)},
		YAxis:  r3.Vector{X: r.At(1, 0), Y: r.At(1, 1), Z: r.At(1, 2)},
		ZAxis:  r3.Vector{X: r.At(2, 0), Y: r.At(2, 1), Z: r.At(2, 2)},
		Center: r3.Vector{X: -c.AtVec(0), Y: -c.AtVec(1), Z: -c.AtVec(2)},
		fx:     fx,
		fy:     fy,
	}
	copy(cam.kr[:], kr.RawMatrix().Data)
	copy(cam.krInv[:], krInv.RawMatrix().Data)
	return cam, nil
}

// NewFromJSONFile loads a Parameters block from a JSON file and builds the
// camera from it.
func NewFromJSONFile(path string) (*Camera, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening camera JSON file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "error reading camera JSON data")
	}
	var p Parameters
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "error parsing camera JSON")
	}
	return New(p)
}

func mul3(m *[9]float64, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0]*v.X + m[1]*v.Y + m[2]*v.Z,
		Y: m[3]*v.X + m[4]*v.Y + m[5]*v.Z,
		Z: m[6]*v.X + m[7]*v.Y + m[8]*v.Z,
	}
}

// PointAt back-projects pixel (x, y) to the world point at depth d, where
// depth is measured along the optical axis.
func (cam *Camera) PointAt(x, y float64, d float64) r3.Vector {
	ray := mul3(&cam.krInv, r3.Vector{X: x, Y: y, Z: 1})
	s := d / ray.Dot(cam.ZAxis)
	return cam.Center.Add(ray.Mul(s))
}

// Project maps a world point to pixel coordinates and its depth along the
// optical axis. A point at or behind the projection center yields a
// non-positive depth; callers treat that as out of bounds.
func (cam *Camera) Project(p r3.Vector) (r2.Point, float64) {
	v := mul3(&cam.kr, p.Sub(cam.Center))
	if v.Z == 0 {
		return r2.Point{X: -1, Y: -1}, 0
	}
	return r2.Point{X: v.X / v.Z, Y: v.Y / v.Z}, v.Z
}

// Depth returns the depth of a world point along the optical axis.
func (cam *Camera) Depth(p r3.Vector) float64 {
	return p.Sub(cam.Center).Dot(cam.ZAxis)
}

// InBounds reports whether a projected pixel lies within the image.
func (cam *Camera) InBounds(pt r2.Point) bool {
	return pt.X >= 0 && pt.Y >= 0 && pt.X <= float64(cam.Width-1) && pt.Y <= float64(cam.Height-1)
}

// PixelWorldSize returns the world-space footprint of one pixel at depth d,
// the per-pixel scale factor used to turn pixel steps into depth steps.
func (cam *Camera) PixelWorldSize(d float64) float64 {
	return d / cam.fx
}

// Scaled returns a camera describing the same view downscaled by factor
// (0 < factor <= 1), matching a coarser pyramid level. The extrinsic basis
// is unchanged; only the intrinsic rows scale.
func (cam *Camera) Scaled(factor float64) (*Camera, error) {
	if factor <= 0 || factor > 1 {
		return nil, errors.Errorf("camera %q: scale factor %v out of range (0, 1]", cam.Name, factor)
	}
	out := *cam
	out.Width = int(math.Round(float64(cam.Width) * factor))
	out.Height = int(math.Round(float64(cam.Height) * factor))
	if out.Width < 1 || out.Height < 1 {
		return nil, errors.Errorf("camera %q: scale factor %v collapses the image", cam.Name, factor)
	}
	out.fx *= factor
	out.fy *= factor
	for i := 0; i < 6; i++ {
		out.kr[i] *= factor // scale rows 0 and 1 of K*R
	}
	for i := 0; i < 9; i++ {
		if i%3 != 2 {
			out.krInv[i] /= factor // scale columns 0 and 1 of the inverse
		}
	}
	return &out, nil
}

// View pairs a camera with the image (one pyramid level) the kernels sample
// from. The camera must describe the same scale as the image.
type View struct {
	Camera *Camera
	Image  *pyramid.Grid
}

// CheckView returns a configuration error when the camera and image
// dimensions disagree.
func CheckView(v View) error {
	if v.Camera == nil || v.Image == nil {
		return errors.New("view requires both a camera and an image")
	}
	if v.Camera.Width != v.Image.Width() || v.Camera.Height != v.Image.Height() {
		return errors.Errorf("view %q: camera size (%d, %d) does not match image size (%d, %d)",
			v.Camera.Name, v.Camera.Width, v.Camera.Height, v.Image.Width(), v.Image.Height())
	}
	return nil
}
