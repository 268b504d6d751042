// Package testutils builds small synthetic calibrated scenes for the kernel
// tests: a textured fronto-parallel plane at a known depth observed by a
// translated pinhole camera pair.
package testutils

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/mvs/camera"
	"go.viam.com/mvs/pyramid"
)

// Intrinsics returns a 3x3 pinhole intrinsics block with focal length f and
// the principal point at the image center.
func Intrinsics(width, height int, f float64) [9]float64 {
	return [9]float64{
		f, 0, float64(width-1) / 2,
		0, f, float64(height-1) / 2,
		0, 0, 1,
	}
}

// Identity is the no-rotation block.
func Identity() [9]float64 {
	return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// NewCamera builds an axis-aligned pinhole camera at the given world center.
func NewCamera(name string, width, height int, f float64, center [3]float64) (*camera.Camera, error) {
	return camera.New(camera.Parameters{
		Name:       name,
		Width:      width,
		Height:     height,
		Intrinsics: Intrinsics(width, height, f),
		Rotation:   Identity(),
		// t = -R * C
		Translation: [3]float64{-center[0], -center[1], -center[2]},
	})
}

// PlaneScene is a textured plane at depth D0, a reference camera at the
// origin, and one target camera translated along the X axis.
type PlaneScene struct {
	Ref, Target camera.View
	D0          float64
}

// planeTexture is the Lab color painted on the plane at world (x, y). The
// wavelengths are a few pixel footprints so every patch window sees real
// texture while staying smooth under bilinear sampling.
func planeTexture(wx, wy, footprint float64) pyramid.Color {
	l := 55 +
		18*math.Sin(2*math.Pi*wx/(8*footprint)) +
		12*math.Sin(2*math.Pi*wy/(11*footprint)+0.7)
	return pyramid.Color{L: l, A: 8 * math.Cos(2*math.Pi*wx/(16*footprint)), B: 5}
}

// RenderPlane paints the view a camera has of the textured plane at depth
// d0 (the cameras are axis-aligned, so world Z == depth).
func RenderPlane(cam *camera.Camera, d0, footprint float64) (*pyramid.Grid, error) {
	g, err := pyramid.NewGrid(cam.Width, cam.Height)
	if err != nil {
		return nil, err
	}
	for y := 0; y < cam.Height; y++ {
		for x := 0; x < cam.Width; x++ {
			wp := cam.PointAt(float64(x), float64(y), d0)
			g.Set(x, y, planeTexture(wp.X, wp.Y, footprint))
		}
	}
	return g, nil
}

// NewPlaneScene builds the two-camera planar scene: at the true depth the
// reference and target patches are geometrically identical. The target
// sensor is twice as wide so every reference pixel projects in bounds over
// the swept depth range.
func NewPlaneScene(width, height int, f, baseline, d0 float64) (*PlaneScene, error) {
	refCam, err := NewCamera("ref", width, height, f, [3]float64{0, 0, 0})
	if err != nil {
		return nil, errors.Wrap(err, "plane scene")
	}
	tgtCam, err := NewCamera("target", 2*width, height, f, [3]float64{baseline, 0, 0})
	if err != nil {
		return nil, errors.Wrap(err, "plane scene")
	}
	footprint := refCam.PixelWorldSize(d0)
	refImg, err := RenderPlane(refCam, d0, footprint)
	if err != nil {
		return nil, err
	}
	tgtImg, err := RenderPlane(tgtCam, d0, footprint)
	if err != nil {
		return nil, err
	}
	return &PlaneScene{
		Ref:    camera.View{Camera: refCam, Image: refImg},
		Target: camera.View{Camera: tgtCam, Image: tgtImg},
		D0:     d0,
	}, nil
}

// FlatGrid returns a constant-color grid.
func FlatGrid(width, height int, c pyramid.Color) (*pyramid.Grid, error) {
	g, err := pyramid.NewGrid(width, height)
	if err != nil {
		return nil, err
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g.Set(x, y, c)
		}
	}
	return g, nil
}
