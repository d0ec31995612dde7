package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Viewport is the drawable size in pixels.
type Viewport struct {
	Width  int
	Height int
}

// Aspect returns width/height, defaulting to 1 for an empty viewport.
func (vp Viewport) Aspect() float64 {
	if vp.Width <= 0 || vp.Height <= 0 {
		return 1
	}
	return float64(vp.Width) / float64(vp.Height)
}

// Camera is a perspective camera in globe scene space.
type Camera struct {
	Position Vec3
	Target   Vec3
	Up       Vec3
	FovYDeg  float64
	Near     float64
	Far      float64
}

// OrbitCamera places a camera above (lat, lon) at the given distance from
// the globe centre, looking at the centre.
func OrbitCamera(latDeg, lonDeg, distance, fovYDeg float64) Camera {
	pos := LatLonToVec3(latDeg, lonDeg, distance)
	up := Vec3{Y: 1}
	if math.Abs(latDeg) > 89 {
		up = Vec3{Z: 1}
	}
	return Camera{
		Position: pos,
		Up:       up,
		FovYDeg:  fovYDeg,
		Near:     distance * 0.001,
		Far:      distance * 4,
	}
}

// Distance returns the camera distance from the globe centre.
func (c Camera) Distance() float64 { return c.Position.Norm() }

// Direction returns the unit vector from the globe centre to the camera.
func (c Camera) Direction() Vec3 { return c.Position.Normalize() }

func (c Camera) near() float64 {
	if c.Near > 0 {
		return c.Near
	}
	return 0.001
}

func (c Camera) far() float64 {
	if c.Far > c.near() {
		return c.Far
	}
	return c.near() * 1e5
}

func (c Camera) fovRad() float64 {
	fov := c.FovYDeg
	if fov <= 0 || fov >= 179 {
		fov = 45
	}
	return fov * degToRad
}

// ViewProjection returns the combined projection*view matrix.
func (c Camera) ViewProjection(vp Viewport) mgl64.Mat4 {
	up := c.Up
	if up.Norm() == 0 {
		up = Vec3{Y: 1}
	}
	view := mgl64.LookAtV(toMgl(c.Position), toMgl(c.Target), toMgl(up))
	proj := mgl64.Perspective(c.fovRad(), vp.Aspect(), c.near(), c.far())
	return proj.Mul4(view)
}

// Projection is a point mapped to window pixels (origin top-left).
type Projection struct {
	X, Y float64
	// Behind is set when the point lies behind the camera plane. X/Y then
	// still point in the right direction from the viewport centre.
	Behind bool
}

// Project maps a scene point into window pixels.
func (c Camera) Project(p Vec3, vp Viewport) Projection {
	return ProjectWith(c.ViewProjection(vp), p, vp)
}

// ProjectWith projects using a precomputed view-projection matrix, for
// callers projecting many points per frame.
func ProjectWith(m mgl64.Mat4, p Vec3, vp Viewport) Projection {
	clip := m.Mul4x1(mgl64.Vec4{p.X, p.Y, p.Z, 1})
	w := clip.W()
	behind := w <= 0
	aw := math.Abs(w)
	if aw < 1e-9 {
		aw = 1e-9
	}
	nx, ny := clip.X()/aw, clip.Y()/aw
	return Projection{
		X:      (nx + 1) / 2 * float64(vp.Width),
		Y:      (1 - ny) / 2 * float64(vp.Height),
		Behind: behind,
	}
}

// Ray returns the world-space ray through window pixel (x, y).
func (c Camera) Ray(x, y float64, vp Viewport) (origin, dir Vec3) {
	inv := c.ViewProjection(vp).Inv()
	nx := 2*x/float64(max(vp.Width, 1)) - 1
	ny := 1 - 2*y/float64(max(vp.Height, 1))
	nearPt := unproject(inv, nx, ny, -1)
	farPt := unproject(inv, nx, ny, 1)
	return c.Position, farPt.Sub(nearPt).Normalize()
}

func unproject(inv mgl64.Mat4, nx, ny, nz float64) Vec3 {
	v := inv.Mul4x1(mgl64.Vec4{nx, ny, nz, 1})
	w := v.W()
	if w == 0 {
		w = 1e-12
	}
	return Vec3{X: v.X() / w, Y: v.Y() / w, Z: v.Z() / w}
}

// Orbit rotates the camera around the globe centre by the given lat/lon
// deltas, keeping its distance.
func (c Camera) Orbit(dLatDeg, dLonDeg float64) Camera {
	lat, lon := Vec3ToLatLon(c.Position)
	lat = clamp(lat+dLatDeg, -89.5, 89.5)
	lon = NormalizeLon(lon + dLonDeg)
	next := OrbitCamera(lat, lon, c.Distance(), c.FovYDeg)
	return next
}

// Dolly scales the camera distance, never entering the globe of radius r.
func (c Camera) Dolly(factor, r float64) Camera {
	lat, lon := Vec3ToLatLon(c.Position)
	d := c.Distance() * factor
	if d < r*1.01 {
		d = r * 1.01
	}
	return OrbitCamera(lat, lon, d, c.FovYDeg)
}

func toMgl(v Vec3) mgl64.Vec3 { return mgl64.Vec3{v.X, v.Y, v.Z} }
