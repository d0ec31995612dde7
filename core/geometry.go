package core

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// EarthRadiusKm is the mean Earth radius used to convert kilometre
// altitudes into globe-radius offsets.
const EarthRadiusKm = 6371.0

// DefaultGlobeRadius is the scene radius of the reference sphere.
const DefaultGlobeRadius = 1.0

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// Vec3 is a scene-space vector. The globe is centred on the origin with
// +Y through the north pole.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Cross returns v × other.
func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// Normalize returns the unit vector along v, or the zero vector.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return Vec3{}
	}
	return v.Scale(1 / n)
}

// LatLonToVec3 projects a geodetic position onto a sphere of radius r.
// Every consumer of entity or tile positions goes through this function so
// they agree on the angular convention:
//
//	phi = (90 - lat), theta = (lon + 180)
//	x = -r sin(phi) cos(theta), y = r cos(phi), z = r sin(phi) sin(theta)
func LatLonToVec3(latDeg, lonDeg, r float64) Vec3 {
	phi := (90 - latDeg) * degToRad
	theta := (lonDeg + 180) * degToRad
	sinPhi := math.Sin(phi)
	return Vec3{
		X: -r * sinPhi * math.Cos(theta),
		Y: r * math.Cos(phi),
		Z: r * sinPhi * math.Sin(theta),
	}
}

// Vec3ToLatLon is the inverse of LatLonToVec3. The origin maps to (0, 0).
func Vec3ToLatLon(v Vec3) (latDeg, lonDeg float64) {
	r := v.Norm()
	if r == 0 {
		return 0, 0
	}
	cosPhi := clamp(v.Y/r, -1, 1)
	latDeg = 90 - math.Acos(cosPhi)*radToDeg
	lonDeg = math.Atan2(v.Z, -v.X)*radToDeg - 180
	return latDeg, NormalizeLon(lonDeg)
}

// NormalizeLon wraps a longitude into [-180, 180).
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// ValidLatLon reports whether the coordinates are finite and in range.
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// FallbackLatLon derives a stable pseudo-random position from a key. It is
// used for records whose coordinates are missing or invalid so the entity
// stays visible and does not jump between frames.
func FallbackLatLon(key string) (lat, lon float64) {
	h := xxhash.Sum64String(key)
	u := float64(h>>32) / float64(1<<32)
	w := float64(h&0xffffffff) / float64(1<<32)
	// Uniform on the sphere rather than uniform in lat.
	lat = math.Asin(2*u-1) * radToDeg
	lon = w*360 - 180
	return lat, lon
}

// FrontFacing reports whether a point on (or above) the globe faces the
// camera: the centre→point and centre→camera vectors have a positive dot
// product.
func FrontFacing(point, camera Vec3) bool {
	return point.Dot(camera) > 0
}

// RaySphere intersects a ray with the sphere of radius r at the origin and
// returns the nearest hit at or in front of the origin. dir must be unit
// length.
func RaySphere(origin, dir Vec3, r float64) (Vec3, bool) {
	b := origin.Dot(dir)
	c := origin.Dot(origin) - r*r
	disc := b*b - c
	if disc < 0 {
		return Vec3{}, false
	}
	sq := math.Sqrt(disc)
	t := -b - sq
	if t < 0 {
		t = -b + sq
	}
	if t < 0 {
		return Vec3{}, false
	}
	return origin.Add(dir.Scale(t)), true
}

// HorizonPoint returns the sphere point closest to a ray that misses the
// sphere. For a view ray grazing past the globe this approximates where the
// ray crosses the visible horizon.
func HorizonPoint(origin, dir Vec3, r float64) Vec3 {
	t := -origin.Dot(dir)
	if t < 0 {
		t = 0
	}
	closest := origin.Add(dir.Scale(t))
	if closest.Norm() == 0 {
		return origin.Normalize().Scale(r)
	}
	return closest.Normalize().Scale(r)
}

// GreatCircleDeg returns the central angle between two geodetic points in
// degrees.
func GreatCircleDeg(lat1, lon1, lat2, lon2 float64) float64 {
	p1, p2 := lat1*degToRad, lat2*degToRad
	dp := p2 - p1
	dl := (lon2 - lon1) * degToRad
	a := math.Sin(dp/2)*math.Sin(dp/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a)) * radToDeg
}

// AngleBetweenDeg returns the angle between two vectors in degrees.
func AngleBetweenDeg(a, b Vec3) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	return math.Acos(clamp(a.Dot(b)/(na*nb), -1, 1)) * radToDeg
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
