package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// ErrBadTLE indicates TLE lines that cannot be propagated.
var ErrBadTLE = errors.New("invalid TLE")

// Geodetic is a position on or above the WGS ellipsoid.
type Geodetic struct {
	LatDeg float64
	LonDeg float64
	AltKm  float64
}

// OrbitPropagator turns a TLE into geodetic positions with SGP4.
type OrbitPropagator struct {
	sat satellite.Satellite
}

// NewOrbitPropagator parses the two TLE lines.
func NewOrbitPropagator(line1, line2 string) (*OrbitPropagator, error) {
	line1, line2 = strings.TrimSpace(line1), strings.TrimSpace(line2)
	if len(line1) < 69 || len(line2) < 69 || line1[0] != '1' || line2[0] != '2' {
		return nil, fmt.Errorf("%w: malformed lines", ErrBadTLE)
	}
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: %s", ErrBadTLE, sat.ErrorStr)
	}
	return &OrbitPropagator{sat: sat}, nil
}

// At propagates to t. go-satellite works in kilometres and radians.
func (p *OrbitPropagator) At(t time.Time) (Geodetic, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	if math.IsNaN(posECI.X) || math.IsNaN(posECI.Y) || math.IsNaN(posECI.Z) {
		return Geodetic{}, fmt.Errorf("%w: propagation diverged", ErrBadTLE)
	}
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	alt, _, ll := satellite.ECIToLLA(posECI, gmst)
	deg := satellite.LatLongDeg(ll)
	return Geodetic{
		LatDeg: deg.Latitude,
		LonDeg: NormalizeLon(deg.Longitude),
		AltKm:  alt,
	}, nil
}

// AltitudeToRadii converts a kilometre altitude into globe-radius units.
func AltitudeToRadii(altKm float64) float64 {
	return altKm / EarthRadiusKm
}
