package core

import (
	"math"
	"testing"
)

func near(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestLatLonToVec3Convention(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon float64
		want     Vec3
	}{
		{"null island", 0, 0, Vec3{X: 1}},
		{"north pole", 90, 0, Vec3{Y: 1}},
		{"south pole", -90, 0, Vec3{Y: -1}},
		{"east", 0, 90, Vec3{Z: -1}},
		{"west", 0, -90, Vec3{Z: 1}},
		{"antimeridian", 0, 180, Vec3{X: -1}},
	}
	for _, tc := range cases {
		got := LatLonToVec3(tc.lat, tc.lon, 1)
		if !near(got.X, tc.want.X, 1e-9) || !near(got.Y, tc.want.Y, 1e-9) || !near(got.Z, tc.want.Z, 1e-9) {
			t.Fatalf("%s: LatLonToVec3(%v, %v) = %+v, want %+v", tc.name, tc.lat, tc.lon, got, tc.want)
		}
	}
}

func TestVec3ToLatLonInverts(t *testing.T) {
	for lat := -80.0; lat <= 80; lat += 20 {
		for lon := -170.0; lon < 180; lon += 35 {
			lat2, lon2 := Vec3ToLatLon(LatLonToVec3(lat, lon, 2.5))
			if !near(lat, lat2, 1e-9) || !near(lon, lon2, 1e-9) {
				t.Fatalf("round trip (%v, %v) -> (%v, %v)", lat, lon, lat2, lon2)
			}
		}
	}
}

func TestFallbackLatLonDeterministicAndValid(t *testing.T) {
	lat1, lon1 := FallbackLatLon("asset:broken")
	lat2, lon2 := FallbackLatLon("asset:broken")
	if lat1 != lat2 || lon1 != lon2 {
		t.Fatalf("fallback not deterministic: (%v,%v) vs (%v,%v)", lat1, lon1, lat2, lon2)
	}
	if !ValidLatLon(lat1, lon1) {
		t.Fatalf("fallback produced invalid coordinates (%v, %v)", lat1, lon1)
	}
	lat3, lon3 := FallbackLatLon("asset:other")
	if lat1 == lat3 && lon1 == lon3 {
		t.Fatalf("distinct keys collided on fallback position")
	}
}

func TestValidLatLon(t *testing.T) {
	if ValidLatLon(200, 0) || ValidLatLon(0, 181) || ValidLatLon(math.NaN(), 0) || ValidLatLon(0, math.Inf(1)) {
		t.Fatalf("expected invalid coordinates to be rejected")
	}
	if !ValidLatLon(-90, 180) {
		t.Fatalf("expected boundary coordinates to be valid")
	}
}

func TestFrontFacing(t *testing.T) {
	cam := Vec3{X: 3}
	if !FrontFacing(LatLonToVec3(10, 5, 1), cam) {
		t.Fatalf("point under the camera should face it")
	}
	if FrontFacing(LatLonToVec3(0, 180, 1), cam) {
		t.Fatalf("antipode should not face the camera")
	}
}

func TestRaySphere(t *testing.T) {
	hit, ok := RaySphere(Vec3{X: 3}, Vec3{X: -1}, 1)
	if !ok || !near(hit.X, 1, 1e-12) {
		t.Fatalf("expected hit at x=1, got %+v ok=%v", hit, ok)
	}
	if _, ok := RaySphere(Vec3{X: 3}, Vec3{Y: 1}, 1); ok {
		t.Fatalf("ray pointing away should miss")
	}
	h := HorizonPoint(Vec3{X: 3}, Vec3{Y: 1}, 1)
	if !near(h.Norm(), 1, 1e-12) {
		t.Fatalf("horizon point should lie on the sphere, got norm %v", h.Norm())
	}
}

func TestNormalizeLon(t *testing.T) {
	cases := map[float64]float64{190: -170, -190: 170, 180: -180, 0: 0, 540: -180}
	for in, want := range cases {
		if got := NormalizeLon(in); !near(got, want, 1e-9) {
			t.Fatalf("NormalizeLon(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestGreatCircleDeg(t *testing.T) {
	if d := GreatCircleDeg(0, 0, 0, 90); !near(d, 90, 1e-9) {
		t.Fatalf("quarter turn = %v", d)
	}
	if d := GreatCircleDeg(0, 179, 0, -179); !near(d, 2, 1e-9) {
		t.Fatalf("across antimeridian = %v, want 2", d)
	}
}
