package core

import "testing"

func TestProjectCentreAndBehind(t *testing.T) {
	vp := Viewport{Width: 800, Height: 600}
	cam := OrbitCamera(0, 0, 3, 45)

	p := cam.Project(Vec3{}, vp)
	if !near(p.X, 400, 1e-6) || !near(p.Y, 300, 1e-6) || p.Behind {
		t.Fatalf("globe centre should project to viewport centre, got %+v", p)
	}

	north := cam.Project(LatLonToVec3(20, 0, 1), vp)
	if north.Y >= 300 {
		t.Fatalf("northern point should project above centre, got y=%v", north.Y)
	}

	behind := cam.Project(Vec3{X: 5, Y: 0.5}, vp)
	if !behind.Behind {
		t.Fatalf("point behind the camera should be flagged, got %+v", behind)
	}
	if behind.Y >= 300 {
		t.Fatalf("behind point above the camera should still map upward, got y=%v", behind.Y)
	}
}

func TestRayThroughCentreHitsSubCameraPoint(t *testing.T) {
	vp := Viewport{Width: 1024, Height: 768}
	cam := OrbitCamera(35, -40, 4, 50)
	o, d := cam.Ray(512, 384, vp)
	hit, ok := RaySphere(o, d, 1)
	if !ok {
		t.Fatalf("centre ray should hit the globe")
	}
	lat, lon := Vec3ToLatLon(hit)
	if !near(lat, 35, 1e-6) || !near(lon, -40, 1e-6) {
		t.Fatalf("centre ray hit (%v, %v), want (35, -40)", lat, lon)
	}
}

func TestOrbitAndDolly(t *testing.T) {
	cam := OrbitCamera(0, 170, 3, 45)
	moved := cam.Orbit(0, 20)
	_, lon := Vec3ToLatLon(moved.Position)
	if !near(lon, -170, 1e-6) {
		t.Fatalf("orbit across antimeridian gave lon %v, want -170", lon)
	}
	in := cam.Dolly(0.01, 1)
	if in.Distance() < 1.01-1e-9 {
		t.Fatalf("dolly entered the globe: distance %v", in.Distance())
	}
}
