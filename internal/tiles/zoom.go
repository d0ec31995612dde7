package tiles

import "math"

// VisibleSpanDeg estimates the angular span of globe visible vertically
// from distance d to the centre of a globe of radius r.
func VisibleSpanDeg(d, r, fovYDeg float64) float64 {
	if r <= 0 {
		return 180
	}
	h := d - r
	if h < r*1e-6 {
		h = r * 1e-6
	}
	fov := fovYDeg
	if fov <= 0 || fov >= 179 {
		fov = 45
	}
	span := 2 * math.Atan(h*math.Tan(fov*math.Pi/360)/r) * 180 / math.Pi
	return math.Min(span, 180)
}

// SelectZoom chooses the provider zoom whose tile resolution best matches
// one screen tile of the visible span. The result never increases with
// distance.
func SelectZoom(distance, radius, fovYDeg float64, viewportHeight int, p Provider) uint32 {
	span := VisibleSpanDeg(distance, radius, fovYDeg)
	screenTiles := float64(viewportHeight) / float64(p.tileSize())
	if screenTiles < 1 {
		screenTiles = 1
	}
	degPerTile := span / screenTiles
	z := int(math.Round(math.Log2(360/degPerTile))) + p.ZoomBias

	if z < int(p.MinZoom) {
		z = int(p.MinZoom)
	}
	if z > int(p.MaxZoom) {
		z = int(p.MaxZoom)
	}
	return uint32(z)
}
