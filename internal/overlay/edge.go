package overlay

import "math"

// Rect is an axis-aligned screen rectangle in pixels.
type Rect struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Centered returns a w×h rectangle centred on (x, y).
func Centered(x, y, w, h float64) Rect {
	return Rect{MinX: x - w/2, MinY: y - h/2, MaxX: x + w/2, MaxY: y + h/2}
}

// Contains reports whether (x, y) lies inside r, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// Inflate grows r by d on every side.
func (r Rect) Inflate(d float64) Rect {
	return Rect{MinX: r.MinX - d, MinY: r.MinY - d, MaxX: r.MaxX + d, MaxY: r.MaxY + d}
}

// Center returns the midpoint of r.
func (r Rect) Center() (float64, float64) {
	return (r.MinX + r.MaxX) / 2, (r.MinY + r.MaxY) / 2
}

// OnBoundary reports whether (x, y) lies on an edge of r within eps.
func (r Rect) OnBoundary(x, y, eps float64) bool {
	if !r.Inflate(eps).Contains(x, y) {
		return false
	}
	return math.Abs(x-r.MinX) <= eps || math.Abs(x-r.MaxX) <= eps ||
		math.Abs(y-r.MinY) <= eps || math.Abs(y-r.MaxY) <= eps
}

// InsetRect returns the viewport rectangle shrunk by inset on each side.
// The inset is capped so the rectangle never collapses.
func InsetRect(width, height int, inset float64) Rect {
	w, h := float64(width), float64(height)
	limit := math.Min(w, h)/2 - 1
	if inset > limit {
		inset = limit
	}
	if inset < 0 {
		inset = 0
	}
	return Rect{MinX: inset, MinY: inset, MaxX: w - inset, MaxY: h - inset}
}

// EdgePoint returns where the ray from the centre of r toward (px, py)
// first crosses the boundary of r. A degenerate direction points straight
// down.
func EdgePoint(r Rect, px, py float64) (float64, float64) {
	cx, cy := r.Center()
	dx, dy := px-cx, py-cy
	if math.Hypot(dx, dy) < 1e-9 || math.IsNaN(dx) || math.IsNaN(dy) {
		dx, dy = 0, 1
	}

	tx, ty := math.Inf(1), math.Inf(1)
	var edgeX, edgeY float64
	switch {
	case dx > 0:
		edgeX = r.MaxX
		tx = (edgeX - cx) / dx
	case dx < 0:
		edgeX = r.MinX
		tx = (edgeX - cx) / dx
	}
	switch {
	case dy > 0:
		edgeY = r.MaxY
		ty = (edgeY - cy) / dy
	case dy < 0:
		edgeY = r.MinY
		ty = (edgeY - cy) / dy
	}

	if tx <= ty {
		return edgeX, clampf(cy+tx*dy, r.MinY, r.MaxY)
	}
	return clampf(cx+ty*dx, r.MinX, r.MaxX), edgeY
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
