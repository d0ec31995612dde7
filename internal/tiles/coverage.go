package tiles

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/model"
)

// FocusBox is the centred screen-space region sampled for coverage, as a
// fraction of the viewport, with Samples×Samples rays across it.
type FocusBox struct {
	Fraction float64
	Samples  int
}

// DefaultFocusBox samples a 5×5 grid over 80% of the viewport.
func DefaultFocusBox() FocusBox {
	return FocusBox{Fraction: 0.8, Samples: 5}
}

// Band is the geographic region seen by the camera: a latitude band and a
// longitude band centred on CenterLon. HalfWidth ≥ 180 means every
// longitude.
type Band struct {
	MinLat, MaxLat float64
	CenterLon      float64
	HalfWidth      float64

	// View centre, used to order tiles nearest-first.
	FocusLat, FocusLon float64
}

// FullLon reports whether the band spans every longitude.
func (b Band) FullLon() bool { return b.HalfWidth >= 180 }

// Bound returns the band as an orb bound. A band crossing the antimeridian
// has Min.Lon > Max.Lon.
func (b Band) Bound() orb.Bound {
	if b.FullLon() {
		return orb.Bound{Min: orb.Point{-180, b.MinLat}, Max: orb.Point{180, b.MaxLat}}
	}
	return orb.Bound{
		Min: orb.Point{core.NormalizeLon(b.CenterLon - b.HalfWidth), b.MinLat},
		Max: orb.Point{core.NormalizeLon(b.CenterLon + b.HalfWidth), b.MaxLat},
	}
}

// ComputeBand ray-casts a grid of samples across the focus box, plus the
// viewport centre, and reduces the hit points to a Band. Rays missing the
// globe use the nearest point on the sphere. A pole in view extends the
// band to that pole with every longitude.
func ComputeBand(cam core.Camera, vp core.Viewport, radius float64, focus FocusBox, maxLat float64) Band {
	n := focus.Samples
	if n < 2 {
		n = 2
	}
	frac := focus.Fraction
	if frac <= 0 || frac > 1 {
		frac = 1
	}
	w, h := float64(vp.Width), float64(vp.Height)
	bw, bh := w*frac, h*frac
	x0, y0 := (w-bw)/2, (h-bh)/2

	geo := func(x, y float64) (float64, float64) {
		o, d := cam.Ray(x, y, vp)
		p, ok := core.RaySphere(o, d, radius)
		if !ok {
			p = core.HorizonPoint(o, d, radius)
		}
		return core.Vec3ToLatLon(p)
	}

	cLat, cLon := geo(w/2, h/2)
	band := Band{MinLat: cLat, MaxLat: cLat, FocusLat: cLat, FocusLon: cLon}
	lats := []float64{cLat}
	lons := []float64{cLon}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			lat, lon := geo(x0+bw*float64(i)/float64(n-1), y0+bh*float64(j)/float64(n-1))
			lats = append(lats, lat)
			lons = append(lons, lon)
		}
	}
	for _, lat := range lats {
		band.MinLat = math.Min(band.MinLat, lat)
		band.MaxLat = math.Max(band.MaxLat, lat)
	}

	band.CenterLon, band.HalfWidth = lonBand(lons)

	vpm := cam.ViewProjection(vp)
	for _, pole := range []float64{1, -1} {
		p := core.Vec3{Y: pole * radius}
		if !core.FrontFacing(p, cam.Position) {
			continue
		}
		proj := core.ProjectWith(vpm, p, vp)
		if proj.Behind || proj.X < x0 || proj.X > x0+bw || proj.Y < y0 || proj.Y > y0+bh {
			continue
		}
		if pole > 0 {
			band.MaxLat = 90
		} else {
			band.MinLat = -90
		}
		band.HalfWidth = 180
	}

	band.MinLat = math.Max(band.MinLat, -maxLat)
	band.MaxLat = math.Min(band.MaxLat, maxLat)
	return band
}

// lonBand returns the circular mean of lons and the largest angular
// distance of any sample from it.
func lonBand(lons []float64) (center, halfWidth float64) {
	var sx, sy float64
	for _, lon := range lons {
		r := lon * math.Pi / 180
		sx += math.Cos(r)
		sy += math.Sin(r)
	}
	if math.Hypot(sx, sy) < 1e-9 {
		return 0, 180
	}
	center = math.Atan2(sy, sx) * 180 / math.Pi
	for _, lon := range lons {
		halfWidth = math.Max(halfWidth, math.Abs(lonDelta(lon, center)))
	}
	return center, halfWidth
}

// lonDelta returns a-b wrapped into [-180, 180).
func lonDelta(a, b float64) float64 {
	return core.NormalizeLon(a - b)
}

// TileBounds returns the lat/lon box of key under proj.
func TileBounds(key model.TileKey, proj Projection) model.Bounds {
	if proj == ProjectionMercator {
		b := maptile.New(key.X, key.Y, maptile.Zoom(key.Zoom)).Bound()
		return model.Bounds{MinLat: b.Min.Lat(), MaxLat: b.Max.Lat(), MinLon: b.Min.Lon(), MaxLon: b.Max.Lon()}
	}
	n := float64(uint64(1) << key.Zoom)
	lonW, latH := 360/n, 180/n
	return model.Bounds{
		MinLat: 90 - float64(key.Y+1)*latH,
		MaxLat: 90 - float64(key.Y)*latH,
		MinLon: -180 + float64(key.X)*lonW,
		MaxLon: -180 + float64(key.X+1)*lonW,
	}
}

// tileRow returns the row containing lat at zoom z, rows counted from the
// north.
func tileRow(lat float64, z uint32, proj Projection) uint32 {
	n := uint32(1) << z
	var y uint32
	if proj == ProjectionMercator {
		lat = math.Max(math.Min(lat, MercatorMaxLat), -MercatorMaxLat)
		y = maptile.At(orb.Point{0, lat}, maptile.Zoom(z)).Y
	} else {
		f := (90 - lat) / 180 * float64(n)
		if f < 0 {
			f = 0
		}
		y = uint32(f)
	}
	if y >= n {
		y = n - 1
	}
	return y
}

// tileCol returns the unwrapped column of lon at zoom z. Columns outside
// [0, 2^z) wrap.
func tileCol(lon float64, z uint32) int64 {
	n := float64(uint64(1) << z)
	return int64(math.Floor((lon + 180) / 360 * n))
}

// span is the set of rows and columns covering a band at one zoom.
type span struct {
	zoom       uint32
	yMin, yMax uint32
	xFrom, xTo int64
	fullLon    bool
}

func bandSpan(b Band, z uint32, proj Projection) span {
	s := span{zoom: z, yMin: tileRow(b.MaxLat, z, proj), yMax: tileRow(b.MinLat, z, proj)}
	n := int64(1) << z
	if b.FullLon() {
		s.fullLon = true
		return s
	}
	s.xFrom = tileCol(b.CenterLon-b.HalfWidth, z)
	s.xTo = tileCol(b.CenterLon+b.HalfWidth, z)
	if s.xTo-s.xFrom+1 >= n {
		s.fullLon = true
	}
	return s
}

func (s span) cols() int64 {
	if s.fullLon {
		return int64(1) << s.zoom
	}
	return s.xTo - s.xFrom + 1
}

func (s span) count() int {
	return int(s.cols() * int64(s.yMax-s.yMin+1))
}

// CountTiles returns how many tiles cover b at zoom z.
func CountTiles(b Band, z uint32, proj Projection) int {
	return bandSpan(b, z, proj).count()
}

// Enumerate returns the tiles covering b at zoom z, nearest-first to the
// band's focus point by great-circle distance.
func Enumerate(layer model.Layer, b Band, z uint32, proj Projection) []model.TileKey {
	s := bandSpan(b, z, proj)
	n := int64(1) << z
	keys := make([]model.TileKey, 0, s.count())

	from, to := s.xFrom, s.xTo
	if s.fullLon {
		from, to = 0, n-1
	}
	for y := s.yMin; y <= s.yMax; y++ {
		for x := from; x <= to; x++ {
			wx := ((x % n) + n) % n
			keys = append(keys, model.TileKey{Layer: layer, Zoom: z, X: uint32(wx), Y: y})
		}
	}

	dist := make(map[model.TileKey]float64, len(keys))
	for _, k := range keys {
		lat, lon := TileBounds(k, proj).Center()
		dist[k] = core.GreatCircleDeg(b.FocusLat, b.FocusLon, lat, lon)
	}
	sort.Slice(keys, func(i, j int) bool {
		di, dj := dist[keys[i]], dist[keys[j]]
		if di != dj {
			return di < dj
		}
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})
	return keys
}

// Cover returns the zoom and tiles covering b, stepping from zoom toward
// minZoom until the count fits within maxTiles. maxTiles ≤ 0 disables the
// limit.
func Cover(layer model.Layer, b Band, zoom, minZoom uint32, maxTiles int, proj Projection) (uint32, []model.TileKey) {
	z := zoom
	for maxTiles > 0 && z > minZoom && CountTiles(b, z, proj) > maxTiles {
		z--
	}
	return z, Enumerate(layer, b, z, proj)
}
