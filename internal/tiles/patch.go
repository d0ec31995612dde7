package tiles

import (
	"math"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/model"
)

// Patch is the curved sphere mesh for one tile. Vertices are laid out row
// by row from the north-west corner.
type Patch struct {
	Positions []float32
	Normals   []float32
	UVs       []float32
	Indices   []uint32
	Segments  int
}

// VertexCount returns the number of vertices in the patch.
func (p Patch) VertexCount() int { return len(p.Positions) / 3 }

// SegmentsFor picks a tessellation for b so that large tiles stay round.
func SegmentsFor(b model.Bounds, min int) int {
	span := math.Max(b.MaxLat-b.MinLat, b.MaxLon-b.MinLon)
	seg := int(math.Ceil(span / 4))
	if seg < min {
		seg = min
	}
	if seg < 1 {
		seg = 1
	}
	return min2(seg, 64)
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// BuildPatch tessellates b on a sphere of the given radius. Geometry is
// spaced linearly in latitude; texture V follows the source projection so
// Mercator imagery lands on the right latitudes.
func BuildPatch(b model.Bounds, proj Projection, radius float64, segments int) Patch {
	if segments < 1 {
		segments = 1
	}
	stride := segments + 1
	p := Patch{
		Positions: make([]float32, 0, 3*stride*stride),
		Normals:   make([]float32, 0, 3*stride*stride),
		UVs:       make([]float32, 0, 2*stride*stride),
		Indices:   make([]uint32, 0, 6*segments*segments),
		Segments:  segments,
	}

	yTop, yBottom := mercatorY(b.MaxLat), mercatorY(b.MinLat)
	for i := 0; i <= segments; i++ {
		t := float64(i) / float64(segments)
		lat := b.MaxLat - (b.MaxLat-b.MinLat)*t
		v := t
		if proj == ProjectionMercator && yTop != yBottom {
			v = (yTop - mercatorY(lat)) / (yTop - yBottom)
		}
		for j := 0; j <= segments; j++ {
			u := float64(j) / float64(segments)
			lon := b.MinLon + (b.MaxLon-b.MinLon)*u
			n := core.LatLonToVec3(lat, lon, 1)
			pos := n.Scale(radius)
			p.Positions = append(p.Positions, float32(pos.X), float32(pos.Y), float32(pos.Z))
			p.Normals = append(p.Normals, float32(n.X), float32(n.Y), float32(n.Z))
			p.UVs = append(p.UVs, float32(u), float32(v))
		}
	}

	for i := 0; i < segments; i++ {
		for j := 0; j < segments; j++ {
			a := uint32(i*stride + j)
			c := a + uint32(stride)
			p.Indices = append(p.Indices, a, c, a+1, a+1, c, c+1)
		}
	}
	return p
}

func mercatorY(lat float64) float64 {
	lat = math.Max(math.Min(lat, MercatorMaxLat), -MercatorMaxLat)
	r := lat * math.Pi / 180
	return math.Log(math.Tan(math.Pi/4 + r/2))
}
