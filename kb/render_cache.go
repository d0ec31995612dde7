package kb

import (
	"slices"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/model"
)

// RenderCache holds per-entity render attributes as parallel arrays, in
// ascending id order. It is rebuilt at most once per tick and shared by
// every consumer; callers must treat it as read-only.
type RenderCache struct {
	Tick uint64

	IDs   []model.EntityID
	Kinds []model.Kind
	// Positions holds x, y, z per entity.
	Positions []float32
	// Colors holds r, g, b, a per entity.
	Colors []uint8
	Sizes  []float32

	built bool
	slot  map[model.EntityID]int
}

// Len returns the number of entities in the cache.
func (c *RenderCache) Len() int { return len(c.IDs) }

// Position returns the scene position of entry i.
func (c *RenderCache) Position(i int) core.Vec3 {
	return core.Vec3{
		X: float64(c.Positions[3*i]),
		Y: float64(c.Positions[3*i+1]),
		Z: float64(c.Positions[3*i+2]),
	}
}

// Color returns the color of entry i.
func (c *RenderCache) Color(i int) model.RGBA {
	return model.RGBA{R: c.Colors[4*i], G: c.Colors[4*i+1], B: c.Colors[4*i+2], A: c.Colors[4*i+3]}
}

// IndexOf returns the slot of id.
func (c *RenderCache) IndexOf(id model.EntityID) (int, bool) {
	i, ok := c.slot[id]
	return i, ok
}

// RefreshRenderCache recomputes the render arrays for tick. Repeated calls
// with the same tick and no intervening change return the cached arrays.
func (ix *EntityIndex) RefreshRenderCache(tick uint64) *RenderCache {
	c := &ix.cache
	if c.built && c.Tick == tick && !ix.dirty {
		return c
	}
	ix.tick = tick

	n := len(ix.entities)
	c.IDs = c.IDs[:0]
	for id := range ix.entities {
		c.IDs = append(c.IDs, id)
	}
	slices.Sort(c.IDs)

	c.Kinds = c.Kinds[:0]
	c.Colors = c.Colors[:0]
	c.Sizes = c.Sizes[:0]
	c.Positions = c.Positions[:0]
	if c.slot == nil {
		c.slot = make(map[model.EntityID]int, n)
	} else {
		clear(c.slot)
	}

	accelerated := false
	if ix.spatial.Enabled() {
		var err error
		if c.Positions, err = ix.spatial.Transform(c.IDs, ix.radius, c.Positions); err == nil {
			accelerated = true
		} else {
			c.Positions = c.Positions[:0]
			ix.spatial = nil
		}
	}

	for i, id := range c.IDs {
		e := ix.entities[id]
		c.slot[id] = i
		c.Kinds = append(c.Kinds, e.Kind)
		c.Colors = append(c.Colors, e.Color.R, e.Color.G, e.Color.B, e.Color.A)
		c.Sizes = append(c.Sizes, e.Size)
		if !accelerated {
			p := core.LatLonToVec3(e.Lat, e.Lon, ix.radius*(1+e.Alt))
			c.Positions = append(c.Positions, float32(p.X), float32(p.Y), float32(p.Z))
		}
	}

	c.Tick = tick
	c.built = true
	ix.dirty = false
	return c
}
