package model

import (
	"fmt"
	"time"
)

// Layer names an imagery layer. Each layer has its own tile manager.
type Layer string

const (
	LayerBase    Layer = "base"
	LayerSea     Layer = "sea"
	LayerWeather Layer = "weather"
)

// TileKey uniquely identifies one imagery cell.
type TileKey struct {
	Layer Layer
	Zoom  uint32
	X     uint32
	Y     uint32
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Layer, k.Zoom, k.X, k.Y)
}

// Valid reports whether x and y fall inside the 2^z grid.
func (k TileKey) Valid() bool {
	return k.Zoom < 32 && k.X < (1<<k.Zoom) && k.Y < (1<<k.Zoom)
}

// TileState is the fetch lifecycle of a tile.
type TileState uint8

const (
	TileQueued TileState = iota
	TilePending
	TileResident
	TileFailed
)

func (s TileState) String() string {
	switch s {
	case TileQueued:
		return "queued"
	case TilePending:
		return "pending"
	case TileResident:
		return "resident"
	case TileFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Bounds is a lat/lon box in degrees.
type Bounds struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Center returns the box midpoint.
func (b Bounds) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// TileInfo is a read-only snapshot of one managed tile.
type TileInfo struct {
	Key      TileKey
	Bounds   Bounds
	State    TileState
	Visible  bool
	LastUsed time.Time
	Epoch    uint64
}
