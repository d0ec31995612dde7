package model

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// EntityID is the opaque 64-bit identifier of a tracked entity.
type EntityID uint64

// String renders the id as fixed-width hex.
func (id EntityID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// IDForKey derives the entity id from its stable source key. The same key
// always yields the same id, in every process.
func IDForKey(key string) EntityID {
	return EntityID(xxhash.Sum64String(key))
}

// Kind classifies an entity.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAsset
	KindUnit
	KindMission
	KindIncident
	KindFlight
	KindSatellite
	KindShip
)

// AllKinds lists every kind in declaration order.
var AllKinds = []Kind{
	KindUnknown,
	KindAsset,
	KindUnit,
	KindMission,
	KindIncident,
	KindFlight,
	KindSatellite,
	KindShip,
}

var kindNames = [...]string{
	KindUnknown:   "unknown",
	KindAsset:     "asset",
	KindUnit:      "unit",
	KindMission:   "mission",
	KindIncident:  "incident",
	KindFlight:    "flight",
	KindSatellite: "satellite",
	KindShip:      "ship",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a kind name back to its value; unrecognised names are
// KindUnknown.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return Kind(k)
		}
	}
	return KindUnknown
}

// KeyFor builds the stable key "<kind>:<sourceID>" used to match records
// across snapshots.
func KeyFor(kind Kind, sourceID string) string {
	return kind.String() + ":" + sourceID
}

// DefaultAltitude is the offset above the reference sphere, in globe radii,
// used for a kind when the record carries no altitude.
func DefaultAltitude(kind Kind) float64 {
	switch kind {
	case KindAsset, KindUnit:
		return 0.002
	case KindMission:
		return 0.004
	case KindIncident:
		return 0.003
	case KindFlight:
		return 0.01
	case KindSatellite:
		return 0.08
	case KindShip:
		return 0.001
	default:
		return 0.002
	}
}

// DefaultSize is the marker point size for a kind.
func DefaultSize(kind Kind) float32 {
	switch kind {
	case KindFlight, KindShip:
		return 3
	case KindSatellite:
		return 2.5
	case KindMission, KindIncident:
		return 6
	default:
		return 5
	}
}

// RGBA is an 8-bit per channel color.
type RGBA struct {
	R, G, B, A uint8
}

// Entity is a tracked geo-positioned record in its render-ready form.
type Entity struct {
	ID        EntityID
	Key       string
	Namespace string
	Kind      Kind

	Lat float64
	Lon float64
	// Alt is the offset above the reference sphere in globe radii.
	Alt float64

	Color RGBA
	Size  float32

	Label  string
	Status string

	// Fallback is set when the position was synthesized from the key
	// because the source coordinates were missing or invalid.
	Fallback bool

	LastSeen uint64
}

// SameVisual reports whether two entities would render identically.
// LastSeen is freshness only and is ignored.
func (e Entity) SameVisual(o Entity) bool {
	return e.Kind == o.Kind &&
		e.Lat == o.Lat &&
		e.Lon == o.Lon &&
		e.Alt == o.Alt &&
		e.Color == o.Color &&
		e.Size == o.Size &&
		e.Label == o.Label &&
		e.Status == o.Status &&
		e.Fallback == o.Fallback
}
