package model

// GeoPoint is a geodetic position. Lat/Lon are nil when the source did not
// carry them, which is distinct from a zero coordinate.
type GeoPoint struct {
	Lat *float64
	Lon *float64
	// AltKm is an optional height above the surface in kilometres.
	AltKm *float64
}

// Point builds a GeoPoint from concrete coordinates.
func Point(lat, lon float64) GeoPoint {
	return GeoPoint{Lat: &lat, Lon: &lon}
}

// Record is a validated snapshot entry. Each entity kind has its own
// variant; the index only relies on this interface.
type Record interface {
	Key() string
	Kind() Kind
	Position() GeoPoint
	Label() string
	Status() string
	// Color returns an explicit color and true, or false to use the
	// kind palette.
	Color() (RGBA, bool)
}

// Base carries the fields common to every record variant.
type Base struct {
	SourceID string
	Name     string
	State    string
	Geo      GeoPoint
	Tint     *RGBA
}

func (b Base) Position() GeoPoint { return b.Geo }
func (b Base) Label() string      { return b.Name }
func (b Base) Status() string     { return b.State }

func (b Base) Color() (RGBA, bool) {
	if b.Tint == nil {
		return RGBA{}, false
	}
	return *b.Tint, true
}

// AssetRecord is an organizational asset (vehicle, sensor, facility).
type AssetRecord struct {
	Base
	Category string
}

func (r AssetRecord) Key() string { return KeyFor(KindAsset, r.SourceID) }
func (r AssetRecord) Kind() Kind  { return KindAsset }

// UnitRecord is an organizational unit.
type UnitRecord struct {
	Base
	Echelon string
}

func (r UnitRecord) Key() string { return KeyFor(KindUnit, r.SourceID) }
func (r UnitRecord) Kind() Kind  { return KindUnit }

// MissionRecord is a planned or active mission.
type MissionRecord struct {
	Base
	Priority int
}

func (r MissionRecord) Key() string { return KeyFor(KindMission, r.SourceID) }
func (r MissionRecord) Kind() Kind  { return KindMission }

// IncidentRecord is a reported incident.
type IncidentRecord struct {
	Base
	Severity string
}

func (r IncidentRecord) Key() string { return KeyFor(KindIncident, r.SourceID) }
func (r IncidentRecord) Kind() Kind  { return KindIncident }

// FlightRecord is a live aircraft position.
type FlightRecord struct {
	Base
	Callsign   string
	HeadingDeg float64
	SpeedKts   float64
}

func (r FlightRecord) Key() string { return KeyFor(KindFlight, r.SourceID) }
func (r FlightRecord) Kind() Kind  { return KindFlight }

func (r FlightRecord) Label() string {
	if r.Callsign != "" {
		return r.Callsign
	}
	return r.Name
}

// SatelliteRecord is a satellite position, either reported directly or
// propagated from a TLE by the feed.
type SatelliteRecord struct {
	Base
	NoradID uint32
}

func (r SatelliteRecord) Key() string { return KeyFor(KindSatellite, r.SourceID) }
func (r SatelliteRecord) Kind() Kind  { return KindSatellite }

// ShipRecord is a vessel position.
type ShipRecord struct {
	Base
	MMSI       string
	HeadingDeg float64
}

func (r ShipRecord) Key() string { return KeyFor(KindShip, r.SourceID) }
func (r ShipRecord) Kind() Kind  { return KindShip }
