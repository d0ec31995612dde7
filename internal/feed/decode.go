// Package feed turns upstream entity payloads into typed records: org
// snapshots over a websocket stream, flight/satellite/ship polling
// responses, and recorded sessions for offline replay.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/model"
)

// Namespaces used by the console.
const (
	NamespaceAssets     = "assets"
	NamespaceUnits      = "units"
	NamespaceMissions   = "missions"
	NamespaceIncidents  = "incidents"
	NamespaceFlights    = "flights"
	NamespaceSatellites = "satellites"
	NamespaceShips      = "ships"
)

// ErrMalformed indicates a payload that is not a JSON object of the
// expected shape.
var ErrMalformed = errors.New("malformed feed payload")

// ParseError describes one bad record. A Retained error concerns only the
// record's position: the record is kept without it and the index places
// it at its fallback position.
type ParseError struct {
	Section  string
	Index    int
	Field    string
	Reason   string
	Retained bool
}

func (e *ParseError) Error() string {
	msg := e.Reason
	if e.Retained {
		msg += " (kept without position)"
	}
	if e.Field == "" {
		return fmt.Sprintf("%s[%d]: %s", e.Section, e.Index, msg)
	}
	return fmt.Sprintf("%s[%d].%s: %s", e.Section, e.Index, e.Field, msg)
}

// coord is an optional coordinate. A value that is not a JSON number
// decodes as absent and is remembered so it can be reported.
type coord struct {
	v   *float64
	bad string
}

func (c *coord) UnmarshalJSON(b []byte) error {
	*c = coord{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		c.bad = string(b)
		if len(c.bad) > 32 {
			c.bad = c.bad[:32] + "..."
		}
		return nil
	}
	c.v = &f
	return nil
}

// value returns the coordinate, recording a retained ParseError when the
// field held something other than a number.
func (c coord) value(ns string, i int, field string, errs *[]error) *float64 {
	if c.bad != "" {
		*errs = append(*errs, &ParseError{
			Section:  ns,
			Index:    i,
			Field:    field,
			Reason:   "expected number, got " + c.bad,
			Retained: true,
		})
	}
	return c.v
}

// Batch is one namespace's decoded snapshot.
type Batch struct {
	Namespace string
	Kind      model.Kind
	Records   []model.Record
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }

type baseWire struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Status   string          `json:"status"`
	Lat      coord           `json:"lat"`
	Lon      coord           `json:"lon"`
	AltKm    coord           `json:"alt_km"`
	Color    string          `json:"color"`
	Geometry json.RawMessage `json:"geometry"`
}

type assetWire struct {
	baseWire
	Category string `json:"category"`
}

type unitWire struct {
	baseWire
	Echelon string `json:"echelon"`
}

type missionWire struct {
	baseWire
	Priority int `json:"priority"`
}

type incidentWire struct {
	baseWire
	Severity string `json:"severity"`
}

type flightWire struct {
	ID       string  `json:"id"`
	Callsign string  `json:"callsign"`
	Lat      coord   `json:"lat"`
	Lon      coord   `json:"lon"`
	AltM     coord   `json:"alt_m"`
	Heading  float64 `json:"heading"`
	SpeedKts float64 `json:"speed_kts"`
	Status   string  `json:"status"`
}

type satelliteWire struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	NoradID uint32 `json:"norad_id"`
	Lat     coord  `json:"lat"`
	Lon     coord  `json:"lon"`
	AltKm   coord  `json:"alt_km"`
	TLE1    string `json:"tle1"`
	TLE2    string `json:"tle2"`
	Status  string `json:"status"`
}

type shipWire struct {
	MMSI    string  `json:"mmsi"`
	Name    string  `json:"name"`
	Lat     coord   `json:"lat"`
	Lon     coord   `json:"lon"`
	Heading float64 `json:"heading"`
	Status  string  `json:"status"`
}

// orgWire keeps each record raw so one bad record rejects only itself.
type orgWire struct {
	Assets    []json.RawMessage `json:"assets"`
	Units     []json.RawMessage `json:"units"`
	Missions  []json.RawMessage `json:"missions"`
	Incidents []json.RawMessage `json:"incidents"`
}

// DecodeOrgSnapshot decodes an {assets, units, missions, incidents}
// snapshot into one batch per namespace. Rejected records are reported in
// the returned error, joined; the batches hold every record that decoded.
func DecodeOrgSnapshot(data []byte) ([]Batch, error) {
	var w orgWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: org snapshot: %v", ErrMalformed, err)
	}
	var errs []error
	batches := []Batch{
		decodeSection(NamespaceAssets, model.KindAsset, w.Assets, &errs, func(b model.Base, raw json.RawMessage) (model.Record, error) {
			var a assetWire
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, err
			}
			return model.AssetRecord{Base: b, Category: a.Category}, nil
		}),
		decodeSection(NamespaceUnits, model.KindUnit, w.Units, &errs, func(b model.Base, raw json.RawMessage) (model.Record, error) {
			var u unitWire
			if err := json.Unmarshal(raw, &u); err != nil {
				return nil, err
			}
			return model.UnitRecord{Base: b, Echelon: u.Echelon}, nil
		}),
		decodeSection(NamespaceMissions, model.KindMission, w.Missions, &errs, func(b model.Base, raw json.RawMessage) (model.Record, error) {
			var m missionWire
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, err
			}
			return model.MissionRecord{Base: b, Priority: m.Priority}, nil
		}),
		decodeSection(NamespaceIncidents, model.KindIncident, w.Incidents, &errs, func(b model.Base, raw json.RawMessage) (model.Record, error) {
			var i incidentWire
			if err := json.Unmarshal(raw, &i); err != nil {
				return nil, err
			}
			return model.IncidentRecord{Base: b, Severity: i.Severity}, nil
		}),
	}
	return batches, errors.Join(errs...)
}

func decodeSection(ns string, kind model.Kind, raws []json.RawMessage, errs *[]error, variant func(model.Base, json.RawMessage) (model.Record, error)) Batch {
	batch := Batch{Namespace: ns, Kind: kind, Records: make([]model.Record, 0, len(raws))}
	for i, raw := range raws {
		var w baseWire
		if err := json.Unmarshal(raw, &w); err != nil {
			*errs = append(*errs, fieldError(ns, i, err))
			continue
		}
		var retained []error
		base, err := w.base(ns, i, &retained)
		if err != nil {
			*errs = append(*errs, err)
			continue
		}
		rec, err := variant(base, raw)
		if err != nil {
			*errs = append(*errs, fieldError(ns, i, err))
			continue
		}
		*errs = append(*errs, retained...)
		batch.Records = append(batch.Records, rec)
	}
	return batch
}

// base builds the shared record fields. Bad coordinates and geometry are
// appended to errs as retained errors; the returned error rejects the
// record.
func (w baseWire) base(ns string, i int, errs *[]error) (model.Base, error) {
	id := strings.TrimSpace(w.ID)
	if id == "" {
		return model.Base{}, &ParseError{Section: ns, Index: i, Field: "id", Reason: "missing"}
	}
	b := model.Base{
		SourceID: id,
		Name:     w.Name,
		State:    w.Status,
	}
	if w.Color != "" {
		c, err := colorful.Hex(w.Color)
		if err != nil {
			return model.Base{}, &ParseError{Section: ns, Index: i, Field: "color", Reason: err.Error()}
		}
		r, g, bl := c.RGB255()
		b.Tint = &model.RGBA{R: r, G: g, B: bl, A: 255}
	}
	b.Geo = model.GeoPoint{
		Lat:   w.Lat.value(ns, i, "lat", errs),
		Lon:   w.Lon.value(ns, i, "lon", errs),
		AltKm: w.AltKm.value(ns, i, "alt_km", errs),
	}
	if (b.Geo.Lat == nil || b.Geo.Lon == nil) && len(w.Geometry) > 0 && !bytes.Equal(w.Geometry, []byte("null")) {
		lat, lon, err := centroid(w.Geometry)
		if err != nil {
			*errs = append(*errs, &ParseError{Section: ns, Index: i, Field: "geometry", Reason: err.Error(), Retained: true})
		} else {
			b.Geo.Lat, b.Geo.Lon = &lat, &lon
		}
	}
	return b, nil
}

// centroid returns the planar centroid of a GeoJSON geometry.
func centroid(raw json.RawMessage) (lat, lon float64, err error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return 0, 0, err
	}
	geom := g.Geometry()
	if geom == nil {
		return 0, 0, errors.New("empty geometry")
	}
	p, _ := planar.CentroidArea(geom)
	return p.Lat(), p.Lon(), nil
}

func fieldError(ns string, i int, err error) error {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		return &ParseError{Section: ns, Index: i, Field: te.Field, Reason: fmt.Sprintf("expected %s, got %s", te.Type, te.Value)}
	}
	return &ParseError{Section: ns, Index: i, Reason: err.Error()}
}

// decodeList decodes {"<section>": [...]} where each element is rejected
// on its own.
func decodeList[W any](data []byte, section string, fn func(i int, w W, errs *[]error) (model.Record, error)) ([]model.Record, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, section, err)
	}
	var raws []json.RawMessage
	if body, ok := env[section]; ok {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, section, err)
		}
	}

	records := make([]model.Record, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		var w W
		if err := json.Unmarshal(raw, &w); err != nil {
			errs = append(errs, fieldError(section, i, err))
			continue
		}
		var retained []error
		rec, err := fn(i, w, &retained)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, retained...)
		records = append(records, rec)
	}
	return records, errors.Join(errs...)
}

// DecodeFlights decodes a flights polling response.
func DecodeFlights(data []byte) (Batch, error) {
	recs, err := decodeList(data, NamespaceFlights, func(i int, w flightWire, errs *[]error) (model.Record, error) {
		if strings.TrimSpace(w.ID) == "" {
			return nil, &ParseError{Section: NamespaceFlights, Index: i, Field: "id", Reason: "missing"}
		}
		geo := model.GeoPoint{
			Lat: w.Lat.value(NamespaceFlights, i, "lat", errs),
			Lon: w.Lon.value(NamespaceFlights, i, "lon", errs),
		}
		if m := w.AltM.value(NamespaceFlights, i, "alt_m", errs); m != nil {
			km := *m / 1000
			geo.AltKm = &km
		}
		return model.FlightRecord{
			Base:       model.Base{SourceID: w.ID, Name: w.Callsign, State: w.Status, Geo: geo},
			Callsign:   strings.TrimSpace(w.Callsign),
			HeadingDeg: w.Heading,
			SpeedKts:   w.SpeedKts,
		}, nil
	})
	return Batch{Namespace: NamespaceFlights, Kind: model.KindFlight, Records: recs}, err
}

// DecodeShips decodes a ships polling response.
func DecodeShips(data []byte) (Batch, error) {
	recs, err := decodeList(data, NamespaceShips, func(i int, w shipWire, errs *[]error) (model.Record, error) {
		if strings.TrimSpace(w.MMSI) == "" {
			return nil, &ParseError{Section: NamespaceShips, Index: i, Field: "mmsi", Reason: "missing"}
		}
		geo := model.GeoPoint{
			Lat: w.Lat.value(NamespaceShips, i, "lat", errs),
			Lon: w.Lon.value(NamespaceShips, i, "lon", errs),
		}
		return model.ShipRecord{
			Base:       model.Base{SourceID: w.MMSI, Name: w.Name, State: w.Status, Geo: geo},
			MMSI:       w.MMSI,
			HeadingDeg: w.Heading,
		}, nil
	})
	return Batch{Namespace: NamespaceShips, Kind: model.KindShip, Records: recs}, err
}

// DecodeSatellites decodes a satellites polling response. Records without
// an explicit position are propagated from their TLE to now.
func DecodeSatellites(data []byte, now time.Time) (Batch, error) {
	recs, err := decodeList(data, NamespaceSatellites, func(i int, w satelliteWire, errs *[]error) (model.Record, error) {
		if strings.TrimSpace(w.ID) == "" {
			return nil, &ParseError{Section: NamespaceSatellites, Index: i, Field: "id", Reason: "missing"}
		}
		geo := model.GeoPoint{
			Lat:   w.Lat.value(NamespaceSatellites, i, "lat", errs),
			Lon:   w.Lon.value(NamespaceSatellites, i, "lon", errs),
			AltKm: w.AltKm.value(NamespaceSatellites, i, "alt_km", errs),
		}
		if (geo.Lat == nil || geo.Lon == nil) && w.TLE1 != "" {
			prop, err := core.NewOrbitPropagator(w.TLE1, w.TLE2)
			if err != nil {
				return nil, &ParseError{Section: NamespaceSatellites, Index: i, Field: "tle", Reason: err.Error()}
			}
			pos, err := prop.At(now)
			if err != nil {
				return nil, &ParseError{Section: NamespaceSatellites, Index: i, Field: "tle", Reason: err.Error()}
			}
			geo = model.GeoPoint{Lat: &pos.LatDeg, Lon: &pos.LonDeg, AltKm: &pos.AltKm}
		}
		return model.SatelliteRecord{
			Base:    model.Base{SourceID: w.ID, Name: w.Name, State: w.Status, Geo: geo},
			NoradID: w.NoradID,
		}, nil
	})
	return Batch{Namespace: NamespaceSatellites, Kind: model.KindSatellite, Records: recs}, err
}

// Decode dispatches a polling response by namespace.
func Decode(namespace string, data []byte, now time.Time) (Batch, error) {
	switch namespace {
	case NamespaceFlights:
		return DecodeFlights(data)
	case NamespaceShips:
		return DecodeShips(data)
	case NamespaceSatellites:
		return DecodeSatellites(data, now)
	default:
		return Batch{}, fmt.Errorf("%w: unknown namespace %q", ErrMalformed, namespace)
	}
}
