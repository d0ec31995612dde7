package core

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/globe-console/model"
)

var (
	// ErrRuntimeClosed is returned by calls on a closed or uninitialised
	// runtime.
	ErrRuntimeClosed = errors.New("spatial runtime not initialised")
	// ErrInvalidConfig indicates a runtime configuration that cannot be
	// initialised.
	ErrInvalidConfig = errors.New("invalid spatial runtime config")
)

// SpatialRecord is one entry of an Upsert batch.
type SpatialRecord struct {
	ID   model.EntityID
	Kind model.Kind
	Lat  float64
	Lon  float64
	Alt  float64
}

// SpatialConfig sizes the bucket grid.
type SpatialConfig struct {
	// CellDeg is the edge length of one grid bucket in degrees.
	CellDeg float64
}

// DefaultSpatialConfig returns a 5° grid.
func DefaultSpatialConfig() SpatialConfig {
	return SpatialConfig{CellDeg: 5}
}

type cell struct {
	row, col int
}

// SpatialRuntime is the acceleration structure behind the entity index: a
// uniform lat/lon bucket grid with per-kind membership and a batch
// position transform.
//
// It is owned by the application root and used only from the frame loop;
// it performs no locking.
type SpatialRuntime struct {
	cfg     SpatialConfig
	enabled bool

	records map[model.EntityID]SpatialRecord
	cells   map[cell]map[model.EntityID]struct{}
	byKind  map[model.Kind]map[model.EntityID]struct{}
}

// NewSpatialRuntime constructs a runtime. It must be initialised with Init
// before use.
func NewSpatialRuntime(cfg SpatialConfig) *SpatialRuntime {
	return &SpatialRuntime{cfg: cfg}
}

// Init allocates the grid. On failure the runtime stays disabled and every
// call returns ErrRuntimeClosed.
func (s *SpatialRuntime) Init() error {
	if s == nil {
		return ErrRuntimeClosed
	}
	c := s.cfg.CellDeg
	if math.IsNaN(c) || c <= 0 || c > 180 {
		return fmt.Errorf("%w: cell size %v", ErrInvalidConfig, c)
	}
	s.records = make(map[model.EntityID]SpatialRecord)
	s.cells = make(map[cell]map[model.EntityID]struct{})
	s.byKind = make(map[model.Kind]map[model.EntityID]struct{})
	s.enabled = true
	return nil
}

// Enabled reports whether Init succeeded and Close has not been called.
func (s *SpatialRuntime) Enabled() bool {
	return s != nil && s.enabled
}

// Close releases all storage. The runtime can be re-initialised.
func (s *SpatialRuntime) Close() error {
	if s == nil {
		return nil
	}
	s.enabled = false
	s.records = nil
	s.cells = nil
	s.byKind = nil
	return nil
}

// Len returns the number of stored records.
func (s *SpatialRuntime) Len() int {
	if !s.Enabled() {
		return 0
	}
	return len(s.records)
}

// Upsert inserts or moves a batch of records.
func (s *SpatialRuntime) Upsert(batch []SpatialRecord) error {
	if !s.Enabled() {
		return ErrRuntimeClosed
	}
	for _, rec := range batch {
		if prev, ok := s.records[rec.ID]; ok {
			s.unlink(prev)
		}
		s.records[rec.ID] = rec
		s.link(rec)
	}
	return nil
}

// Remove deletes a batch of ids. Unknown ids are ignored.
func (s *SpatialRuntime) Remove(ids []model.EntityID) error {
	if !s.Enabled() {
		return ErrRuntimeClosed
	}
	for _, id := range ids {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		s.unlink(rec)
		delete(s.records, id)
	}
	return nil
}

// Contains reports whether id is stored.
func (s *SpatialRuntime) Contains(id model.EntityID) bool {
	if !s.Enabled() {
		return false
	}
	_, ok := s.records[id]
	return ok
}

// AppendKind appends the ids of the given kind to dst in ascending order.
func (s *SpatialRuntime) AppendKind(kind model.Kind, dst []model.EntityID) ([]model.EntityID, error) {
	if !s.Enabled() {
		return dst, ErrRuntimeClosed
	}
	start := len(dst)
	for id := range s.byKind[kind] {
		dst = append(dst, id)
	}
	slices.Sort(dst[start:])
	return dst, nil
}

// AppendWithin appends ids whose position lies inside the bound, in
// ascending order. Bounds with Min.Lon() > Max.Lon() wrap the antimeridian.
func (s *SpatialRuntime) AppendWithin(b orb.Bound, dst []model.EntityID) ([]model.EntityID, error) {
	if !s.Enabled() {
		return dst, ErrRuntimeClosed
	}
	start := len(dst)
	minLat, maxLat := b.Min.Lat(), b.Max.Lat()
	minLon, maxLon := b.Min.Lon(), b.Max.Lon()
	wraps := minLon > maxLon

	r0, r1 := s.row(minLat), s.row(maxLat)
	visit := func(c0, c1 int) {
		for r := r0; r <= r1; r++ {
			for c := c0; c <= c1; c++ {
				for id := range s.cells[cell{row: r, col: c}] {
					rec := s.records[id]
					if rec.Lat < minLat || rec.Lat > maxLat {
						continue
					}
					if wraps {
						if rec.Lon < minLon && rec.Lon > maxLon {
							continue
						}
					} else if rec.Lon < minLon || rec.Lon > maxLon {
						continue
					}
					dst = append(dst, id)
				}
			}
		}
	}
	if wraps {
		visit(s.col(minLon), s.col(180))
		visit(s.col(-180), s.col(maxLon))
	} else {
		visit(s.col(minLon), s.col(maxLon))
	}
	slices.Sort(dst[start:])
	dst = slices.Compact(dst)
	return dst, nil
}

// Transform appends the xyz scene position of each id to dst, three floats
// per id. Unknown ids produce the origin.
func (s *SpatialRuntime) Transform(ids []model.EntityID, radius float64, dst []float32) ([]float32, error) {
	if !s.Enabled() {
		return dst, ErrRuntimeClosed
	}
	for _, id := range ids {
		rec, ok := s.records[id]
		if !ok {
			dst = append(dst, 0, 0, 0)
			continue
		}
		p := LatLonToVec3(rec.Lat, rec.Lon, radius*(1+rec.Alt))
		dst = append(dst, float32(p.X), float32(p.Y), float32(p.Z))
	}
	return dst, nil
}

func (s *SpatialRuntime) link(rec SpatialRecord) {
	c := cell{row: s.row(rec.Lat), col: s.col(rec.Lon)}
	set := s.cells[c]
	if set == nil {
		set = make(map[model.EntityID]struct{})
		s.cells[c] = set
	}
	set[rec.ID] = struct{}{}

	kinds := s.byKind[rec.Kind]
	if kinds == nil {
		kinds = make(map[model.EntityID]struct{})
		s.byKind[rec.Kind] = kinds
	}
	kinds[rec.ID] = struct{}{}
}

func (s *SpatialRuntime) unlink(rec SpatialRecord) {
	c := cell{row: s.row(rec.Lat), col: s.col(rec.Lon)}
	if set := s.cells[c]; set != nil {
		delete(set, rec.ID)
		if len(set) == 0 {
			delete(s.cells, c)
		}
	}
	if kinds := s.byKind[rec.Kind]; kinds != nil {
		delete(kinds, rec.ID)
	}
}

func (s *SpatialRuntime) row(lat float64) int {
	return int(math.Floor((clamp(lat, -90, 90) + 90) / s.cfg.CellDeg))
}

func (s *SpatialRuntime) col(lon float64) int {
	return int(math.Floor((clamp(lon, -180, 180) + 180) / s.cfg.CellDeg))
}
