package kb

import (
	"math"
	"slices"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/model"
)

// IngestResult describes what one Ingest call changed.
type IngestResult struct {
	Namespace string
	Added     []model.EntityID
	Updated   []model.EntityID
	Unchanged []model.EntityID
	Removed   []model.EntityID
	// Fallback lists ids whose position was synthesized this call.
	Fallback []model.EntityID
}

// Changed reports whether the ingest altered any visible state.
func (r IngestResult) Changed() bool {
	return len(r.Added) > 0 || len(r.Updated) > 0 || len(r.Removed) > 0
}

// Option customises EntityIndex construction.
type Option func(*EntityIndex)

// WithSpatialRuntime attaches an initialised acceleration runtime. A nil
// or disabled runtime leaves the index on direct computation.
func WithSpatialRuntime(rt *core.SpatialRuntime) Option {
	return func(ix *EntityIndex) {
		ix.spatial = rt
	}
}

// WithGlobeRadius sets the scene radius used by the position transform.
func WithGlobeRadius(r float64) Option {
	return func(ix *EntityIndex) {
		if r > 0 && !math.IsInf(r, 0) {
			ix.radius = r
		}
	}
}

// WithPalette overrides the kind colors.
func WithPalette(p Palette) Option {
	return func(ix *EntityIndex) {
		if p != nil {
			ix.palette = p
		}
	}
}

// EntityIndex owns the canonical set of tracked entities. It is mutated
// only from the frame loop and takes no locks.
type EntityIndex struct {
	radius  float64
	palette Palette
	spatial *core.SpatialRuntime

	entities   map[model.EntityID]*model.Entity
	namespaces map[string]map[model.EntityID]struct{}
	kinds      map[model.Kind]*kindSet

	tick  uint64
	dirty bool
	cache RenderCache
}

// NewEntityIndex constructs an empty index.
func NewEntityIndex(opts ...Option) *EntityIndex {
	ix := &EntityIndex{
		radius:     core.DefaultGlobeRadius,
		palette:    DefaultPalette(),
		entities:   make(map[model.EntityID]*model.Entity),
		namespaces: make(map[string]map[model.EntityID]struct{}),
		kinds:      make(map[model.Kind]*kindSet),
		dirty:      true,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Accelerated reports whether positions come from the spatial runtime.
func (ix *EntityIndex) Accelerated() bool {
	return ix.spatial.Enabled()
}

// Radius returns the globe radius positions are scaled by.
func (ix *EntityIndex) Radius() float64 { return ix.radius }

// Len returns the number of live entities.
func (ix *EntityIndex) Len() int { return len(ix.entities) }

// SetTick records the current frame tick; ingests stamp it as LastSeen.
func (ix *EntityIndex) SetTick(tick uint64) { ix.tick = tick }

// Ingest replaces the live membership of namespace with exactly records.
// Entities of that namespace missing from records are removed from the
// index, the per-kind sets and the spatial store. Duplicate keys within
// records resolve to the last occurrence.
func (ix *EntityIndex) Ingest(namespace string, records []model.Record) IngestResult {
	res := IngestResult{Namespace: namespace}

	batch := make(map[model.EntityID]model.Entity, len(records))
	order := make([]model.EntityID, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		e := ix.build(namespace, rec)
		if _, seen := batch[e.ID]; !seen {
			order = append(order, e.ID)
		}
		batch[e.ID] = e
	}

	prev := ix.namespaces[namespace]
	next := make(map[model.EntityID]struct{}, len(batch))
	var moved []core.SpatialRecord

	for _, id := range order {
		e := batch[id]
		next[id] = struct{}{}
		if e.Fallback {
			res.Fallback = append(res.Fallback, id)
		}

		cur, exists := ix.entities[id]
		switch {
		case !exists:
			stored := e
			ix.entities[id] = &stored
			ix.kindSet(e.Kind).add(id)
			moved = append(moved, spatialRecord(e))
			res.Added = append(res.Added, id)
		case cur.SameVisual(e) && cur.Namespace == namespace:
			cur.LastSeen = e.LastSeen
			res.Unchanged = append(res.Unchanged, id)
		default:
			if cur.Namespace != namespace {
				// Key moved between namespaces; the new owner wins.
				delete(ix.namespaces[cur.Namespace], id)
			}
			if cur.Kind != e.Kind {
				ix.kindSet(cur.Kind).remove(id)
				ix.kindSet(e.Kind).add(id)
			}
			if cur.Lat != e.Lat || cur.Lon != e.Lon || cur.Alt != e.Alt || cur.Kind != e.Kind {
				moved = append(moved, spatialRecord(e))
			}
			*cur = e
			res.Updated = append(res.Updated, id)
		}
	}

	for id := range prev {
		if _, keep := next[id]; keep {
			continue
		}
		cur, ok := ix.entities[id]
		if !ok || cur.Namespace != namespace {
			continue
		}
		ix.kindSet(cur.Kind).remove(id)
		delete(ix.entities, id)
		res.Removed = append(res.Removed, id)
	}
	slices.Sort(res.Removed)

	if len(next) == 0 {
		delete(ix.namespaces, namespace)
	} else {
		ix.namespaces[namespace] = next
	}

	ix.syncSpatial(moved, res.Removed)
	if res.Changed() {
		ix.dirty = true
	}
	return res
}

// Remove drops an entire namespace.
func (ix *EntityIndex) Remove(namespace string) IngestResult {
	return ix.Ingest(namespace, nil)
}

func (ix *EntityIndex) build(namespace string, rec model.Record) model.Entity {
	key := rec.Key()
	kind := rec.Kind()
	e := model.Entity{
		ID:        model.IDForKey(key),
		Key:       key,
		Namespace: namespace,
		Kind:      kind,
		Label:     rec.Label(),
		Status:    rec.Status(),
		Size:      model.DefaultSize(kind),
		Alt:       model.DefaultAltitude(kind),
		LastSeen:  ix.tick,
	}

	pos := rec.Position()
	if pos.Lat != nil && pos.Lon != nil && core.ValidLatLon(*pos.Lat, *pos.Lon) {
		e.Lat, e.Lon = *pos.Lat, *pos.Lon
	} else {
		e.Lat, e.Lon = core.FallbackLatLon(key)
		e.Fallback = true
	}
	if pos.AltKm != nil && *pos.AltKm >= 0 && !math.IsInf(*pos.AltKm, 0) {
		e.Alt = core.AltitudeToRadii(*pos.AltKm)
	}

	if c, ok := rec.Color(); ok {
		e.Color = c
	} else {
		e.Color = ix.palette.Color(kind, e.Status)
	}
	return e
}

func (ix *EntityIndex) syncSpatial(moved []core.SpatialRecord, removed []model.EntityID) {
	if !ix.spatial.Enabled() {
		return
	}
	if len(moved) > 0 {
		if err := ix.spatial.Upsert(moved); err != nil {
			ix.spatial = nil
			return
		}
	}
	if len(removed) > 0 {
		if err := ix.spatial.Remove(removed); err != nil {
			ix.spatial = nil
		}
	}
}

func spatialRecord(e model.Entity) core.SpatialRecord {
	return core.SpatialRecord{ID: e.ID, Kind: e.Kind, Lat: e.Lat, Lon: e.Lon, Alt: e.Alt}
}

// Get returns a copy of the entity.
func (ix *EntityIndex) Get(id model.EntityID) (model.Entity, bool) {
	e, ok := ix.entities[id]
	if !ok {
		return model.Entity{}, false
	}
	return *e, true
}

// Lookup resolves a source key.
func (ix *EntityIndex) Lookup(key string) (model.Entity, bool) {
	return ix.Get(model.IDForKey(key))
}

// Namespaces returns the namespaces with live members, sorted.
func (ix *EntityIndex) Namespaces() []string {
	out := make([]string, 0, len(ix.namespaces))
	for ns, members := range ix.namespaces {
		if len(members) == 0 {
			continue
		}
		out = append(out, ns)
	}
	slices.Sort(out)
	return out
}

// Members returns the ids owned by namespace in ascending order.
func (ix *EntityIndex) Members(namespace string) []model.EntityID {
	set := ix.namespaces[namespace]
	out := make([]model.EntityID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// QueryByKind returns, per requested kind, the ascending ids of that kind.
// Every requested kind has an entry, possibly empty. With no kinds it
// returns every non-empty kind.
func (ix *EntityIndex) QueryByKind(kinds ...model.Kind) map[model.Kind][]model.EntityID {
	explicit := len(kinds) > 0
	if !explicit {
		kinds = model.AllKinds
	}
	out := make(map[model.Kind][]model.EntityID, len(kinds))
	for _, k := range kinds {
		set, ok := ix.kinds[k]
		if !ok || set.len() == 0 {
			if explicit {
				out[k] = nil
			}
			continue
		}
		out[k] = slices.Clone(set.ordered())
	}
	return out
}

// Within returns the ids inside a lat/lon bound in ascending order.
func (ix *EntityIndex) Within(b orb.Bound) []model.EntityID {
	if ix.spatial.Enabled() {
		if ids, err := ix.spatial.AppendWithin(b, nil); err == nil {
			return ids
		}
	}
	wraps := b.Min.Lon() > b.Max.Lon()
	var out []model.EntityID
	for id, e := range ix.entities {
		if e.Lat < b.Min.Lat() || e.Lat > b.Max.Lat() {
			continue
		}
		if wraps {
			if e.Lon < b.Min.Lon() && e.Lon > b.Max.Lon() {
				continue
			}
		} else if e.Lon < b.Min.Lon() || e.Lon > b.Max.Lon() {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// CountByKind returns the live entity count per kind.
func (ix *EntityIndex) CountByKind() map[model.Kind]int {
	out := make(map[model.Kind]int, len(ix.kinds))
	for k, set := range ix.kinds {
		out[k] = set.len()
	}
	return out
}

func (ix *EntityIndex) kindSet(k model.Kind) *kindSet {
	set, ok := ix.kinds[k]
	if !ok {
		set = newKindSet()
		ix.kinds[k] = set
	}
	return set
}

// kindSet is an id set with a lazily rebuilt ascending order.
type kindSet struct {
	members map[model.EntityID]struct{}
	sorted  []model.EntityID
	stale   bool
}

func newKindSet() *kindSet {
	return &kindSet{members: make(map[model.EntityID]struct{})}
}

func (s *kindSet) add(id model.EntityID) {
	if _, ok := s.members[id]; ok {
		return
	}
	s.members[id] = struct{}{}
	s.stale = true
}

func (s *kindSet) remove(id model.EntityID) {
	if _, ok := s.members[id]; !ok {
		return
	}
	delete(s.members, id)
	s.stale = true
}

func (s *kindSet) len() int { return len(s.members) }

func (s *kindSet) ordered() []model.EntityID {
	if s.stale {
		s.sorted = s.sorted[:0]
		for id := range s.members {
			s.sorted = append(s.sorted, id)
		}
		slices.Sort(s.sorted)
		s.stale = false
	}
	return s.sorted
}
