// Package tiles streams imagery tiles for one globe layer: it picks a zoom
// for the camera, computes the covering tile set, fetches missing tiles
// under a concurrency budget and keeps the resident set within a cache
// limit.
package tiles

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"time"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/internal/bus"
	"github.com/signalsfoundry/globe-console/internal/logging"
	"github.com/signalsfoundry/globe-console/model"
)

// Config bounds one layer's tile manager.
type Config struct {
	// MaxTiles caps the covering set; larger covers coarsen the zoom.
	MaxTiles int
	// MaxCache caps resident tiles.
	MaxCache int
	// MaxConcurrent caps fetches in flight.
	MaxConcurrent int

	MinAngleDeg      float64
	MinDistanceRatio float64

	Focus       FocusBox
	GlobeRadius float64
	MinSegments int
}

// DefaultConfig returns the budgets used by the console.
func DefaultConfig() Config {
	return Config{
		MaxTiles:         220,
		MaxCache:         400,
		MaxConcurrent:    6,
		MinAngleDeg:      0.5,
		MinDistanceRatio: 0.02,
		Focus:            DefaultFocusBox(),
		GlobeRadius:      core.DefaultGlobeRadius,
		MinSegments:      4,
	}
}

// Validate checks the budgets.
func (c Config) Validate() error {
	switch {
	case c.MaxTiles < 1:
		return fmt.Errorf("%w: max tiles %d", core.ErrInvalidConfig, c.MaxTiles)
	case c.MaxCache < 1:
		return fmt.Errorf("%w: max cache %d", core.ErrInvalidConfig, c.MaxCache)
	case c.MaxConcurrent < 1:
		return fmt.Errorf("%w: max concurrent %d", core.ErrInvalidConfig, c.MaxConcurrent)
	case c.MinAngleDeg < 0 || c.MinDistanceRatio < 0:
		return fmt.Errorf("%w: negative change threshold", core.ErrInvalidConfig)
	case c.GlobeRadius <= 0:
		return fmt.Errorf("%w: globe radius %v", core.ErrInvalidConfig, c.GlobeRadius)
	}
	return nil
}

// MetricsRecorder receives per-layer tile metrics.
type MetricsRecorder interface {
	SetTileCounts(layer string, resident, inFlight, queued int)
	ObserveTileFetch(layer string, ok bool, d time.Duration)
	AddTileEvictions(layer string, n int)
}

// Option customises a Manager.
type Option func(*Manager)

// WithFetcher replaces the default HTTP fetcher.
func WithFetcher(f Fetcher) Option {
	return func(m *Manager) {
		if f != nil {
			m.fetcher = f
		}
	}
}

// WithScene sets where resident tiles are attached.
func WithScene(a Attacher) Option {
	return func(m *Manager) {
		if a != nil {
			m.scene = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

// WithEventTopic publishes fetch outcomes on topic.
func WithEventTopic(topic *bus.Topic[bus.TileEvent]) Option {
	return func(m *Manager) {
		m.events = topic
	}
}

// UpdateResult summarises one Update call.
type UpdateResult struct {
	Recomputed bool
	Zoom       uint32
	Applied    int
	Desired    int
	Resident   int
	InFlight   int
	Queued     int
}

// Stats is a snapshot of the manager's counters.
type Stats struct {
	Layer      model.Layer
	Provider   string
	Zoom       uint32
	Generation uint64
	Epoch      uint64

	Desired  int
	Resident int
	InFlight int
	Queued   int
	Failed   int

	Fetched   uint64
	Failures  uint64
	Discarded uint64
	Evicted   uint64
}

type tile struct {
	key      model.TileKey
	bounds   model.Bounds
	state    model.TileState
	resource Resource
	lastUsed time.Time
	epoch    uint64
	visible  bool
	// refetching marks a resident tile whose newer-epoch fetch is in
	// flight; the old resource stays attached meanwhile.
	refetching bool
}

type fetchResult struct {
	key        model.TileKey
	generation uint64
	epoch      uint64
	img        image.Image
	err        error
	elapsed    time.Duration
}

// Manager streams one layer. All methods except Close must be called from
// the frame loop; fetches run on their own goroutines and are applied at
// the next Update.
type Manager struct {
	layer    model.Layer
	cfg      Config
	provider Provider

	fetcher Fetcher
	scene   Attacher
	log     logging.Logger
	metrics MetricsRecorder
	events  *bus.Topic[bus.TileEvent]

	ctx    context.Context
	cancel context.CancelFunc

	tiles    map[model.TileKey]*tile
	desired  map[model.TileKey]struct{}
	queue    []model.TileKey
	inFlight int
	resident int
	results  chan fetchResult

	generation  uint64
	epoch       uint64
	lastRefresh time.Time

	dirty    bool
	haveLast bool
	lastPos  core.Vec3
	lastDist float64
	lastZoom uint32
	lastVP   core.Viewport
	zoom     uint32
	band     Band

	fetched, failures, discarded, evicted uint64
}

// New constructs a manager for layer.
func New(layer model.Layer, p Provider, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		layer:    layer,
		cfg:      cfg,
		provider: p,
		fetcher:  NewHTTPFetcher(0),
		scene:    NewMemoryScene(),
		log:      logging.Noop(),
		ctx:      ctx,
		cancel:   cancel,
		tiles:    make(map[model.TileKey]*tile),
		desired:  make(map[model.TileKey]struct{}),
		results:  make(chan fetchResult, cfg.MaxConcurrent),
		dirty:    true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Layer returns the managed layer.
func (m *Manager) Layer() model.Layer { return m.layer }

// Provider returns the active provider.
func (m *Manager) Provider() Provider { return m.provider }

// Band returns the geographic band of the last recompute.
func (m *Manager) Band() Band { return m.band }

// MarkDirty forces a recompute on the next Update.
func (m *Manager) MarkDirty() { m.dirty = true }

// SetProvider switches imagery source. The layer is fully cleared; fetches
// still in flight for the previous provider keep their slots until they
// complete and are then discarded.
func (m *Manager) SetProvider(p Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.log.Info(m.ctx, "tile provider switched",
		logging.String("layer", string(m.layer)),
		logging.String("from", m.provider.Name),
		logging.String("to", p.Name),
	)
	m.releaseAll()
	m.provider = p
	m.generation++
	m.epoch = 0
	m.lastRefresh = time.Time{}
	m.dirty = true
	m.reportCounts()
	return nil
}

// Update advances the layer for one frame: it applies completed fetches,
// recomputes the covering set when the view changed enough, dispatches
// queued fetches and evicts down to the cache limit.
func (m *Manager) Update(ctx context.Context, cam core.Camera, vp core.Viewport, now time.Time) UpdateResult {
	res := UpdateResult{Applied: m.drain(now)}

	zoom := SelectZoom(cam.Distance(), m.cfg.GlobeRadius, cam.FovYDeg, vp.Height, m.provider)
	if m.refreshDue(now) {
		m.epoch++
		m.dirty = true
		m.log.Debug(ctx, "tile refresh epoch",
			logging.String("layer", string(m.layer)),
			logging.Uint64("epoch", m.epoch),
		)
	}

	if m.viewChanged(cam, vp, zoom) {
		m.band = ComputeBand(cam, vp, m.cfg.GlobeRadius, m.cfg.Focus, m.provider.Projection.MaxLat())
		var keys []model.TileKey
		m.zoom, keys = Cover(m.layer, m.band, zoom, m.provider.MinZoom, m.cfg.MaxTiles, m.provider.Projection)
		if m.zoom != zoom {
			m.log.Debug(ctx, "tile cover coarsened",
				logging.String("layer", string(m.layer)),
				logging.Int("zoom", int(zoom)),
				logging.Int("coarsened", int(m.zoom)),
			)
		}
		m.setDesired(keys, now)
		m.lastPos, m.lastDist, m.lastZoom, m.lastVP = cam.Position, cam.Distance(), zoom, vp
		m.haveLast = true
		m.dirty = false
		res.Recomputed = true
	}

	for key := range m.desired {
		if t := m.tiles[key]; t != nil && t.state == model.TileResident {
			t.lastUsed = now
		}
	}

	m.pump(now)
	m.evict()
	m.reportCounts()

	res.Zoom = m.zoom
	res.Desired = len(m.desired)
	res.Resident = m.resident
	res.InFlight = m.inFlight
	res.Queued = len(m.queue)
	return res
}

func (m *Manager) refreshDue(now time.Time) bool {
	iv := m.provider.RefreshInterval
	if iv <= 0 {
		return false
	}
	if m.lastRefresh.IsZero() {
		m.lastRefresh = now
		return false
	}
	if now.Sub(m.lastRefresh) < iv {
		return false
	}
	m.lastRefresh = now
	return true
}

func (m *Manager) viewChanged(cam core.Camera, vp core.Viewport, zoom uint32) bool {
	if m.dirty || !m.haveLast || zoom != m.lastZoom || vp != m.lastVP {
		return true
	}
	if core.AngleBetweenDeg(cam.Position, m.lastPos) >= m.cfg.MinAngleDeg {
		return true
	}
	if m.lastDist > 0 && math.Abs(cam.Distance()-m.lastDist)/m.lastDist >= m.cfg.MinDistanceRatio {
		return true
	}
	return false
}

// setDesired replaces the desired set with keys, in priority order.
func (m *Manager) setDesired(keys []model.TileKey, now time.Time) {
	next := make(map[model.TileKey]struct{}, len(keys))
	for _, k := range keys {
		next[k] = struct{}{}
	}

	for key, t := range m.tiles {
		if _, ok := next[key]; ok {
			continue
		}
		t.visible = false
		switch t.state {
		case model.TileQueued, model.TileFailed:
			delete(m.tiles, key)
		}
	}

	m.desired = next
	m.queue = m.queue[:0]
	for _, key := range keys {
		t := m.tiles[key]
		if t == nil {
			t = &tile{key: key, bounds: TileBounds(key, m.provider.Projection), state: model.TileQueued}
			m.tiles[key] = t
		}
		t.visible = true
		t.lastUsed = now
		if t.state == model.TileFailed {
			t.state = model.TileQueued
		}
		if m.needsFetch(t) {
			m.queue = append(m.queue, key)
		}
	}
}

func (m *Manager) needsFetch(t *tile) bool {
	switch t.state {
	case model.TileQueued:
		return true
	case model.TileResident:
		return !t.refetching && t.epoch < m.epoch
	default:
		return false
	}
}

// pump dispatches queued tiles while slots are free.
func (m *Manager) pump(now time.Time) {
	for m.inFlight < m.cfg.MaxConcurrent && len(m.queue) > 0 {
		key := m.queue[0]
		m.queue = m.queue[1:]
		t := m.tiles[key]
		if t == nil || !t.visible || !m.needsFetch(t) {
			continue
		}
		m.dispatch(t, now)
	}
}

func (m *Manager) dispatch(t *tile, now time.Time) {
	url, err := m.provider.URL(t.key, m.epoch)
	if err != nil {
		m.fail(t, err, 0)
		return
	}
	if t.state == model.TileResident {
		t.refetching = true
	} else {
		t.state = model.TilePending
	}
	m.inFlight++

	gen, epoch, key := m.generation, m.epoch, t.key
	fetcher, ctx, results := m.fetcher, m.ctx, m.results
	go func() {
		start := time.Now()
		img, err := fetcher.Fetch(ctx, url)
		r := fetchResult{key: key, generation: gen, epoch: epoch, img: img, err: err, elapsed: time.Since(start)}
		select {
		case results <- r:
		case <-ctx.Done():
		}
	}()
}

// drain applies every completed fetch without blocking.
func (m *Manager) drain(now time.Time) int {
	n := 0
	for {
		select {
		case r := <-m.results:
			m.applyCompletion(r, now)
			n++
		default:
			return n
		}
	}
}

// applyCompletion frees the fetch slot and attaches, discards or records
// the result, then dispatches the next queued tile.
func (m *Manager) applyCompletion(r fetchResult, now time.Time) {
	if m.inFlight > 0 {
		m.inFlight--
	}
	defer m.pump(now)

	t := m.tiles[r.key]
	current := r.generation == m.generation && t != nil
	if m.metrics != nil {
		m.metrics.ObserveTileFetch(string(m.layer), r.err == nil, r.elapsed)
	}

	if r.err != nil {
		m.failures++
		if current {
			m.fail(t, r.err, r.elapsed)
		} else {
			m.publish(r.key, model.TileFailed, r.err, r.elapsed)
		}
		return
	}

	if !current || !t.visible {
		m.discarded++
		if current {
			t.refetching = false
			if t.state == model.TilePending {
				delete(m.tiles, r.key)
			}
		}
		m.log.Debug(m.ctx, "tile discarded on arrival", logging.String("tile", r.key.String()))
		return
	}

	seg := SegmentsFor(t.bounds, m.cfg.MinSegments)
	patch := BuildPatch(t.bounds, m.provider.Projection, m.cfg.GlobeRadius, seg)
	resource, err := m.scene.Attach(r.key, r.img, patch)
	if err != nil {
		m.failures++
		m.fail(t, fmt.Errorf("attach %s: %w", r.key, err), r.elapsed)
		return
	}

	if t.resource != nil {
		t.resource.Release()
	} else {
		m.resident++
	}
	t.resource = resource
	t.state = model.TileResident
	t.refetching = false
	t.epoch = r.epoch
	t.lastUsed = now
	m.fetched++
	m.publish(r.key, model.TileResident, nil, r.elapsed)
	m.evict()
}

// fail records a failed fetch. A resident tile keeps its previous image.
func (m *Manager) fail(t *tile, err error, elapsed time.Duration) {
	m.log.Warn(m.ctx, "tile fetch failed",
		logging.String("tile", t.key.String()),
		logging.String("provider", m.provider.Name),
		logging.Err(err),
	)
	switch {
	case t.state == model.TileResident:
		t.refetching = false
	case !t.visible:
		delete(m.tiles, t.key)
	default:
		t.state = model.TileFailed
	}
	m.publish(t.key, model.TileFailed, err, elapsed)
}

func (m *Manager) publish(key model.TileKey, state model.TileState, err error, elapsed time.Duration) {
	if m.events == nil {
		return
	}
	m.events.Publish(bus.TileEvent{Key: key, State: state, Err: err, Duration: elapsed})
}

// evict releases resident tiles beyond the cache limit: invisible tiles
// oldest-first, then visible tiles oldest-first.
func (m *Manager) evict() {
	over := m.resident - m.cfg.MaxCache
	if over <= 0 {
		return
	}
	candidates := make([]*tile, 0, m.resident)
	for _, t := range m.tiles {
		if t.state == model.TileResident {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.visible != b.visible {
			return !a.visible
		}
		if !a.lastUsed.Equal(b.lastUsed) {
			return a.lastUsed.Before(b.lastUsed)
		}
		return a.key.String() < b.key.String()
	})
	for _, t := range candidates[:over] {
		m.release(t)
		delete(m.tiles, t.key)
		m.evicted++
	}
	if m.metrics != nil {
		m.metrics.AddTileEvictions(string(m.layer), over)
	}
}

func (m *Manager) release(t *tile) {
	if t.resource != nil {
		t.resource.Release()
		t.resource = nil
	}
	if t.state == model.TileResident {
		m.resident--
	}
}

func (m *Manager) releaseAll() {
	for _, t := range m.tiles {
		m.release(t)
	}
	m.tiles = make(map[model.TileKey]*tile)
	m.desired = make(map[model.TileKey]struct{})
	m.queue = nil
	m.resident = 0
}

func (m *Manager) reportCounts() {
	if m.metrics != nil {
		m.metrics.SetTileCounts(string(m.layer), m.resident, m.inFlight, len(m.queue))
	}
}

// Tiles returns a snapshot of every managed tile, ordered by key.
func (m *Manager) Tiles() []model.TileInfo {
	out := make([]model.TileInfo, 0, len(m.tiles))
	for _, t := range m.tiles {
		out = append(out, model.TileInfo{
			Key:      t.key,
			Bounds:   t.bounds,
			State:    t.state,
			Visible:  t.visible,
			LastUsed: t.lastUsed,
			Epoch:    t.epoch,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Zoom != b.Zoom {
			return a.Zoom < b.Zoom
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return out
}

// Stats returns the manager's counters.
func (m *Manager) Stats() Stats {
	failed := 0
	for _, t := range m.tiles {
		if t.state == model.TileFailed {
			failed++
		}
	}
	return Stats{
		Layer:      m.layer,
		Provider:   m.provider.Name,
		Zoom:       m.zoom,
		Generation: m.generation,
		Epoch:      m.epoch,
		Desired:    len(m.desired),
		Resident:   m.resident,
		InFlight:   m.inFlight,
		Queued:     len(m.queue),
		Failed:     failed,
		Fetched:    m.fetched,
		Failures:   m.failures,
		Discarded:  m.discarded,
		Evicted:    m.evicted,
	}
}

// Close cancels outstanding fetches and releases every resource.
func (m *Manager) Close() {
	m.cancel()
	m.releaseAll()
	m.reportCounts()
}
