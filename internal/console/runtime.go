// Package console is the application root: it owns the entity index,
// spatial runtime, bus, imagery layers and overlay projector, and drives
// them from a single frame loop.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/internal/bus"
	"github.com/signalsfoundry/globe-console/internal/feed"
	"github.com/signalsfoundry/globe-console/internal/logging"
	"github.com/signalsfoundry/globe-console/internal/observability"
	"github.com/signalsfoundry/globe-console/internal/overlay"
	"github.com/signalsfoundry/globe-console/internal/rpc"
	"github.com/signalsfoundry/globe-console/internal/tiles"
	"github.com/signalsfoundry/globe-console/kb"
	"github.com/signalsfoundry/globe-console/model"
)

const tracerName = "github.com/signalsfoundry/globe-console/internal/console"

var (
	// ErrUnknownLayer is returned for a layer the runtime does not manage.
	ErrUnknownLayer = errors.New("unknown imagery layer")
	// ErrClosed is returned by Post after Close.
	ErrClosed = errors.New("console runtime closed")
)

// Option customises a Runtime.
type Option func(*Runtime)

// WithCollector attaches Prometheus metrics.
func WithCollector(c *observability.ConsoleCollector) Option {
	return func(r *Runtime) {
		r.collector = c
	}
}

// WithHealth reports subsystem status to h.
func WithHealth(h *rpc.Health) Option {
	return func(r *Runtime) {
		r.health = h
	}
}

// WithFetcher replaces the HTTP tile fetcher for every layer.
func WithFetcher(f tiles.Fetcher) Option {
	return func(r *Runtime) {
		r.fetcher = f
	}
}

// WithScene sets the graphics backend tiles are attached to.
func WithScene(s tiles.Attacher) Option {
	return func(r *Runtime) {
		if s != nil {
			r.scene = s
		}
	}
}

// FrameOutput is everything one frame produced.
type FrameOutput struct {
	Tick     uint64
	Now      time.Time
	Applied  int
	Render   *kb.RenderCache
	Tiles    map[model.Layer]tiles.UpdateResult
	Overlay  overlay.Frame
	Duration time.Duration
}

// Runtime owns the console's core state. Every method except Post, BBox,
// FeedSink and Close must be called from the frame-loop goroutine.
type Runtime struct {
	cfg     Config
	log     logging.Logger
	session string

	spatial *core.SpatialRuntime
	index   *kb.EntityIndex
	bus     *bus.Bus
	layers  map[model.Layer]*tiles.Manager
	order   []model.Layer
	overlay *overlay.Projector
	scene   tiles.Attacher
	fetcher tiles.Fetcher

	collector *observability.ConsoleCollector
	health    *rpc.Health

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	mailbox []func(*Runtime)
	closed  bool

	bbox atomic.Pointer[feed.BBoxQuery]

	cam  core.Camera
	vp   core.Viewport
	tick uint64
}

// New constructs the runtime. A spatial runtime that fails to initialise
// is logged and the index falls back to direct position computation.
func New(cfg Config, log logging.Logger, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		cfg:     cfg,
		session: uuid.NewString(),
		bus:     bus.New(),
		layers:  make(map[model.Layer]*tiles.Manager),
		scene:   tiles.NewMemoryScene(),
		ctx:     ctx,
		cancel:  cancel,
		cam:     cfg.camera(),
		vp:      cfg.viewport(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.log = log.With(logging.String("session", r.session))
	if r.fetcher == nil {
		r.fetcher = tiles.NewHTTPFetcher(time.Duration(cfg.Tiles.FetchTimeout))
	}

	r.spatial = core.NewSpatialRuntime(core.SpatialConfig{CellDeg: cfg.SpatialCellDeg})
	spatialOK := true
	if err := r.spatial.Init(); err != nil {
		spatialOK = false
		r.log.Warn(ctx, "spatial runtime unavailable; computing positions directly", logging.Err(err))
	}
	r.setHealth(rpc.SubsystemSpatial, spatialOK)
	r.collector.SetSpatialReady(spatialOK)

	r.index = kb.NewEntityIndex(
		kb.WithSpatialRuntime(r.spatial),
		kb.WithGlobeRadius(cfg.GlobeRadius),
	)

	tcfg := cfg.tilesConfig()
	for _, layer := range layerOrder {
		pc, ok := cfg.Layers[string(layer)]
		if !ok {
			continue
		}
		p, err := pc.Provider()
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("layer %s: %w", layer, err)
		}
		topts := []tiles.Option{
			tiles.WithFetcher(r.fetcher),
			tiles.WithScene(r.scene),
			tiles.WithLogger(r.log),
			tiles.WithEventTopic(r.bus.Tile),
		}
		if r.collector != nil {
			topts = append(topts, tiles.WithMetricsRecorder(r.collector))
		}
		m, err := tiles.New(layer, p, tcfg, topts...)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("layer %s: %w", layer, err)
		}
		r.layers[layer] = m
		r.order = append(r.order, layer)
		r.setHealth(rpc.TileSubsystem(string(layer)), true)
	}

	oopts := []overlay.Option{
		overlay.WithLogger(r.log),
		overlay.WithSelectionHandler(r.bus.Selection.Publish),
	}
	if r.collector != nil {
		oopts = append(oopts, overlay.WithMetricsRecorder(r.collector))
	}
	r.overlay = overlay.NewProjector(cfg.Overlay.config(), r.index, oopts...)
	r.bus.EntityUpdate.Subscribe(func(u bus.EntityUpdate) {
		r.overlay.Forget(u.Result.Removed)
	})

	r.log.Info(ctx, "console runtime ready",
		logging.Bool("spatial", spatialOK),
		logging.Int("layers", len(r.order)),
	)
	return r, nil
}

// Session returns the runtime's unique session id.
func (r *Runtime) Session() string { return r.session }

// Config returns the configuration the runtime was built with.
func (r *Runtime) Config() Config { return r.cfg }

// Bus returns the event bus.
func (r *Runtime) Bus() *bus.Bus { return r.bus }

// Index returns the entity index.
func (r *Runtime) Index() *kb.EntityIndex { return r.index }

// Overlay returns the overlay projector.
func (r *Runtime) Overlay() *overlay.Projector { return r.overlay }

// Spatial returns the spatial runtime.
func (r *Runtime) Spatial() *core.SpatialRuntime { return r.spatial }

// Layers lists the managed layers in frame order.
func (r *Runtime) Layers() []model.Layer {
	return append([]model.Layer(nil), r.order...)
}

// Layer returns the tile manager of layer.
func (r *Runtime) Layer(layer model.Layer) (*tiles.Manager, error) {
	m, ok := r.layers[layer]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, layer)
	}
	return m, nil
}

// SetProvider switches a layer's imagery source, clearing the layer.
func (r *Runtime) SetProvider(layer model.Layer, p tiles.Provider) error {
	m, err := r.Layer(layer)
	if err != nil {
		return err
	}
	return m.SetProvider(p)
}

// Post queues fn to run at the start of the next frame. Safe for
// concurrent use.
func (r *Runtime) Post(fn func(*Runtime)) error {
	if fn == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.mailbox = append(r.mailbox, fn)
	return nil
}

func (r *Runtime) drainMailbox() int {
	r.mu.Lock()
	pending := r.mailbox
	r.mailbox = nil
	r.mu.Unlock()
	for _, fn := range pending {
		fn(r)
	}
	return len(pending)
}

// FeedSink returns a feed.Sink that posts each batch to the mailbox.
func (r *Runtime) FeedSink() feed.Sink {
	return func(b feed.Batch) {
		received := time.Now()
		if err := r.Post(func(r *Runtime) { r.Ingest(b, received) }); err != nil {
			r.log.Debug(r.ctx, "feed batch dropped after close", logging.String("namespace", b.Namespace))
		}
	}
}

// Ingest applies a decoded batch to the index and announces it.
func (r *Runtime) Ingest(b feed.Batch, received time.Time) kb.IngestResult {
	ctx, span := otel.Tracer(tracerName).Start(r.ctx, "console.ingest",
		trace.WithAttributes(
			attribute.String("feed.namespace", b.Namespace),
			attribute.Int("feed.records", b.Len()),
		),
	)
	defer span.End()

	if topic := r.bus.FeedTopic(b.Kind); topic != nil {
		topic.Publish(bus.FeedBatch{Namespace: b.Namespace, Records: b.Records, Received: received})
	}
	res := r.index.Ingest(b.Namespace, b.Records)
	r.collector.ObserveIngest(res)
	if len(res.Fallback) > 0 {
		r.log.Debug(ctx, "synthesized positions for records without valid coordinates",
			logging.String("namespace", b.Namespace),
			logging.Int("count", len(res.Fallback)),
		)
	}
	r.bus.EntityUpdate.Publish(bus.EntityUpdate{Result: res, Tick: r.tick})
	return res
}

// Frame runs one frame: mailbox, render cache, tile layers, overlay and
// metrics, in that order.
func (r *Runtime) Frame(ctx context.Context, now time.Time) FrameOutput {
	start := time.Now()
	r.tick++
	ctx = logging.ContextWithFrameID(ctx, r.tick)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "console.frame",
		trace.WithAttributes(attribute.Int64("frame", int64(r.tick))),
	)
	defer span.End()

	out := FrameOutput{Tick: r.tick, Now: now, Tiles: make(map[model.Layer]tiles.UpdateResult, len(r.order))}

	r.index.SetTick(r.tick)
	out.Applied = r.drainMailbox()

	out.Render = r.index.RefreshRenderCache(r.tick)

	for _, layer := range r.order {
		m := r.layers[layer]
		res := m.Update(ctx, r.cam, r.vp, now)
		out.Tiles[layer] = res
		if layer == model.LayerBase && res.Recomputed {
			r.updateBBox(m.Band())
		}
		st := m.Stats()
		r.setHealth(rpc.TileSubsystem(string(layer)), st.Failed == 0 || st.Resident > 0)
	}

	out.Overlay = r.overlay.Project(out.Render, r.cam, r.vp)

	out.Duration = time.Since(start)
	if r.collector != nil {
		r.collector.SetEntityCounts(r.index.CountByKind())
		r.collector.ObserveFrame(out.Duration, out.Render.Len())
	}
	span.SetAttributes(
		attribute.Int("entities", out.Render.Len()),
		attribute.Int("labels", out.Overlay.Labels),
	)
	return out
}

func (r *Runtime) updateBBox(b tiles.Band) {
	q := feed.BBoxFromBound(b.Bound(), r.cfg.Feeds.BBoxLimit)
	r.bbox.Store(&q)
}

// BBox returns the view box of the base layer for scoping feed polls.
// Safe for concurrent use.
func (r *Runtime) BBox() (feed.BBoxQuery, bool) {
	q := r.bbox.Load()
	if q == nil {
		return feed.BBoxQuery{}, false
	}
	return *q, true
}

// Camera returns the current camera.
func (r *Runtime) Camera() core.Camera { return r.cam }

// SetCamera replaces the camera. A camera inside the globe is pushed out
// to just above the surface.
func (r *Runtime) SetCamera(cam core.Camera) {
	if cam.Distance() <= r.cfg.GlobeRadius {
		cam = cam.Dolly(1, r.cfg.GlobeRadius)
	}
	r.cam = cam
}

// Orbit rotates the camera around the globe.
func (r *Runtime) Orbit(dLatDeg, dLonDeg float64) {
	r.cam = r.cam.Orbit(dLatDeg, dLonDeg)
}

// Zoom scales the camera distance; factors below one move closer.
func (r *Runtime) Zoom(factor float64) {
	if factor <= 0 {
		return
	}
	r.cam = r.cam.Dolly(factor, r.cfg.GlobeRadius)
}

// Viewport returns the current viewport.
func (r *Runtime) Viewport() core.Viewport { return r.vp }

// SetViewport resizes the viewport.
func (r *Runtime) SetViewport(vp core.Viewport) {
	if vp.Width > 0 && vp.Height > 0 {
		r.vp = vp
	}
}

// PointerDown forwards a press to the overlay.
func (r *Runtime) PointerDown(x, y float64) { r.overlay.PointerDown(x, y) }

// PointerUp forwards a release to the overlay; a click publishes the
// selection on the bus.
func (r *Runtime) PointerUp(x, y float64) (bus.Selection, bool) {
	return r.overlay.PointerUp(x, y)
}

func (r *Runtime) setHealth(subsystem string, serving bool) {
	if r.health != nil {
		r.health.Set(subsystem, serving)
	}
}

// Go runs fn on a goroutine tied to the runtime's lifetime. Close cancels
// ctx and waits for fn to return.
func (r *Runtime) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn(r.ctx, "background task exited", logging.String("task", name), logging.Err(err))
		}
	}()
}

// Close cancels background work, releases every tile and shuts the
// spatial runtime. Further Posts fail with ErrClosed.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mailbox = nil
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	for _, layer := range r.order {
		r.layers[layer].Close()
	}
	if r.spatial != nil {
		_ = r.spatial.Close()
	}
	r.log.Info(context.Background(), "console runtime closed")
}
