package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ConsoleCollector bundles the console's Prometheus metrics: the gRPC
// surface, entity ingest, frame timing, tile streaming, overlay placement
// and feed polling. It satisfies the tiles, overlay and feed
// MetricsRecorder interfaces.
type ConsoleCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Entities       *prometheus.GaugeVec
	IngestRecords  *prometheus.CounterVec
	FrameDuration  prometheus.Histogram
	RenderCacheLen prometheus.Gauge
	SpatialReady   prometheus.Gauge

	Tiles          *prometheus.GaugeVec
	TileFetches    *prometheus.HistogramVec
	TileEvictions  *prometheus.CounterVec
	OverlayItems   *prometheus.GaugeVec
	TextureEntries prometheus.Gauge

	FeedPolls   *prometheus.HistogramVec
	FeedRecords *prometheus.CounterVec
}

// NewConsoleCollector registers console metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewConsoleCollector(reg prometheus.Registerer) (*ConsoleCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &ConsoleCollector{gatherer: gatherer}
	var err error

	if c.RPCRequests, err = register(reg, "console_rpc_requests_total", prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_rpc_requests_total",
		Help: "Total number of handled gRPC requests, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, "console_rpc_request_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_rpc_request_duration_seconds",
		Help:    "gRPC request latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"})); err != nil {
		return nil, err
	}

	if c.Entities, err = register(reg, "console_entities", prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "console_entities",
		Help: "Current number of indexed entities, labeled by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.IngestRecords, err = register(reg, "console_ingest_records_total", prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_ingest_records_total",
		Help: "Records applied by the entity index, labeled by namespace and outcome (added, updated, unchanged, removed).",
	}, []string{"namespace", "outcome"})); err != nil {
		return nil, err
	}
	if c.FrameDuration, err = register(reg, "console_frame_duration_seconds", prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "console_frame_duration_seconds",
		Help:    "Wall time spent in one console frame.",
		Buckets: []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033, 0.066, 0.1, 0.25},
	})); err != nil {
		return nil, err
	}
	if c.RenderCacheLen, err = register(reg, "console_render_cache_entities", prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "console_render_cache_entities",
		Help: "Entities in the most recent render cache.",
	})); err != nil {
		return nil, err
	}
	if c.SpatialReady, err = register(reg, "console_spatial_runtime_ready", prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "console_spatial_runtime_ready",
		Help: "1 when the spatial runtime initialised, 0 when running degraded.",
	})); err != nil {
		return nil, err
	}

	if c.Tiles, err = register(reg, "console_tiles", prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "console_tiles",
		Help: "Tiles per imagery layer and state (resident, in_flight, queued).",
	}, []string{"layer", "state"})); err != nil {
		return nil, err
	}
	if c.TileFetches, err = register(reg, "console_tile_fetch_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_tile_fetch_duration_seconds",
		Help:    "Tile fetch latency, labeled by layer and result.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"layer", "result"})); err != nil {
		return nil, err
	}
	if c.TileEvictions, err = register(reg, "console_tile_evictions_total", prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_tile_evictions_total",
		Help: "Resident tiles evicted to stay within the cache budget.",
	}, []string{"layer"})); err != nil {
		return nil, err
	}
	if c.OverlayItems, err = register(reg, "console_overlay_items", prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "console_overlay_items",
		Help: "Overlay placements in the last frame, labeled by mode.",
	}, []string{"mode"})); err != nil {
		return nil, err
	}
	if c.TextureEntries, err = register(reg, "console_label_textures", prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "console_label_textures",
		Help: "Rasterized label textures held in the cache.",
	})); err != nil {
		return nil, err
	}

	if c.FeedPolls, err = register(reg, "console_feed_poll_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_feed_poll_duration_seconds",
		Help:    "Feed poll latency, labeled by namespace and result.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"namespace", "result"})); err != nil {
		return nil, err
	}
	if c.FeedRecords, err = register(reg, "console_feed_records_total", prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_feed_records_total",
		Help: "Decoded feed records, labeled by namespace and outcome (accepted, rejected).",
	}, []string{"namespace", "outcome"})); err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ConsoleCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *ConsoleCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ConsoleCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds col to reg, returning the already registered collector of
// the same type when one exists under name.
func register[T prometheus.Collector](reg prometheus.Registerer, name string, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
