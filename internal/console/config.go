package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/internal/observability"
	"github.com/signalsfoundry/globe-console/internal/overlay"
	"github.com/signalsfoundry/globe-console/internal/tiles"
	"github.com/signalsfoundry/globe-console/model"
)

// Duration is a time.Duration that reads "30s"-style strings from JSON.
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ProviderConfig is the JSON form of a tiles.Provider.
type ProviderConfig struct {
	Name        string            `json:"name"`
	URLTemplate string            `json:"url"`
	Subdomains  []string          `json:"subdomains,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	Projection  string            `json:"projection"`
	MinZoom     uint32            `json:"min_zoom"`
	MaxZoom     uint32            `json:"max_zoom"`
	ZoomBias    int               `json:"zoom_bias"`
	TileSize    int               `json:"tile_size"`
	Refresh     Duration          `json:"refresh"`
}

// Provider converts the config into a validated provider.
func (p ProviderConfig) Provider() (tiles.Provider, error) {
	proj, err := tiles.ParseProjection(p.Projection)
	if err != nil {
		return tiles.Provider{}, err
	}
	out := tiles.Provider{
		Name:            p.Name,
		URLTemplate:     p.URLTemplate,
		Subdomains:      p.Subdomains,
		Params:          p.Params,
		Projection:      proj,
		MinZoom:         p.MinZoom,
		MaxZoom:         p.MaxZoom,
		ZoomBias:        p.ZoomBias,
		TileSize:        p.TileSize,
		RefreshInterval: time.Duration(p.Refresh),
	}
	return out, out.Validate()
}

// EndpointConfig is one polled feed.
type EndpointConfig struct {
	URL      string   `json:"url"`
	Interval Duration `json:"interval"`
}

// FeedConfig lists the live feeds. Empty URLs disable a feed.
type FeedConfig struct {
	OrgStreamURL string         `json:"org_stream_url"`
	Flights      EndpointConfig `json:"flights"`
	Satellites   EndpointConfig `json:"satellites"`
	Ships        EndpointConfig `json:"ships"`
	// BBoxLimit caps records per scoped poll; zero sends no limit.
	BBoxLimit  int      `json:"bbox_limit"`
	MaxBackoff Duration `json:"max_backoff"`

	// ReplayPath plays a recording instead of the live feeds.
	ReplayPath  string  `json:"replay_path"`
	ReplaySpeed float64 `json:"replay_speed"`
	// RecordPath captures live feeds for later replay.
	RecordPath string `json:"record_path"`
}

// CameraConfig is the initial camera pose.
type CameraConfig struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Distance float64 `json:"distance"`
	FovYDeg  float64 `json:"fov_y_deg"`
}

// OverlayConfig is the JSON form of overlay.Config.
type OverlayConfig struct {
	Inset            float64 `json:"inset"`
	LabelCeiling     int     `json:"label_ceiling"`
	DenseKind        string  `json:"dense_kind"`
	ClickTolerance   float64 `json:"click_tolerance"`
	MarkerHitRadius  float64 `json:"marker_hit_radius"`
	LabelMaxWidth    int     `json:"label_max_width"`
	TextureCacheSize int     `json:"texture_cache_size"`
	FontSize         float64 `json:"font_size"`
}

func (o OverlayConfig) config() overlay.Config {
	return overlay.Config{
		Inset:            o.Inset,
		LabelCeiling:     o.LabelCeiling,
		DenseKind:        model.ParseKind(o.DenseKind),
		ClickTolerance:   o.ClickTolerance,
		MarkerHitRadius:  o.MarkerHitRadius,
		LabelMaxWidth:    o.LabelMaxWidth,
		TextureCacheSize: o.TextureCacheSize,
		FontSize:         o.FontSize,
	}
}

// TilesConfig is the JSON form of the per-layer tile budgets.
type TilesConfig struct {
	MaxTiles         int     `json:"max_tiles"`
	MaxCache         int     `json:"max_cache"`
	MaxConcurrent    int     `json:"max_concurrent"`
	MinAngleDeg      float64 `json:"min_angle_deg"`
	MinDistanceRatio float64 `json:"min_distance_ratio"`
	FocusFraction    float64 `json:"focus_fraction"`
	FocusSamples     int     `json:"focus_samples"`

	FetchTimeout Duration `json:"fetch_timeout"`
}

// Config is the console configuration file.
type Config struct {
	GlobeRadius    float64 `json:"globe_radius"`
	SpatialCellDeg float64 `json:"spatial_cell_deg"`
	FrameRate      int     `json:"frame_rate"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`

	Camera  CameraConfig              `json:"camera"`
	Layers  map[string]ProviderConfig `json:"layers"`
	Tiles   TilesConfig               `json:"tiles"`
	Overlay OverlayConfig             `json:"overlay"`
	Feeds   FeedConfig                `json:"feeds"`

	MetricsAddr string                      `json:"metrics_addr"`
	GRPCAddr    string                      `json:"grpc_addr"`
	Tracing     observability.TracingConfig `json:"tracing"`
}

// Layers in frame order.
var layerOrder = []model.Layer{model.LayerBase, model.LayerSea, model.LayerWeather}

// DefaultConfig returns a console with OSM base imagery, the OpenSeaMap
// seamark overlay and an OpenWeatherMap precipitation layer.
func DefaultConfig() Config {
	tc := tiles.DefaultConfig()
	oc := overlay.DefaultConfig()
	return Config{
		GlobeRadius:    core.DefaultGlobeRadius,
		SpatialCellDeg: core.DefaultSpatialConfig().CellDeg,
		FrameRate:      30,
		Width:          1280,
		Height:         720,
		Camera:         CameraConfig{Lat: 20, Lon: 0, Distance: 3, FovYDeg: 45},
		Layers: map[string]ProviderConfig{
			string(model.LayerBase): {
				Name:        "osm",
				URLTemplate: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
				Subdomains:  []string{"a", "b", "c"},
				Projection:  "mercator",
				MaxZoom:     19,
				TileSize:    256,
			},
			string(model.LayerSea): {
				Name:        "openseamap",
				URLTemplate: "https://tiles.openseamap.org/seamark/{z}/{x}/{y}.png",
				Projection:  "mercator",
				MaxZoom:     18,
				TileSize:    256,
			},
			string(model.LayerWeather): {
				Name:        "owm-precipitation",
				URLTemplate: "https://tile.openweathermap.org/map/precipitation_new/{z}/{x}/{y}.png",
				Projection:  "mercator",
				MaxZoom:     10,
				TileSize:    256,
				Refresh:     Duration(10 * time.Minute),
			},
		},
		Tiles: TilesConfig{
			MaxTiles:         tc.MaxTiles,
			MaxCache:         tc.MaxCache,
			MaxConcurrent:    tc.MaxConcurrent,
			MinAngleDeg:      tc.MinAngleDeg,
			MinDistanceRatio: tc.MinDistanceRatio,
			FocusFraction:    tc.Focus.Fraction,
			FocusSamples:     tc.Focus.Samples,
			FetchTimeout:     Duration(15 * time.Second),
		},
		Overlay: OverlayConfig{
			Inset:            oc.Inset,
			LabelCeiling:     oc.LabelCeiling,
			DenseKind:        oc.DenseKind.String(),
			ClickTolerance:   oc.ClickTolerance,
			MarkerHitRadius:  oc.MarkerHitRadius,
			LabelMaxWidth:    oc.LabelMaxWidth,
			TextureCacheSize: oc.TextureCacheSize,
			FontSize:         oc.FontSize,
		},
		Feeds: FeedConfig{
			Flights:     EndpointConfig{Interval: Duration(10 * time.Second)},
			Satellites:  EndpointConfig{Interval: Duration(30 * time.Second)},
			Ships:       EndpointConfig{Interval: Duration(30 * time.Second)},
			BBoxLimit:   2000,
			MaxBackoff:  Duration(2 * time.Minute),
			ReplaySpeed: 1,
		},
		MetricsAddr: ":9090",
		GRPCAddr:    ":50051",
		Tracing:     observability.DefaultTracingConfig(),
	}
}

// LoadConfig reads path over the defaults, then applies CONSOLE_*
// environment overrides. An empty path uses the defaults alone. Layers
// present in the file replace the default provider for that layer.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", core.ErrInvalidConfig, path, err)
		}
	}
	cfg = cfg.WithEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithEnv overlays CONSOLE_* variables looked up by getenv.
func (c Config) WithEnv(getenv func(string) string) Config {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString("CONSOLE_METRICS_ADDR", &c.MetricsAddr)
	setString("CONSOLE_GRPC_ADDR", &c.GRPCAddr)
	setString("CONSOLE_ORG_STREAM_URL", &c.Feeds.OrgStreamURL)
	setString("CONSOLE_FLIGHTS_URL", &c.Feeds.Flights.URL)
	setString("CONSOLE_SATELLITES_URL", &c.Feeds.Satellites.URL)
	setString("CONSOLE_SHIPS_URL", &c.Feeds.Ships.URL)
	setString("CONSOLE_REPLAY", &c.Feeds.ReplayPath)
	setString("CONSOLE_RECORD", &c.Feeds.RecordPath)

	if v := getenv("CONSOLE_LABEL_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Overlay.LabelCeiling = n
		}
	}
	if v := getenv("CONSOLE_MAX_CONCURRENT_TILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Tiles.MaxConcurrent = n
		}
	}

	// CONSOLE_<LAYER>_URL swaps a layer's template; CONSOLE_WEATHER_KEY
	// supplies the weather provider's appid.
	if c.Layers != nil {
		layers := make(map[string]ProviderConfig, len(c.Layers))
		for name, p := range c.Layers {
			if v := getenv("CONSOLE_" + strings.ToUpper(name) + "_URL"); v != "" {
				p.URLTemplate = v
			}
			layers[name] = p
		}
		c.Layers = layers
	}
	if key := getenv("CONSOLE_WEATHER_KEY"); key != "" {
		if p, ok := c.Layers[string(model.LayerWeather)]; ok {
			params := make(map[string]string, len(p.Params)+1)
			for k, v := range p.Params {
				params[k] = v
			}
			params["appid"] = key
			p.Params = params
			c.Layers[string(model.LayerWeather)] = p
		}
	}

	c.Tracing = c.Tracing.WithEnv(getenv)
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.GlobeRadius <= 0 {
		errs = append(errs, fmt.Errorf("globe_radius %v", c.GlobeRadius))
	}
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("viewport %dx%d", c.Width, c.Height))
	}
	if c.Camera.Distance <= c.GlobeRadius {
		errs = append(errs, fmt.Errorf("camera distance %v inside the globe", c.Camera.Distance))
	}
	if c.Camera.FovYDeg <= 0 || c.Camera.FovYDeg >= 180 {
		errs = append(errs, fmt.Errorf("camera fov %v", c.Camera.FovYDeg))
	}
	if err := c.tilesConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	for name, p := range c.Layers {
		if !knownLayer(model.Layer(name)) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownLayer, name))
			continue
		}
		if _, err := p.Provider(); err != nil {
			errs = append(errs, fmt.Errorf("layer %s: %w", name, err))
		}
	}
	for _, ep := range []EndpointConfig{c.Feeds.Flights, c.Feeds.Satellites, c.Feeds.Ships} {
		if ep.URL != "" && ep.Interval <= 0 {
			errs = append(errs, fmt.Errorf("feed %s: interval must be positive", ep.URL))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) tilesConfig() tiles.Config {
	tc := tiles.DefaultConfig()
	tc.MaxTiles = c.Tiles.MaxTiles
	tc.MaxCache = c.Tiles.MaxCache
	tc.MaxConcurrent = c.Tiles.MaxConcurrent
	tc.MinAngleDeg = c.Tiles.MinAngleDeg
	tc.MinDistanceRatio = c.Tiles.MinDistanceRatio
	tc.GlobeRadius = c.GlobeRadius
	if c.Tiles.FocusFraction > 0 {
		tc.Focus.Fraction = c.Tiles.FocusFraction
	}
	if c.Tiles.FocusSamples > 0 {
		tc.Focus.Samples = c.Tiles.FocusSamples
	}
	return tc
}

func (c Config) viewport() core.Viewport {
	return core.Viewport{Width: c.Width, Height: c.Height}
}

func (c Config) camera() core.Camera {
	return core.OrbitCamera(c.Camera.Lat, c.Camera.Lon, c.Camera.Distance, c.Camera.FovYDeg)
}

func knownLayer(l model.Layer) bool {
	for _, k := range layerOrder {
		if k == l {
			return true
		}
	}
	return false
}
