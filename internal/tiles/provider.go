package tiles

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/globe-console/model"
)

// Projection is the source imagery projection of a provider.
type Projection int

const (
	// ProjectionMercator is Web Mercator XYZ (2^z × 2^z tiles).
	ProjectionMercator Projection = iota
	// ProjectionEquirect is plate carrée with 2^z × 2^z tiles over
	// 360° × 180°.
	ProjectionEquirect
)

func (p Projection) String() string {
	switch p {
	case ProjectionMercator:
		return "mercator"
	case ProjectionEquirect:
		return "equirect"
	default:
		return "unknown"
	}
}

// ParseProjection maps a config string onto a Projection.
func ParseProjection(s string) (Projection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mercator", "webmercator", "epsg:3857":
		return ProjectionMercator, nil
	case "equirect", "equirectangular", "geographic", "epsg:4326":
		return ProjectionEquirect, nil
	default:
		return 0, fmt.Errorf("unknown projection %q", s)
	}
}

// MercatorMaxLat is the latitude limit of Web Mercator tiles.
const MercatorMaxLat = 85.0511287798066

// MaxLat returns the highest latitude the projection covers.
func (p Projection) MaxLat() float64 {
	if p == ProjectionMercator {
		return MercatorMaxLat
	}
	return 90
}

// ErrInvalidProvider indicates an unusable provider definition.
var ErrInvalidProvider = errors.New("invalid tile provider")

// Provider describes one imagery source.
type Provider struct {
	Name string
	// URLTemplate supports {z} {x} {y} {s} and {epoch}.
	URLTemplate string
	Subdomains  []string
	// Params are appended as query parameters, e.g. field or time
	// selectors for weather and sea overlays.
	Params     map[string]string
	Projection Projection
	MinZoom    uint32
	MaxZoom    uint32
	ZoomBias   int
	TileSize   int
	// RefreshInterval forces a recompute and refetch of resident tiles
	// when elapsed; zero disables refresh.
	RefreshInterval time.Duration
}

// Validate checks the provider is usable.
func (p Provider) Validate() error {
	if p.URLTemplate == "" {
		return fmt.Errorf("%w: %s: empty url template", ErrInvalidProvider, p.Name)
	}
	for _, ph := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(p.URLTemplate, ph) {
			return fmt.Errorf("%w: %s: template missing %s", ErrInvalidProvider, p.Name, ph)
		}
	}
	if strings.Contains(p.URLTemplate, "{s}") && len(p.Subdomains) == 0 {
		return fmt.Errorf("%w: %s: template uses {s} without subdomains", ErrInvalidProvider, p.Name)
	}
	if p.MaxZoom < p.MinZoom || p.MaxZoom > 24 {
		return fmt.Errorf("%w: %s: zoom range %d..%d", ErrInvalidProvider, p.Name, p.MinZoom, p.MaxZoom)
	}
	return nil
}

func (p Provider) tileSize() int {
	if p.TileSize > 0 {
		return p.TileSize
	}
	return 256
}

// URL expands the template for key.
func (p Provider) URL(key model.TileKey, epoch uint64) (string, error) {
	if !key.Valid() {
		return "", fmt.Errorf("%w: tile %s out of range", ErrInvalidProvider, key)
	}
	repl := []string{
		"{z}", strconv.FormatUint(uint64(key.Zoom), 10),
		"{x}", strconv.FormatUint(uint64(key.X), 10),
		"{y}", strconv.FormatUint(uint64(key.Y), 10),
		"{epoch}", strconv.FormatUint(epoch, 10),
	}
	if len(p.Subdomains) > 0 {
		repl = append(repl, "{s}", p.Subdomains[int(key.X+key.Y)%len(p.Subdomains)])
	}
	raw := strings.NewReplacer(repl...).Replace(p.URLTemplate)
	if len(p.Params) == 0 {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidProvider, p.Name, err)
	}
	q := u.Query()
	names := make([]string, 0, len(p.Params))
	for k := range p.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		q.Set(k, p.Params[k])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
