// Package overlay decides, every frame, where each entity's label or edge
// badge appears on screen, and resolves pointer clicks to entities.
package overlay

import (
	"math"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/internal/bus"
	"github.com/signalsfoundry/globe-console/internal/logging"
	"github.com/signalsfoundry/globe-console/kb"
	"github.com/signalsfoundry/globe-console/model"
)

// Config tunes placement, level of detail and hit testing.
type Config struct {
	// Inset shrinks the viewport on each side, in pixels; labels must
	// project inside it and badges sit on its boundary.
	Inset float64
	// LabelCeiling is the visible count above which DenseKind labels
	// switch to marker-only.
	LabelCeiling int
	DenseKind    model.Kind

	ClickTolerance  float64
	MarkerHitRadius float64

	LabelMaxWidth    int
	TextureCacheSize int
	FontSize         float64
}

// DefaultConfig returns the console defaults.
func DefaultConfig() Config {
	return Config{
		Inset:            24,
		LabelCeiling:     400,
		DenseKind:        model.KindFlight,
		ClickTolerance:   4,
		MarkerHitRadius:  8,
		LabelMaxWidth:    24,
		TextureCacheSize: 1024,
		FontSize:         12,
	}
}

// Mode is how an entity is drawn this frame.
type Mode uint8

const (
	// ModeLabel draws the full label at the projected point.
	ModeLabel Mode = iota + 1
	// ModeBadge draws a compact badge on the inset boundary.
	ModeBadge
	// ModeMarker draws only the raw marker.
	ModeMarker
)

func (m Mode) String() string {
	switch m {
	case ModeLabel:
		return "label"
	case ModeBadge:
		return "badge"
	case ModeMarker:
		return "marker"
	default:
		return "none"
	}
}

// Placement is one entity's overlay for a frame.
type Placement struct {
	ID   model.EntityID
	Kind model.Kind
	Mode Mode
	// X, Y is the label anchor: the projected point for labels and
	// markers, the boundary point for badges.
	X, Y float64
	Rect Rect

	Text    string
	Texture *Texture
	Color   model.RGBA

	FrontFacing bool
	InBounds    bool
	Selected    bool
}

// Frame is the overlay output for one frame.
type Frame struct {
	Tick       uint64
	Viewport   core.Viewport
	Inset      Rect
	Placements []Placement

	// Visible counts front-facing in-bounds entities.
	Visible     int
	DenseLabels bool

	Labels, Badges, Markers int
}

// Lookup resolves entity details for label text and selection payloads.
type Lookup interface {
	Get(id model.EntityID) (model.Entity, bool)
}

// MetricsRecorder receives overlay gauges.
type MetricsRecorder interface {
	SetOverlayCounts(labels, badges, markers int)
	SetTextureCacheSize(n int)
}

// Option customises a Projector.
type Option func(*Projector)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Projector) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(p *Projector) {
		p.metrics = m
	}
}

// WithSelectionHandler is called whenever the selection changes.
func WithSelectionHandler(fn func(bus.Selection)) Option {
	return func(p *Projector) {
		p.onSelect = fn
	}
}

// Projector places entity labels. It is owned by the frame loop.
type Projector struct {
	cfg      Config
	lookup   Lookup
	textures *TextureCache

	log      logging.Logger
	metrics  MetricsRecorder
	onSelect func(bus.Selection)

	frame    Frame
	selected model.EntityID
	pointer  struct {
		x, y float64
		down bool
	}
}

// NewProjector constructs a projector reading entity details from lookup.
func NewProjector(cfg Config, lookup Lookup, opts ...Option) *Projector {
	p := &Projector{
		cfg:      cfg,
		lookup:   lookup,
		textures: NewTextureCache(cfg.TextureCacheSize, cfg.FontSize),
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Textures exposes the label texture cache.
func (p *Projector) Textures() *TextureCache { return p.textures }

// Selected returns the selected entity, or zero.
func (p *Projector) Selected() model.EntityID { return p.selected }

// Frame returns the most recent projection.
func (p *Projector) Frame() Frame { return p.frame }

type classified struct {
	proj    core.Projection
	front   bool
	inBound bool
}

// Project classifies every entity in cache and places its label, badge or
// marker.
func (p *Projector) Project(cache *kb.RenderCache, cam core.Camera, vp core.Viewport) Frame {
	inset := InsetRect(vp.Width, vp.Height, p.cfg.Inset)
	vpm := cam.ViewProjection(vp)

	n := cache.Len()
	cls := make([]classified, n)
	visible := 0
	for i := 0; i < n; i++ {
		pos := cache.Position(i)
		c := classified{proj: core.ProjectWith(vpm, pos, vp), front: core.FrontFacing(pos, cam.Position)}
		c.inBound = !c.proj.Behind && inset.Contains(c.proj.X, c.proj.Y)
		if c.front && c.inBound {
			visible++
		}
		cls[i] = c
	}

	f := Frame{
		Tick:        cache.Tick,
		Viewport:    vp,
		Inset:       inset,
		Placements:  make([]Placement, 0, n),
		Visible:     visible,
		DenseLabels: p.cfg.LabelCeiling <= 0 || visible <= p.cfg.LabelCeiling,
	}

	for i := 0; i < n; i++ {
		id, kind, c := cache.IDs[i], cache.Kinds[i], cls[i]
		pl := Placement{
			ID:          id,
			Kind:        kind,
			Color:       cache.Color(i),
			FrontFacing: c.front,
			InBounds:    c.inBound,
			Selected:    id == p.selected,
		}

		switch {
		case c.front && c.inBound && kind == p.cfg.DenseKind && !f.DenseLabels:
			pl.Mode = ModeMarker
			pl.X, pl.Y = c.proj.X, c.proj.Y
			pl.Rect = p.markerRect(pl.X, pl.Y)
			f.Markers++
		case c.front && c.inBound:
			pl.Mode = ModeLabel
			pl.X, pl.Y = c.proj.X, c.proj.Y
			pl.Text = LabelText(p.entity(id), p.cfg.LabelMaxWidth)
			p.texture(&pl)
			f.Labels++
		default:
			pl.Mode = ModeBadge
			pl.X, pl.Y = EdgePoint(inset, c.proj.X, c.proj.Y)
			pl.Text = BadgeText(kind, p.entity(id).Label)
			p.texture(&pl)
			f.Badges++
		}
		f.Placements = append(f.Placements, pl)
	}

	p.frame = f
	if p.metrics != nil {
		p.metrics.SetOverlayCounts(f.Labels, f.Badges, f.Markers)
		p.metrics.SetTextureCacheSize(p.textures.Len())
	}
	return f
}

func (p *Projector) entity(id model.EntityID) model.Entity {
	if p.lookup == nil {
		return model.Entity{ID: id}
	}
	e, _ := p.lookup.Get(id)
	return e
}

func (p *Projector) markerRect(x, y float64) Rect {
	r := math.Max(p.cfg.MarkerHitRadius, 1)
	return Centered(x, y, 2*r, 2*r)
}

// texture attaches the styled bitmap for pl and sizes its rectangle.
func (p *Projector) texture(pl *Placement) {
	var style Style
	if pl.Mode == ModeBadge {
		style = BadgeStyle(pl.Color, pl.Selected)
	} else {
		style = LabelStyle(pl.Color, pl.Selected)
	}
	pl.Texture = p.textures.Get(style, pl.Text)
	pl.Rect = Centered(pl.X, pl.Y, float64(pl.Texture.Width), float64(pl.Texture.Height))
}
