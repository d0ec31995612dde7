package overlay

import (
	"fmt"
	"image/color"
	"strings"
	"unicode"
	"unicode/utf8"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/mattn/go-runewidth"

	"github.com/signalsfoundry/globe-console/model"
)

// Style is the visual treatment of one label or badge texture.
type Style struct {
	Name   string
	Fg     color.RGBA
	Bg     color.RGBA
	Border color.RGBA
	// HasBorder draws a one pixel frame in Border.
	HasBorder bool
}

var (
	black     = colorful.Color{}
	white     = colorful.Color{R: 1, G: 1, B: 1}
	highlight = color.RGBA{R: 0xff, G: 0xd4, B: 0x00, A: 0xff}
)

func toColorful(c model.RGBA) colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

func toRGBA(c colorful.Color, a uint8) color.RGBA {
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: a}
}

// readableOn picks black or white text for a background.
func readableOn(bg colorful.Color) color.RGBA {
	l, _, _ := bg.Lab()
	if l > 0.6 {
		return color.RGBA{A: 0xff}
	}
	return color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
}

// LabelStyle returns the full-label style for an entity color.
func LabelStyle(c model.RGBA, selected bool) Style {
	base := toColorful(c)
	bg := base.BlendLab(black, 0.55)
	if selected {
		bg = base.BlendLab(white, 0.2)
	}
	return newStyle("label", c, bg, 0xd0, selected)
}

// BadgeStyle returns the edge-badge style for an entity color.
func BadgeStyle(c model.RGBA, selected bool) Style {
	base := toColorful(c)
	bg := base
	if selected {
		bg = base.BlendLab(white, 0.35)
	}
	return newStyle("badge", c, bg, 0xf0, selected)
}

func newStyle(prefix string, c model.RGBA, bg colorful.Color, alpha uint8, selected bool) Style {
	s := Style{
		Name: fmt.Sprintf("%s:%02x%02x%02x%02x", prefix, c.R, c.G, c.B, c.A),
		Bg:   toRGBA(bg, alpha),
		Fg:   readableOn(bg),
	}
	if selected {
		s.Name += ":sel"
		s.Border = highlight
		s.HasBorder = true
	}
	return s
}

// LabelText returns the text of a full label, truncated to maxWidth
// display cells.
func LabelText(e model.Entity, maxWidth int) string {
	text := strings.TrimSpace(e.Label)
	if text == "" {
		text = e.Key
	}
	if maxWidth > 0 && runewidth.StringWidth(text) > maxWidth {
		text = runewidth.Truncate(text, maxWidth, "…")
	}
	return text
}

// BadgeText returns a compact 1 to 3 cell code for an entity: the
// initials of a multi-word label, the head of a single word, or the kind
// letter.
func BadgeText(kind model.Kind, label string) string {
	fields := strings.Fields(label)
	var b strings.Builder
	switch {
	case len(fields) > 1:
		for _, f := range fields {
			r, _ := utf8.DecodeRuneInString(f)
			b.WriteRune(unicode.ToUpper(r))
		}
	case len(fields) == 1:
		b.WriteString(strings.ToUpper(fields[0]))
	}
	text := runewidth.Truncate(b.String(), 3, "")
	if text == "" {
		name := kind.String()
		if kind == model.KindUnknown || name == "" {
			return "?"
		}
		return strings.ToUpper(name[:1])
	}
	return text
}
