package kb

import (
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/signalsfoundry/globe-console/model"
)

// Palette maps a kind and status onto a marker color.
type Palette interface {
	Color(kind model.Kind, status string) model.RGBA
}

// HuePalette assigns each kind a base hue and tints by status.
type HuePalette struct {
	Hues       map[model.Kind]float64
	Saturation float64
	Value      float64
}

// DefaultPalette returns the console's standard kind colors.
func DefaultPalette() HuePalette {
	return HuePalette{
		Hues: map[model.Kind]float64{
			model.KindAsset:     210,
			model.KindUnit:      130,
			model.KindMission:   280,
			model.KindIncident:  25,
			model.KindFlight:    50,
			model.KindSatellite: 185,
			model.KindShip:      235,
		},
		Saturation: 0.75,
		Value:      0.95,
	}
}

var alertRed = colorful.Color{R: 0.9, G: 0.1, B: 0.1}

// Color implements Palette.
func (p HuePalette) Color(kind model.Kind, status string) model.RGBA {
	hue, ok := p.Hues[kind]
	c := colorful.Hsv(hue, p.Saturation, p.Value)
	if !ok {
		c = colorful.Hsv(0, 0, 0.7)
	}
	alpha := uint8(255)

	switch strings.ToLower(status) {
	case "alert", "critical", "hostile", "emergency":
		c = c.BlendLab(alertRed, 0.65).Clamped()
	case "inactive", "offline", "stale", "closed":
		h, s, v := c.Hsv()
		c = colorful.Hsv(h, s*0.25, v*0.7)
		alpha = 160
	}

	r, g, b := c.RGB255()
	return model.RGBA{R: r, G: g, B: b, A: alpha}
}
