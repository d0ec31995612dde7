package overlay

import (
	"testing"

	"github.com/signalsfoundry/globe-console/model"
)

func TestTextureCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewTextureCache(2, 12)
	style := LabelStyle(model.RGBA{R: 200, G: 40, B: 40, A: 255}, false)

	a := c.Get(style, "a")
	c.Get(style, "b")
	if c.Get(style, "a") != a {
		t.Fatalf("cached texture not returned")
	}
	c.Get(style, "c")

	st := c.Stats()
	if st.Entries != 2 || st.Evictions != 1 {
		t.Fatalf("stats = %+v", st)
	}
	before := c.Stats().Misses
	c.Get(style, "a")
	if c.Stats().Misses != before {
		t.Fatalf("recently used entry was evicted")
	}
	c.Get(style, "b")
	if c.Stats().Misses != before+1 {
		t.Fatalf("least recently used entry survived")
	}
}

func TestTextureRaster(t *testing.T) {
	c := NewTextureCache(4, 12)
	plain := c.Get(BadgeStyle(model.RGBA{G: 200, A: 255}, false), "HQ")
	sel := c.Get(BadgeStyle(model.RGBA{G: 200, A: 255}, true), "HQ")
	if plain == sel {
		t.Fatalf("selected style shares a texture")
	}
	if plain.Image.Bounds().Dx() != plain.Width || plain.Height <= 2*texturePad {
		t.Fatalf("bad raster size %dx%d", plain.Width, plain.Height)
	}
	if got := sel.Image.RGBAAt(0, 0); got != highlight {
		t.Fatalf("selected border pixel = %v", got)
	}
	wide := c.Get(BadgeStyle(model.RGBA{G: 200, A: 255}, false), "HQ LONGER")
	if wide.Width <= plain.Width {
		t.Fatalf("longer text not wider: %d vs %d", wide.Width, plain.Width)
	}
}

func TestBadgeAndLabelText(t *testing.T) {
	tests := []struct {
		kind  model.Kind
		label string
		want  string
	}{
		{model.KindUnit, "Alpha Bravo Charlie Delta", "ABC"},
		{model.KindAsset, "hq", "HQ"},
		{model.KindAsset, "", "A"},
		{model.KindIncident, "   ", "I"},
		{model.KindMission, "北京基地", "北"},
		{model.KindUnknown, "", "?"},
	}
	for _, tc := range tests {
		if got := BadgeText(tc.kind, tc.label); got != tc.want {
			t.Fatalf("BadgeText(%v, %q) = %q, want %q", tc.kind, tc.label, got, tc.want)
		}
	}

	e := model.Entity{Key: "asset:7", Label: "An extremely long facility name"}
	if got := LabelText(e, 10); got != "An extrem…" {
		t.Fatalf("LabelText truncation = %q", got)
	}
	if got := LabelText(model.Entity{Key: "asset:7"}, 10); got != "asset:7" {
		t.Fatalf("LabelText fallback = %q", got)
	}
}
