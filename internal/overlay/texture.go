package overlay

import (
	"image"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const texturePad = 3

// TextureKey identifies one rasterized label.
type TextureKey struct {
	Style string
	Text  string
}

// Texture is an offscreen bitmap of one label or badge.
type Texture struct {
	Key    TextureKey
	Image  *image.RGBA
	Width  int
	Height int

	lastUsed uint64
}

// TextureStats counts cache activity.
type TextureStats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// TextureCache rasterizes each (style, text) pair once and keeps up to max
// bitmaps, evicting the least recently used.
type TextureCache struct {
	max     int
	face    font.Face
	entries map[TextureKey]*Texture
	clock   uint64
	stats   TextureStats
}

// NewTextureCache builds a cache rendering with the Go Regular face at
// size points. The fixed 7x13 face is used when the font cannot load.
func NewTextureCache(max int, size float64) *TextureCache {
	if max < 1 {
		max = 1
	}
	return &TextureCache{
		max:     max,
		face:    loadFace(size),
		entries: make(map[TextureKey]*Texture),
	}
}

func loadFace(size float64) font.Face {
	if size <= 0 {
		size = 12
	}
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return basicfont.Face7x13
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return basicfont.Face7x13
	}
	return face
}

// Get returns the texture for text in style, rasterizing it on first use.
func (c *TextureCache) Get(style Style, text string) *Texture {
	c.clock++
	key := TextureKey{Style: style.Name, Text: text}
	if t, ok := c.entries[key]; ok {
		t.lastUsed = c.clock
		c.stats.Hits++
		return t
	}
	c.stats.Misses++

	t := c.rasterize(key, style, text)
	t.lastUsed = c.clock
	c.entries[key] = t
	for len(c.entries) > c.max {
		c.evictOldest()
	}
	return t
}

func (c *TextureCache) evictOldest() {
	var oldest *Texture
	for _, t := range c.entries {
		if oldest == nil || t.lastUsed < oldest.lastUsed {
			oldest = t
		}
	}
	if oldest != nil {
		delete(c.entries, oldest.Key)
		c.stats.Evictions++
	}
}

func (c *TextureCache) rasterize(key TextureKey, style Style, text string) *Texture {
	m := c.face.Metrics()
	w := font.MeasureString(c.face, text).Ceil() + 2*texturePad
	h := (m.Ascent + m.Descent).Ceil() + 2*texturePad
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(style.Bg), image.Point{}, draw.Src)

	if style.HasBorder {
		border := image.NewUniform(style.Border)
		for _, r := range []image.Rectangle{
			image.Rect(0, 0, w, 1),
			image.Rect(0, h-1, w, h),
			image.Rect(0, 0, 1, h),
			image.Rect(w-1, 0, w, h),
		} {
			draw.Draw(img, r, border, image.Point{}, draw.Src)
		}
	}

	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(style.Fg),
		Face: c.face,
		Dot:  fixed.Point26_6{X: fixed.I(texturePad), Y: fixed.I(texturePad) + m.Ascent},
	}
	d.DrawString(text)
	return &Texture{Key: key, Image: img, Width: w, Height: h}
}

// Len returns the number of cached textures.
func (c *TextureCache) Len() int { return len(c.entries) }

// Stats returns cache counters.
func (c *TextureCache) Stats() TextureStats {
	s := c.stats
	s.Entries = len(c.entries)
	return s
}
