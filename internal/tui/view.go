// Package tui renders the console's overlay into a terminal with tcell and
// turns key and mouse input into camera and selection controls.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/mattn/go-runewidth"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/internal/bus"
	"github.com/signalsfoundry/globe-console/internal/overlay"
	"github.com/signalsfoundry/globe-console/model"
)

// Nominal pixel size of one terminal cell. The runtime viewport is the
// terminal size in these units so overlay coordinates map onto cells.
const (
	CellWidth  = 8
	CellHeight = 16
)

const (
	orbitStepDeg = 5.0
	zoomIn       = 0.8
	zoomOut      = 1.25
)

// Controller is the subset of the runtime the view drives.
type Controller interface {
	Orbit(dLatDeg, dLonDeg float64)
	Zoom(factor float64)
	SetViewport(vp core.Viewport)
	PointerDown(x, y float64)
	PointerUp(x, y float64) (bus.Selection, bool)
}

// Poster hands a control action to the frame loop.
type Poster func(func(Controller))

// LayerStatus is one imagery layer in the status line.
type LayerStatus struct {
	Layer    model.Layer
	Zoom     uint32
	Resident int
	Desired  int
}

// Status is the bottom line of the view.
type Status struct {
	Tick      uint64
	Entities  int
	Layers    []LayerStatus
	Selected  string
	FrameTime time.Duration
}

// View draws frames onto a tcell screen.
type View struct {
	screen tcell.Screen
	mouse  bool
}

// NewView wraps an initialised screen.
func NewView(screen tcell.Screen) *View {
	screen.EnableMouse()
	screen.HideCursor()
	return &View{screen: screen}
}

// Viewport is the screen size in overlay pixels, excluding the status line.
func (v *View) Viewport() core.Viewport {
	cols, rows := v.screen.Size()
	if rows > 1 {
		rows--
	}
	return core.Viewport{Width: cols * CellWidth, Height: rows * CellHeight}
}

// Draw replaces the screen contents with fr and st.
func (v *View) Draw(fr overlay.Frame, st Status) {
	v.screen.Clear()
	cols, rows := v.screen.Size()
	if cols <= 0 || rows <= 0 {
		return
	}
	mapRows := rows - 1

	for _, pl := range fr.Placements {
		x := int(pl.X / CellWidth)
		y := int(pl.Y / CellHeight)
		if x < 0 || x >= cols || y < 0 || y >= mapRows {
			continue
		}
		style := tcell.StyleDefault.Foreground(cellColor(pl.Color))
		if pl.Selected {
			style = style.Reverse(true)
		}
		switch pl.Mode {
		case overlay.ModeMarker:
			v.screen.SetContent(x, y, '•', nil, style)
		case overlay.ModeLabel:
			v.screen.SetContent(x, y, '•', nil, style)
			v.text(x+2, y, cols, pl.Text, style)
		case overlay.ModeBadge:
			text := "◆" + pl.Text
			w := runewidth.StringWidth(text)
			if x+w > cols {
				x = cols - w
			}
			v.text(x, y, cols, text, style.Bold(true))
		}
	}

	v.text(0, rows-1, cols, st.String(), tcell.StyleDefault.Reverse(true))
	v.screen.Show()
}

// text writes s from (x, y), clipped at the right edge.
func (v *View) text(x, y, cols int, s string, style tcell.Style) {
	if x < 0 {
		x = 0
	}
	room := cols - x
	if room <= 0 {
		return
	}
	if runewidth.StringWidth(s) > room {
		s = runewidth.Truncate(s, room, "…")
	}
	for _, r := range s {
		w := runewidth.RuneWidth(r)
		if w == 0 {
			continue
		}
		v.screen.SetContent(x, y, r, nil, style)
		x += w
	}
}

// cellColor maps an entity color to a terminal color, lifting dark hues
// so they stay readable on a dark terminal.
func cellColor(c model.RGBA) tcell.Color {
	cc := colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
	if l, _, _ := cc.Lab(); l < 0.45 {
		cc = cc.BlendLab(colorful.Color{R: 1, G: 1, B: 1}, 0.35)
	}
	r, g, b := cc.Clamped().RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}

// String formats the status line.
func (s Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, " frame %d  entities %d", s.Tick, s.Entities)
	for _, l := range s.Layers {
		fmt.Fprintf(&b, "  %s z%d %d/%d", l.Layer, l.Zoom, l.Resident, l.Desired)
	}
	if s.FrameTime > 0 {
		fmt.Fprintf(&b, "  %.1fms", float64(s.FrameTime.Microseconds())/1000)
	}
	if s.Selected != "" {
		b.WriteString("  ▶ ")
		b.WriteString(s.Selected)
	}
	return b.String()
}

// Run translates input events into controls until ctx is cancelled or the
// user quits with q, Esc or Ctrl-C. Quitting returns nil.
func (v *View) Run(ctx context.Context, post Poster) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = v.screen.PostEvent(tcell.NewEventInterrupt(nil))
		case <-stop:
		}
	}()

	post(func(c Controller) { c.SetViewport(v.Viewport()) })
	for {
		ev := v.screen.PollEvent()
		if ev == nil {
			return ctx.Err()
		}
		switch ev := ev.(type) {
		case *tcell.EventInterrupt:
			if ctx.Err() != nil {
				return ctx.Err()
			}
		case *tcell.EventResize:
			v.screen.Sync()
			vp := v.Viewport()
			post(func(c Controller) { c.SetViewport(vp) })
		case *tcell.EventKey:
			if quit := v.key(ev, post); quit {
				return nil
			}
		case *tcell.EventMouse:
			v.pointer(ev, post)
		}
	}
}

func (v *View) key(ev *tcell.EventKey, post Poster) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyLeft:
		post(func(c Controller) { c.Orbit(0, -orbitStepDeg) })
	case tcell.KeyRight:
		post(func(c Controller) { c.Orbit(0, orbitStepDeg) })
	case tcell.KeyUp:
		post(func(c Controller) { c.Orbit(orbitStepDeg, 0) })
	case tcell.KeyDown:
		post(func(c Controller) { c.Orbit(-orbitStepDeg, 0) })
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			return true
		case '+', '=':
			post(func(c Controller) { c.Zoom(zoomIn) })
		case '-', '_':
			post(func(c Controller) { c.Zoom(zoomOut) })
		}
	}
	return false
}

// pointer turns button-1 transitions into press and release at the cell
// centre.
func (v *View) pointer(ev *tcell.EventMouse, post Poster) {
	cx, cy := ev.Position()
	x := (float64(cx) + 0.5) * CellWidth
	y := (float64(cy) + 0.5) * CellHeight
	down := ev.Buttons()&tcell.Button1 != 0
	switch {
	case down && !v.mouse:
		v.mouse = true
		post(func(c Controller) { c.PointerDown(x, y) })
	case !down && v.mouse:
		v.mouse = false
		post(func(c Controller) { c.PointerUp(x, y) })
	}
}
