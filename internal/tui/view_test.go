package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/internal/bus"
	"github.com/signalsfoundry/globe-console/internal/overlay"
	"github.com/signalsfoundry/globe-console/model"
)

func newSimView(t *testing.T, cols, rows int) (*View, tcell.SimulationScreen) {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	screen.SetSize(cols, rows)
	t.Cleanup(screen.Fini)
	return NewView(screen), screen
}

func rowText(s tcell.SimulationScreen, y, from, n int) string {
	var b strings.Builder
	for x := from; x < from+n; x++ {
		r, _, _, _ := s.GetContent(x, y)
		b.WriteRune(r)
	}
	return b.String()
}

type recorder struct {
	orbits    [][2]float64
	zooms     []float64
	viewports []core.Viewport
	downs     [][2]float64
	ups       [][2]float64
}

func (r *recorder) Orbit(dLat, dLon float64) { r.orbits = append(r.orbits, [2]float64{dLat, dLon}) }
func (r *recorder) Zoom(f float64) { r.zooms = append(r.zooms, f) }
func (r *recorder) SetViewport(vp core.Viewport) { r.viewports = append(r.viewports, vp) }
func (r *recorder) PointerDown(x, y float64) { r.downs = append(r.downs, [2]float64{x, y}) }
func (r *recorder) PointerUp(x, y float64) (bus.Selection, bool) {
	r.ups = append(r.ups, [2]float64{x, y})
	return bus.Selection{}, false
}

func TestViewportExcludesStatusLine(t *testing.T) {
	v, _ := newSimView(t, 80, 25)
	if got := v.Viewport(); got.Width != 80*CellWidth || got.Height != 24*CellHeight {
		t.Fatalf("viewport = %+v", got)
	}
}

func TestDrawPlacesLabelsBadgesAndStatus(t *testing.T) {
	v, screen := newSimView(t, 40, 10)

	fr := overlay.Frame{Placements: []overlay.Placement{
		{ID: 1, Mode: overlay.ModeLabel, X: 4*CellWidth + 1, Y: 2*CellHeight + 1, Text: "Alpha", Color: model.RGBA{R: 200, G: 40, B: 40, A: 255}},
		{ID: 2, Mode: overlay.ModeBadge, X: 39 * CellWidth, Y: 5 * CellHeight, Text: "BR", Color: model.RGBA{G: 200, A: 255}},
		{ID: 3, Mode: overlay.ModeMarker, X: 10 * CellWidth, Y: 7 * CellHeight, Selected: true},
		{ID: 4, Mode: overlay.ModeMarker, X: -5, Y: 3},
	}}
	v.Draw(fr, Status{Tick: 7, Entities: 4, Selected: "Alpha"})

	if got := rowText(screen, 2, 4, 7); got != "• Alpha" {
		t.Fatalf("label row = %q", got)
	}
	// Badge clamped to stay on screen.
	if got := rowText(screen, 5, 37, 3); got != "◆BR" {
		t.Fatalf("badge row = %q", got)
	}
	r, _, style, _ := screen.GetContent(10, 7)
	if r != '•' {
		t.Fatalf("marker rune = %q", r)
	}
	if _, _, attrs := style.Decompose(); attrs&tcell.AttrReverse == 0 {
		t.Fatalf("selected marker not highlighted")
	}
	if got := rowText(screen, 9, 0, 20); !strings.Contains(got, "frame 7") {
		t.Fatalf("status line = %q", got)
	}
}

func TestStatusString(t *testing.T) {
	st := Status{
		Tick:      3,
		Entities:  12,
		Layers:    []LayerStatus{{Layer: model.LayerBase, Zoom: 4, Resident: 10, Desired: 12}},
		Selected:  "Ship 9",
		FrameTime: 1500 * time.Microsecond,
	}
	want := " frame 3  entities 12  base z4 10/12  1.5ms  ▶ Ship 9"
	if got := st.String(); got != want {
		t.Fatalf("status = %q, want %q", got, want)
	}
}

func TestRunTranslatesInput(t *testing.T) {
	v, screen := newSimView(t, 40, 10)
	rec := &recorder{}
	post := func(fn func(Controller)) { fn(rec) }

	screen.InjectKey(tcell.KeyLeft, 0, tcell.ModNone)
	screen.InjectKey(tcell.KeyUp, 0, tcell.ModNone)
	screen.InjectKey(tcell.KeyRune, '+', tcell.ModNone)
	screen.InjectKey(tcell.KeyRune, '-', tcell.ModNone)
	screen.InjectMouse(3, 2, tcell.Button1, tcell.ModNone)
	screen.InjectMouse(3, 2, tcell.ButtonNone, tcell.ModNone)
	screen.InjectKey(tcell.KeyRune, 'q', tcell.ModNone)

	done := make(chan error, 1)
	go func() { done <- v.Run(context.Background(), post) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not quit on q")
	}

	if len(rec.viewports) == 0 || rec.viewports[0] != v.Viewport() {
		t.Fatalf("viewports = %v", rec.viewports)
	}
	if len(rec.orbits) != 2 || rec.orbits[0] != [2]float64{0, -orbitStepDeg} || rec.orbits[1] != [2]float64{orbitStepDeg, 0} {
		t.Fatalf("orbits = %v", rec.orbits)
	}
	if len(rec.zooms) != 2 || rec.zooms[0] != zoomIn || rec.zooms[1] != zoomOut {
		t.Fatalf("zooms = %v", rec.zooms)
	}
	want := [2]float64{3.5 * CellWidth, 2.5 * CellHeight}
	if len(rec.downs) != 1 || rec.downs[0] != want || len(rec.ups) != 1 || rec.ups[0] != want {
		t.Fatalf("pointer downs %v ups %v", rec.downs, rec.ups)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	v, _ := newSimView(t, 20, 5)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx, func(func(Controller)) {}) }()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run ignored cancellation")
	}
}
