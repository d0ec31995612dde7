package overlay

import (
	"math"
	"strings"
	"testing"

	"github.com/signalsfoundry/globe-console/core"
	"github.com/signalsfoundry/globe-console/internal/bus"
	"github.com/signalsfoundry/globe-console/kb"
	"github.com/signalsfoundry/globe-console/model"
)

var testVP = core.Viewport{Width: 800, Height: 600}

func asset(id, name string, lat, lon float64) model.Record {
	return model.AssetRecord{Base: model.Base{SourceID: id, Name: name, Geo: model.Point(lat, lon)}}
}

func flight(id string, lat, lon float64) model.Record {
	return model.FlightRecord{Base: model.Base{SourceID: id, Geo: model.Point(lat, lon)}, Callsign: "FL" + id}
}

func setup(t *testing.T, cfg Config, records []model.Record, opts ...Option) (*Projector, *kb.RenderCache) {
	t.Helper()
	ix := kb.NewEntityIndex()
	ix.Ingest("test", records)
	return NewProjector(cfg, ix, opts...), ix.RefreshRenderCache(1)
}

func placementFor(t *testing.T, f Frame, key string) Placement {
	t.Helper()
	id := model.IDForKey(key)
	for _, pl := range f.Placements {
		if pl.ID == id {
			return pl
		}
	}
	t.Fatalf("no placement for %s", key)
	return Placement{}
}

func TestFrontFacingEntityGetsLabelAtProjection(t *testing.T) {
	p, cache := setup(t, DefaultConfig(), []model.Record{asset("hq", "Head Quarters", 0, 0)})
	f := p.Project(cache, core.OrbitCamera(0, 0, 3, 45), testVP)

	pl := placementFor(t, f, "asset:hq")
	if pl.Mode != ModeLabel {
		t.Fatalf("mode = %v, want label", pl.Mode)
	}
	if math.Abs(pl.X-400) > 1e-6 || math.Abs(pl.Y-300) > 1e-6 {
		t.Fatalf("label at (%v,%v), want viewport centre", pl.X, pl.Y)
	}
	if pl.Text != "Head Quarters" || pl.Texture == nil || pl.Texture.Width <= 0 {
		t.Fatalf("label text/texture = %q %+v", pl.Text, pl.Texture)
	}
	if f.Visible != 1 || f.Labels != 1 {
		t.Fatalf("visible=%d labels=%d", f.Visible, f.Labels)
	}
}

func TestAntipodalEntityGetsEdgeBadge(t *testing.T) {
	p, cache := setup(t, DefaultConfig(), []model.Record{
		asset("far", "Far Side Depot", 0, 180),
		flight("x", 0, 180),
	})
	f := p.Project(cache, core.OrbitCamera(0, 0, 3, 45), testVP)

	pl := placementFor(t, f, "asset:far")
	if pl.FrontFacing {
		t.Fatalf("antipodal entity classified front-facing")
	}
	if pl.Mode != ModeBadge {
		t.Fatalf("mode = %v, want badge", pl.Mode)
	}
	if !f.Inset.OnBoundary(pl.X, pl.Y, 1e-9) {
		t.Fatalf("badge (%v,%v) not on inset boundary %+v", pl.X, pl.Y, f.Inset)
	}
	if pl.Text != "FSD" {
		t.Fatalf("badge text = %q", pl.Text)
	}

	fl := placementFor(t, f, "flight:x")
	if fl.Mode != ModeBadge || !f.Inset.OnBoundary(fl.X, fl.Y, 1e-9) {
		t.Fatalf("antipodal flight placement = %+v, want edge badge", fl)
	}
	if fl.Text != "FLX" {
		t.Fatalf("flight badge text = %q", fl.Text)
	}
	if f.Badges != 2 || len(f.Placements) != 2 {
		t.Fatalf("badges=%d placements=%d, want 2", f.Badges, len(f.Placements))
	}
}

func TestEveryKindGetsEdgeBadgeWhenOffScreen(t *testing.T) {
	records := []model.Record{
		model.UnitRecord{Base: model.Base{SourceID: "u", Name: "Unit", Geo: model.Point(0, 180)}},
		model.ShipRecord{Base: model.Base{SourceID: "s", Name: "Ship", Geo: model.Point(0, 170)}},
		model.SatelliteRecord{Base: model.Base{SourceID: "sat", Name: "Sat", Geo: model.Point(-10, 175)}},
		flight("f", 5, -170),
	}
	p, cache := setup(t, DefaultConfig(), records)
	f := p.Project(cache, core.OrbitCamera(0, 0, 3, 45), testVP)

	if len(f.Placements) != len(records) {
		t.Fatalf("placements = %d, want %d", len(f.Placements), len(records))
	}
	for _, pl := range f.Placements {
		if pl.Mode != ModeBadge {
			t.Fatalf("%v placement mode = %v, want badge", pl.Kind, pl.Mode)
		}
	}
}

func TestEdgePointIsFirstBoundaryCrossing(t *testing.T) {
	r := InsetRect(800, 600, 24)
	cx, cy := r.Center()
	targets := [][2]float64{
		{1000, 300}, {-500, -500}, {400, 5000}, {410, 290},
		{776, 100}, {2000, 310}, {-1, 601}, {399.5, -1e6},
	}
	for _, tg := range targets {
		ex, ey := EdgePoint(r, tg[0], tg[1])
		if !r.OnBoundary(ex, ey, 1e-9) {
			t.Fatalf("target %v: (%v,%v) not on boundary", tg, ex, ey)
		}
		dx, dy := tg[0]-cx, tg[1]-cy
		ux, uy := ex-cx, ey-cy
		if cross := dx*uy - dy*ux; math.Abs(cross) > 1e-6*math.Hypot(dx, dy)*math.Hypot(ux, uy) {
			t.Fatalf("target %v: edge point off the ray (cross=%v)", tg, cross)
		}
		if dx*ux+dy*uy <= 0 {
			t.Fatalf("target %v: edge point behind the ray", tg)
		}
		for k := 1; k < 100; k++ {
			s := float64(k) / 100
			x, y := cx+s*ux, cy+s*uy
			if !r.Contains(x, y) || r.OnBoundary(x, y, 1e-9) {
				t.Fatalf("target %v: ray leaves the rectangle before the edge point", tg)
			}
		}
	}

	if x, y := EdgePoint(r, cx, cy); x != cx || y != r.MaxY {
		t.Fatalf("degenerate direction gave (%v,%v), want straight down", x, y)
	}
}

func TestDenseKindLabelsGatedByCeiling(t *testing.T) {
	records := []model.Record{asset("a", "Alpha", 0, 0)}
	for i := 0; i < 10; i++ {
		records = append(records, flight(string(rune('a'+i)), float64(i%5)-2, float64(i/5)*2-1))
	}

	cfg := DefaultConfig()
	cfg.LabelCeiling = 5
	p, cache := setup(t, cfg, records)
	f := p.Project(cache, core.OrbitCamera(0, 0, 3, 45), testVP)
	if f.Visible != 11 || f.DenseLabels {
		t.Fatalf("visible=%d denseLabels=%v", f.Visible, f.DenseLabels)
	}
	for _, pl := range f.Placements {
		want := ModeMarker
		if pl.Kind == model.KindAsset {
			want = ModeLabel
		}
		if pl.Mode != want {
			t.Fatalf("%v placed as %v, want %v", pl.Kind, pl.Mode, want)
		}
	}

	cfg.LabelCeiling = 100
	p2, cache2 := setup(t, cfg, records)
	if f2 := p2.Project(cache2, core.OrbitCamera(0, 0, 3, 45), testVP); f2.Labels != 11 || f2.Markers != 0 {
		t.Fatalf("under the ceiling labels=%d markers=%d", f2.Labels, f2.Markers)
	}
}

func TestClickSelectsAndReclickDeselects(t *testing.T) {
	var got []bus.Selection
	p, cache := setup(t, DefaultConfig(), []model.Record{asset("hq", "HQ", 0, 0)},
		WithSelectionHandler(func(s bus.Selection) { got = append(got, s) }))
	cam := core.OrbitCamera(0, 0, 3, 45)
	p.Project(cache, cam, testVP)
	id := model.IDForKey("asset:hq")

	p.PointerDown(400, 300)
	sel, ok := p.PointerUp(401, 300)
	if !ok || sel.ID != id || sel.Entity.Key != "asset:hq" {
		t.Fatalf("selection = %+v ok=%v", sel, ok)
	}
	pl := placementFor(t, p.Frame(), "asset:hq")
	if !pl.Selected || !strings.HasSuffix(pl.Texture.Key.Style, ":sel") {
		t.Fatalf("selected label not restyled: %+v", pl.Texture.Key)
	}
	if f := p.Project(cache, cam, testVP); !placementFor(t, f, "asset:hq").Selected {
		t.Fatalf("selection lost on next frame")
	}

	p.PointerDown(400, 300)
	sel, ok = p.PointerUp(400, 300)
	if !ok || sel.ID != 0 || sel.Previous != id || p.Selected() != 0 {
		t.Fatalf("re-click = %+v ok=%v", sel, ok)
	}
	if len(got) != 2 {
		t.Fatalf("handler called %d times", len(got))
	}

	p.PointerDown(400, 300)
	if _, ok := p.PointerUp(460, 300); ok {
		t.Fatalf("drag treated as click")
	}
	if _, ok := p.PointerUp(400, 300); ok {
		t.Fatalf("release without press treated as click")
	}
}

func TestForgetClearsRemovedSelection(t *testing.T) {
	var got []bus.Selection
	p, cache := setup(t, DefaultConfig(), []model.Record{asset("hq", "HQ", 0, 0)},
		WithSelectionHandler(func(s bus.Selection) { got = append(got, s) }))
	p.Project(cache, core.OrbitCamera(0, 0, 3, 45), testVP)
	id := model.IDForKey("asset:hq")
	p.Select(id)

	if p.Forget([]model.EntityID{model.IDForKey("asset:other")}) || p.Selected() != id {
		t.Fatalf("unrelated removal cleared the selection")
	}
	if !p.Forget([]model.EntityID{id}) || p.Selected() != 0 {
		t.Fatalf("removal kept selection %v", p.Selected())
	}
	if len(got) != 1 || got[0].ID != 0 || got[0].Previous != id {
		t.Fatalf("handler got %+v", got)
	}
	if placementFor(t, p.Frame(), "asset:hq").Selected {
		t.Fatalf("placement still styled as selected")
	}
	if p.Forget([]model.EntityID{id}) {
		t.Fatalf("second removal reported a change")
	}
}

func TestClickFallsBackToNearestMarker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LabelCeiling = 1
	p, cache := setup(t, cfg, []model.Record{flight("1", 0, 0), flight("2", 0, 3)})
	f := p.Project(cache, core.OrbitCamera(0, 0, 3, 45), testVP)
	if f.Markers != 2 {
		t.Fatalf("markers = %d", f.Markers)
	}
	target := placementFor(t, f, "flight:1")

	p.PointerDown(target.X+3, target.Y)
	sel, ok := p.PointerUp(target.X+3, target.Y)
	if !ok || sel.ID != target.ID {
		t.Fatalf("marker click = %+v ok=%v", sel, ok)
	}

	p.PointerDown(target.X, target.Y+200)
	if _, ok := p.PointerUp(target.X, target.Y+200); ok {
		t.Fatalf("click on empty globe selected something")
	}
}

func TestTexturesReusedAcrossFrames(t *testing.T) {
	p, cache := setup(t, DefaultConfig(), []model.Record{asset("1", "One", 0, 0), asset("2", "Two", 1, 1)})
	cam := core.OrbitCamera(0, 0, 3, 45)
	first := p.Project(cache, cam, testVP)
	misses := p.Textures().Stats().Misses
	if misses != 2 {
		t.Fatalf("first frame misses = %d, want 2", misses)
	}

	second := p.Project(cache, cam, testVP)
	st := p.Textures().Stats()
	if st.Misses != misses || st.Hits < 2 {
		t.Fatalf("second frame re-rasterized: %+v", st)
	}
	if placementFor(t, first, "asset:1").Texture != placementFor(t, second, "asset:1").Texture {
		t.Fatalf("texture not shared between frames")
	}
}
