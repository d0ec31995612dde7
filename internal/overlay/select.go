package overlay

import (
	"context"
	"math"

	"github.com/signalsfoundry/globe-console/internal/bus"
	"github.com/signalsfoundry/globe-console/internal/logging"
	"github.com/signalsfoundry/globe-console/model"
)

// PointerDown records the press position.
func (p *Projector) PointerDown(x, y float64) {
	p.pointer.x, p.pointer.y, p.pointer.down = x, y, true
}

// PointerUp completes a click. A release further than ClickTolerance from
// the press is a drag and selects nothing. Clicking the selected entity
// again clears the selection. The returned flag reports whether the
// selection changed.
func (p *Projector) PointerUp(x, y float64) (bus.Selection, bool) {
	if !p.pointer.down {
		return bus.Selection{}, false
	}
	p.pointer.down = false
	if math.Hypot(x-p.pointer.x, y-p.pointer.y) > p.cfg.ClickTolerance {
		return bus.Selection{}, false
	}

	id, ok := p.HitTest(x, y)
	if !ok {
		return bus.Selection{}, false
	}

	sel := bus.Selection{ID: id, Previous: p.selected, X: x, Y: y}
	if id == p.selected {
		sel.ID = 0
	} else {
		sel.Entity = p.entity(id)
	}
	p.selected = sel.ID
	p.restyle()

	p.log.Debug(context.Background(), "selection changed",
		logging.String("entity", sel.ID.String()),
		logging.String("previous", sel.Previous.String()),
	)
	if p.onSelect != nil {
		p.onSelect(sel)
	}
	return sel, true
}

// Select sets the selection directly, e.g. from a list view.
func (p *Projector) Select(id model.EntityID) {
	p.selected = id
	p.restyle()
}

// Forget clears the selection when it is one of removed and announces the
// cleared selection. It reports whether the selection changed.
func (p *Projector) Forget(removed []model.EntityID) bool {
	if p.selected == 0 {
		return false
	}
	for _, id := range removed {
		if id != p.selected {
			continue
		}
		sel := bus.Selection{Previous: id}
		p.selected = 0
		p.restyle()
		p.log.Debug(context.Background(), "selected entity removed", logging.String("entity", id.String()))
		if p.onSelect != nil {
			p.onSelect(sel)
		}
		return true
	}
	return false
}

// HitTest resolves (x, y) against the last frame: the nearest label or
// badge whose rectangle, grown by ClickTolerance, contains the point, else
// the nearest raw marker within MarkerHitRadius.
func (p *Projector) HitTest(x, y float64) (model.EntityID, bool) {
	var (
		best     model.EntityID
		bestDist = math.Inf(1)
	)
	for _, pl := range p.frame.Placements {
		if pl.Mode != ModeLabel && pl.Mode != ModeBadge {
			continue
		}
		if !pl.Rect.Inflate(p.cfg.ClickTolerance).Contains(x, y) {
			continue
		}
		cx, cy := pl.Rect.Center()
		if d := math.Hypot(x-cx, y-cy); d < bestDist {
			best, bestDist = pl.ID, d
		}
	}
	if !math.IsInf(bestDist, 1) {
		return best, true
	}

	for _, pl := range p.frame.Placements {
		if pl.Mode != ModeLabel && pl.Mode != ModeMarker {
			continue
		}
		d := math.Hypot(x-pl.X, y-pl.Y)
		if d <= p.cfg.MarkerHitRadius && d < bestDist {
			best, bestDist = pl.ID, d
		}
	}
	return best, !math.IsInf(bestDist, 1)
}

// restyle refreshes the selected flag and textures of the current frame
// so the change shows before the next projection.
func (p *Projector) restyle() {
	for i := range p.frame.Placements {
		pl := &p.frame.Placements[i]
		sel := pl.ID == p.selected && p.selected != 0
		if pl.Selected == sel {
			continue
		}
		pl.Selected = sel
		if pl.Mode == ModeLabel || pl.Mode == ModeBadge {
			p.texture(pl)
		}
	}
}
