package observability

import (
	"time"

	"github.com/signalsfoundry/globe-console/kb"
	"github.com/signalsfoundry/globe-console/model"
)

// SetEntityCounts updates the per-kind entity gauge. Kinds missing from
// counts are reset to zero.
func (c *ConsoleCollector) SetEntityCounts(counts map[model.Kind]int) {
	if c == nil || c.Entities == nil {
		return
	}
	for _, k := range model.AllKinds {
		c.Entities.WithLabelValues(k.String()).Set(float64(counts[k]))
	}
}

// ObserveIngest counts the outcome of one entity index ingest.
func (c *ConsoleCollector) ObserveIngest(r kb.IngestResult) {
	if c == nil || c.IngestRecords == nil {
		return
	}
	c.IngestRecords.WithLabelValues(r.Namespace, "added").Add(float64(len(r.Added)))
	c.IngestRecords.WithLabelValues(r.Namespace, "updated").Add(float64(len(r.Updated)))
	c.IngestRecords.WithLabelValues(r.Namespace, "unchanged").Add(float64(len(r.Unchanged)))
	c.IngestRecords.WithLabelValues(r.Namespace, "removed").Add(float64(len(r.Removed)))
}

// ObserveFrame records one frame's duration and render cache size.
func (c *ConsoleCollector) ObserveFrame(d time.Duration, renderEntities int) {
	if c == nil {
		return
	}
	if c.FrameDuration != nil {
		c.FrameDuration.Observe(d.Seconds())
	}
	if c.RenderCacheLen != nil {
		c.RenderCacheLen.Set(float64(renderEntities))
	}
}

// SetSpatialReady reports whether the spatial runtime is available.
func (c *ConsoleCollector) SetSpatialReady(ready bool) {
	if c == nil || c.SpatialReady == nil {
		return
	}
	if ready {
		c.SpatialReady.Set(1)
	} else {
		c.SpatialReady.Set(0)
	}
}

// SetTileCounts satisfies tiles.MetricsRecorder.
func (c *ConsoleCollector) SetTileCounts(layer string, resident, inFlight, queued int) {
	if c == nil || c.Tiles == nil {
		return
	}
	c.Tiles.WithLabelValues(layer, "resident").Set(float64(resident))
	c.Tiles.WithLabelValues(layer, "in_flight").Set(float64(inFlight))
	c.Tiles.WithLabelValues(layer, "queued").Set(float64(queued))
}

// ObserveTileFetch satisfies tiles.MetricsRecorder.
func (c *ConsoleCollector) ObserveTileFetch(layer string, ok bool, d time.Duration) {
	if c == nil || c.TileFetches == nil {
		return
	}
	c.TileFetches.WithLabelValues(layer, result(ok)).Observe(d.Seconds())
}

// AddTileEvictions satisfies tiles.MetricsRecorder.
func (c *ConsoleCollector) AddTileEvictions(layer string, n int) {
	if c == nil || c.TileEvictions == nil || n <= 0 {
		return
	}
	c.TileEvictions.WithLabelValues(layer).Add(float64(n))
}

// SetOverlayCounts satisfies overlay.MetricsRecorder.
func (c *ConsoleCollector) SetOverlayCounts(labels, badges, markers int) {
	if c == nil || c.OverlayItems == nil {
		return
	}
	c.OverlayItems.WithLabelValues("label").Set(float64(labels))
	c.OverlayItems.WithLabelValues("badge").Set(float64(badges))
	c.OverlayItems.WithLabelValues("marker").Set(float64(markers))
}

// SetTextureCacheSize satisfies overlay.MetricsRecorder.
func (c *ConsoleCollector) SetTextureCacheSize(n int) {
	if c == nil || c.TextureEntries == nil {
		return
	}
	c.TextureEntries.Set(float64(n))
}

// ObserveFeedPoll satisfies feed.MetricsRecorder.
func (c *ConsoleCollector) ObserveFeedPoll(namespace string, ok bool, d time.Duration) {
	if c == nil || c.FeedPolls == nil {
		return
	}
	c.FeedPolls.WithLabelValues(namespace, result(ok)).Observe(d.Seconds())
}

// AddFeedRecords satisfies feed.MetricsRecorder.
func (c *ConsoleCollector) AddFeedRecords(namespace string, accepted, rejected int) {
	if c == nil || c.FeedRecords == nil {
		return
	}
	c.FeedRecords.WithLabelValues(namespace, "accepted").Add(float64(accepted))
	c.FeedRecords.WithLabelValues(namespace, "rejected").Add(float64(rejected))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
