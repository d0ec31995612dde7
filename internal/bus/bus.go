// Package bus is a typed publish/subscribe bus with named topics. It
// replaces ad hoc callbacks between the console subsystems: every consumer
// subscribes to the topic it cares about explicitly.
package bus

import (
	"sync"
	"time"

	"github.com/signalsfoundry/globe-console/kb"
	"github.com/signalsfoundry/globe-console/model"
)

// Topic names.
const (
	TopicEntityUpdate    = "entity-update"
	TopicFlightUpdate    = "flight-update"
	TopicSatelliteUpdate = "satellite-update"
	TopicShipUpdate      = "ship-update"
	TopicTile            = "tile"
	TopicSelection       = "selection"
)

// Topic is a named channel for values of one type. Publish delivers
// synchronously, in subscription order, on the publishing goroutine.
type Topic[T any] struct {
	name string

	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// NewTopic constructs an empty topic.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.name }

// Subscribe registers fn and returns a function that removes it. Calling
// the returned function more than once is harmless.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers v to every subscriber. Subscribers are called outside
// the lock so they may subscribe or publish themselves.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := append([]subscriber[T](nil), t.subs...)
	t.mu.RUnlock()
	for _, s := range subs {
		s.fn(v)
	}
}

// Subscribers returns the current subscriber count.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// EntityUpdate announces an applied ingest.
type EntityUpdate struct {
	Result kb.IngestResult
	Tick   uint64
}

// FeedBatch announces a decoded live-feed batch before ingest.
type FeedBatch struct {
	Namespace string
	Records   []model.Record
	Received  time.Time
}

// TileEvent announces a tile fetch outcome.
type TileEvent struct {
	Key      model.TileKey
	State    model.TileState
	Err      error
	Duration time.Duration
}

// Selection announces a selection change. ID is zero when the selection
// was cleared.
type Selection struct {
	ID       model.EntityID
	Previous model.EntityID
	Entity   model.Entity
	X, Y     float64
}

// Bus groups the console's named topics.
type Bus struct {
	EntityUpdate    *Topic[EntityUpdate]
	FlightUpdate    *Topic[FeedBatch]
	SatelliteUpdate *Topic[FeedBatch]
	ShipUpdate      *Topic[FeedBatch]
	Tile            *Topic[TileEvent]
	Selection       *Topic[Selection]
}

// New constructs a bus with every topic registered.
func New() *Bus {
	return &Bus{
		EntityUpdate:    NewTopic[EntityUpdate](TopicEntityUpdate),
		FlightUpdate:    NewTopic[FeedBatch](TopicFlightUpdate),
		SatelliteUpdate: NewTopic[FeedBatch](TopicSatelliteUpdate),
		ShipUpdate:      NewTopic[FeedBatch](TopicShipUpdate),
		Tile:            NewTopic[TileEvent](TopicTile),
		Selection:       NewTopic[Selection](TopicSelection),
	}
}

// FeedTopic returns the live-feed topic for a namespace kind, or nil for
// namespaces without a dedicated topic.
func (b *Bus) FeedTopic(kind model.Kind) *Topic[FeedBatch] {
	switch kind {
	case model.KindFlight:
		return b.FlightUpdate
	case model.KindSatellite:
		return b.SatelliteUpdate
	case model.KindShip:
		return b.ShipUpdate
	default:
		return nil
	}
}
