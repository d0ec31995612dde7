// Package timectrl drives the console frame loop.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock reports the time of the most recent frame.
type Clock interface {
	Now() time.Time
}

// Mode describes how the FrameClock advances.
type Mode int

const (
	// RealTime ticks on a wall-clock ticker at the configured interval.
	RealTime Mode = iota
	// Stepped only advances on explicit Step calls; Run blocks until
	// cancelled without ticking.
	Stepped
)

// Tick is one frame of the loop.
type Tick struct {
	Frame uint64
	Time  time.Time
	// Delta is the time since the previous frame, zero for the first.
	Delta time.Duration
}

// FrameClock drives the frame loop and notifies registered listeners in
// registration order. Listeners run on the goroutine that advanced the
// clock.
type FrameClock struct {
	mu       sync.RWMutex
	Interval time.Duration
	Mode     Mode

	frame uint64
	now   time.Time

	listeners []func(Tick)
}

// NewFrameClock constructs a clock. A non-positive interval defaults to
// 60 frames per second.
func NewFrameClock(interval time.Duration, mode Mode) *FrameClock {
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &FrameClock{Interval: interval, Mode: mode}
}

// Now returns the time of the last frame. Implements Clock.
func (c *FrameClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Frame returns the number of frames advanced so far.
func (c *FrameClock) Frame() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame
}

// AddListener registers a callback invoked on every frame.
func (c *FrameClock) AddListener(fn func(Tick)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Step advances one frame to t and runs the listeners. A t earlier than
// the previous frame is clamped so Delta is never negative.
func (c *FrameClock) Step(t time.Time) Tick {
	c.mu.Lock()
	tick := Tick{Frame: c.frame + 1, Time: t}
	if c.frame > 0 {
		if t.Before(c.now) {
			tick.Time = c.now
		}
		tick.Delta = tick.Time.Sub(c.now)
	}
	c.frame, c.now = tick.Frame, tick.Time
	listeners := append(([]func(Tick))(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(tick)
	}
	return tick
}

// Run ticks until ctx is cancelled. In RealTime mode a frame that overruns
// the interval delays the next one rather than queueing extra frames.
func (c *FrameClock) Run(ctx context.Context) error {
	if c.Mode == Stepped {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			c.Step(now)
		}
	}
}
