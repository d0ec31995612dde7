package timectrl

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestFrameClockStep(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewFrameClock(time.Second, Stepped)

	var seen []Tick
	c.AddListener(func(tk Tick) { seen = append(seen, tk) })

	first := c.Step(start)
	if first.Frame != 1 || first.Delta != 0 {
		t.Fatalf("first tick = %+v", first)
	}
	second := c.Step(start.Add(16 * time.Millisecond))
	if second.Frame != 2 || second.Delta != 16*time.Millisecond {
		t.Fatalf("second tick = %+v", second)
	}
	back := c.Step(start)
	if back.Delta != 0 || !back.Time.Equal(second.Time) {
		t.Fatalf("clock went backwards: %+v", back)
	}

	if len(seen) != 3 || c.Frame() != 3 {
		t.Fatalf("listener saw %d ticks, frame=%d", len(seen), c.Frame())
	}
	if got := c.Now(); !got.Equal(second.Time) {
		t.Fatalf("Now() = %v, want %v", got, second.Time)
	}
}

func TestFrameClockRunTicksUntilCancelled(t *testing.T) {
	c := NewFrameClock(5*time.Millisecond, RealTime)
	var frames atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	c.AddListener(func(tk Tick) {
		if frames.Add(1) == 3 {
			cancel()
		}
	})

	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
	if frames.Load() < 3 {
		t.Fatalf("frames = %d, want at least 3", frames.Load())
	}
}

func TestSteppedRunDoesNotTick(t *testing.T) {
	c := NewFrameClock(time.Millisecond, Stepped)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}
	if c.Frame() != 0 {
		t.Fatalf("stepped clock ticked %d frames", c.Frame())
	}
}
