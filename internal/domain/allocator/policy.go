package allocator

import (
	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/shared/calendar"
)

// Window is a fixed daily time block.
type Window struct {
	Block blueprint.TimeBlock
	Open  calendar.Clock
	Close calendar.Clock
}

// Contains reports whether [start, end) lies inside the window.
func (w Window) Contains(start, end calendar.Clock) bool {
	return start >= w.Open && end <= w.Close
}

// DefaultWindows returns morning 06:00-12:00, afternoon 12:00-17:00 and
// evening 17:00-22:00.
func DefaultWindows() []Window {
	return []Window{
		{Block: blueprint.Morning, Open: calendar.ClockOf(6, 0), Close: calendar.ClockOf(12, 0)},
		{Block: blueprint.Afternoon, Open: calendar.ClockOf(12, 0), Close: calendar.ClockOf(17, 0)},
		{Block: blueprint.Evening, Open: calendar.ClockOf(17, 0), Close: calendar.ClockOf(22, 0)},
	}
}

// WindowOf returns the window for block.
func WindowOf(windows []Window, block blueprint.TimeBlock) (Window, bool) {
	for _, w := range windows {
		if w.Block == block {
			return w, true
		}
	}
	return Window{}, false
}

// DayStart is the opening of the first window; a day has started once the
// clock passes it.
func DayStart(windows []Window) calendar.Clock {
	start := windows[0].Open
	for _, w := range windows[1:] {
		if w.Open < start {
			start = w.Open
		}
	}
	return start
}

// Policy holds the tunable placement rules.
type Policy struct {
	Buffer             int     // minutes after a medium or low task
	HighBuffer         int     // minutes after a high task
	MaxConsecutiveHigh int     // high placements allowed back to back
	MaxBoost           float64 // clamp for category balance boosts
}

// DefaultPolicy returns 10/15 minute buffers, at most two consecutive high
// tasks and a 0.5 boost clamp.
func DefaultPolicy() Policy {
	return Policy{
		Buffer:             10,
		HighBuffer:         15,
		MaxConsecutiveHigh: 2,
		MaxBoost:           0.5,
	}
}

// BufferAfter returns the rest required after a task of importance imp.
func (p Policy) BufferAfter(imp blueprint.Importance) int {
	if imp == blueprint.High {
		return p.HighBuffer
	}
	return p.Buffer
}

// MinBuffer is the smallest gap the policy ever leaves between tasks.
func (p Policy) MinBuffer() int {
	if p.HighBuffer < p.Buffer {
		return p.HighBuffer
	}
	return p.Buffer
}

func (p Policy) clampBoost(b float64) float64 {
	if b > p.MaxBoost {
		return p.MaxBoost
	}
	if b < -p.MaxBoost {
		return -p.MaxBoost
	}
	return b
}
