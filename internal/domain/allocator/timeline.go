package allocator

import (
	"sort"

	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/shared/calendar"
)

// timeline is the set of occupied intervals of one day, kept sorted.
type timeline struct {
	policy Policy
	spans  []Interval
}

func newTimeline(p Policy, occupied []Interval) *timeline {
	tl := &timeline{policy: p, spans: append([]Interval(nil), occupied...)}
	sort.Slice(tl.spans, func(i, j int) bool { return tl.spans[i].Start < tl.spans[j].Start })
	return tl
}

func (tl *timeline) add(iv Interval) {
	i := sort.Search(len(tl.spans), func(i int) bool { return tl.spans[i].Start >= iv.Start })
	tl.spans = append(tl.spans, Interval{})
	copy(tl.spans[i+1:], tl.spans[i:])
	tl.spans[i] = iv
}

// fit returns the earliest start >= from such that a task of the given
// duration and importance ends by close and keeps the policy buffer on both
// sides of every occupied interval.
func (tl *timeline) fit(from, close calendar.Clock, duration int, imp blueprint.Importance) (calendar.Clock, bool) {
	start := from
	after := tl.policy.BufferAfter(imp)
	for _, o := range tl.spans {
		if o.End.Add(tl.policy.BufferAfter(o.Importance)) <= start {
			continue
		}
		if start.Add(duration+after) <= o.Start {
			break
		}
		start = o.End.Add(tl.policy.BufferAfter(o.Importance))
	}
	if start.Add(duration) > close {
		return 0, false
	}
	return start, true
}

// SlotRequest asks for the earliest gap for a single task anywhere in the
// given windows.
type SlotRequest struct {
	Windows    []Window
	Policy     Policy
	NotBefore  calendar.Clock
	Occupied   []Interval
	Duration   int
	Importance blueprint.Importance
}

// Slot is a found gap.
type Slot struct {
	Window blueprint.TimeBlock
	Start  calendar.Clock
	End    calendar.Clock
}

// FindSlot returns the earliest fitting gap across all windows in day order.
func FindSlot(req SlotRequest) (Slot, bool) {
	windows := req.Windows
	if len(windows) == 0 {
		windows = DefaultWindows()
	}
	tl := newTimeline(req.Policy, req.Occupied)
	for _, w := range windows {
		from := w.Open
		if req.NotBefore > from {
			from = req.NotBefore
		}
		if from >= w.Close {
			continue
		}
		if start, ok := tl.fit(from, w.Close, req.Duration, req.Importance); ok {
			return Slot{Window: w.Block, Start: start, End: start.Add(req.Duration)}, true
		}
	}
	return Slot{}, false
}
