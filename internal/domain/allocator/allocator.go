// Package allocator places task occurrences into one day's time windows.
//
// Allocation is a pure function of its Request: windows are walked in day
// order, each with a forward-only cursor, so the scan is bounded by the
// number of candidates times the number of fixed intervals.
package allocator

import (
	"sort"

	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/shared/calendar"
)

// Candidate is one occurrence competing for a slot.
type Candidate struct {
	Key        string
	TemplateID string
	Category   string
	Duration   int
	Preferred  blueprint.TimeBlock
	Importance blueprint.Importance
	Boost      float64
	Rank       int
}

// Interval is a fixed occupied span on the timeline.
type Interval struct {
	Start      calendar.Clock
	End        calendar.Clock
	Importance blueprint.Importance
}

// Request describes one day's allocation.
type Request struct {
	Windows    []Window
	Policy     Policy
	NotBefore  calendar.Clock
	Occupied   []Interval
	Candidates []Candidate
}

// Placement is a candidate with its slot.
type Placement struct {
	Candidate
	Window blueprint.TimeBlock
	Start  calendar.Clock
	End    calendar.Clock
}

// Result lists placements in time order and the candidates that fit
// nowhere that day.
type Result struct {
	Placements []Placement
	Overflow   []Candidate
}

// Allocate places candidates window by window. Each window's list holds the
// candidates preferring it plus those that did not fit an earlier window,
// sorted by importance, then balance boost, then shorter duration, then
// dependency rank, then key.
func Allocate(req Request) Result {
	windows := req.Windows
	if len(windows) == 0 {
		windows = DefaultWindows()
	}
	p := req.Policy

	tl := newTimeline(p, req.Occupied)
	pending := make(map[blueprint.TimeBlock][]Candidate, len(windows))
	for _, c := range req.Candidates {
		pending[c.Preferred] = append(pending[c.Preferred], c)
	}

	var res Result
	var rolled []Candidate
	streak := highStreak{policy: p}

	for _, w := range windows {
		list := append(rolled, pending[w.Block]...)
		rolled = nil
		sortCandidates(list, p)

		cursor := w.Open
		if req.NotBefore > cursor {
			cursor = req.NotBefore
		}

		for len(list) > 0 {
			idx, start, ok := pick(list, tl, streak, cursor, w)
			if !ok {
				// nothing left fits this window
				rolled = append(rolled, list...)
				break
			}
			c := list[idx]
			list = append(list[:idx], list[idx+1:]...)

			end := start.Add(c.Duration)
			tl.add(Interval{Start: start, End: end, Importance: c.Importance})
			streak.record(c.Importance, start, end)
			res.Placements = append(res.Placements, Placement{Candidate: c, Window: w.Block, Start: start, End: end})
			cursor = end.Add(p.BufferAfter(c.Importance))
		}
	}

	res.Overflow = rolled
	sort.SliceStable(res.Overflow, func(i, j int) bool { return res.Overflow[i].Key < res.Overflow[j].Key })
	return res
}

// pick chooses the next candidate to place at or after cursor. It takes the
// first candidate in list order that fits, except that a high candidate
// which would extend a run of MaxConsecutiveHigh back-to-back highs yields
// to the first lower-importance candidate that fits. The rule is soft: with
// no such alternative the high candidate is placed anyway.
func pick(list []Candidate, tl *timeline, streak highStreak, cursor calendar.Clock, w Window) (int, calendar.Clock, bool) {
	first := -1
	var firstStart calendar.Clock
	for i, c := range list {
		if start, ok := tl.fit(cursor, w.Close, c.Duration, c.Importance); ok {
			first, firstStart = i, start
			break
		}
	}
	if first < 0 {
		return -1, 0, false
	}

	c := list[first]
	if c.Importance != blueprint.High || !streak.saturated(firstStart) {
		return first, firstStart, true
	}
	for i := first + 1; i < len(list); i++ {
		alt := list[i]
		if alt.Importance >= blueprint.High {
			continue
		}
		if start, ok := tl.fit(cursor, w.Close, alt.Duration, alt.Importance); ok {
			return i, start, true
		}
	}
	return first, firstStart, true
}

func sortCandidates(list []Candidate, p Policy) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if ba, bb := p.clampBoost(a.Boost), p.clampBoost(b.Boost); ba != bb {
			return ba > bb
		}
		if a.Duration != b.Duration {
			return a.Duration < b.Duration
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.Key < b.Key
	})
}

// highStreak tracks back-to-back high placements. A gap longer than the
// buffer owed to the previous task counts as a break.
type highStreak struct {
	policy  Policy
	count   int
	lastEnd calendar.Clock
	lastImp blueprint.Importance
	placed  bool
}

func (s highStreak) contiguous(start calendar.Clock) bool {
	return s.placed && int(start-s.lastEnd) <= s.policy.BufferAfter(s.lastImp)
}

func (s highStreak) saturated(start calendar.Clock) bool {
	return s.policy.MaxConsecutiveHigh > 0 && s.count >= s.policy.MaxConsecutiveHigh && s.contiguous(start)
}

func (s *highStreak) record(imp blueprint.Importance, start, end calendar.Clock) {
	switch {
	case imp != blueprint.High:
		s.count = 0
	case s.contiguous(start):
		s.count++
	default:
		s.count = 1
	}
	s.lastEnd, s.lastImp, s.placed = end, imp, true
}
