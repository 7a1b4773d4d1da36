package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/shared/calendar"
)

func at(h, m int) calendar.Clock { return calendar.ClockOf(h, m) }

func cand(key string, dur int, pref blueprint.TimeBlock, imp blueprint.Importance) Candidate {
	return Candidate{Key: key, TemplateID: key, Category: "Class 11", Duration: dur, Preferred: pref, Importance: imp}
}

func keys(ps []Placement) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Key
	}
	return out
}

func assertSpacing(t *testing.T, p Policy, ps []Placement) {
	t.Helper()
	for i := 1; i < len(ps); i++ {
		gap := int(ps[i].Start - ps[i-1].End)
		assert.GreaterOrEqual(t, gap, p.BufferAfter(ps[i-1].Importance), "%s -> %s", ps[i-1].Key, ps[i].Key)
	}
}

func TestAllocateSingleMorningTask(t *testing.T) {
	res := Allocate(Request{
		Policy:     DefaultPolicy(),
		Candidates: []Candidate{cand("physics", 50, blueprint.Morning, blueprint.High)},
	})

	require.Len(t, res.Placements, 1)
	p := res.Placements[0]
	assert.Equal(t, blueprint.Morning, p.Window)
	assert.Equal(t, at(6, 0), p.Start)
	assert.Equal(t, at(6, 50), p.End)
	assert.Empty(t, res.Overflow)
}

func TestAllocateOrdering(t *testing.T) {
	res := Allocate(Request{
		Policy: DefaultPolicy(),
		Candidates: []Candidate{
			cand("long-medium", 30, blueprint.Morning, blueprint.Medium),
			cand("short-medium", 20, blueprint.Morning, blueprint.Medium),
			cand("low", 10, blueprint.Morning, blueprint.Low),
			cand("high", 60, blueprint.Morning, blueprint.High),
		},
	})

	assert.Equal(t, []string{"high", "short-medium", "long-medium", "low"}, keys(res.Placements))
	assert.Equal(t, at(7, 15), res.Placements[1].Start, "15 minutes after a high task")
	assert.Equal(t, at(7, 45), res.Placements[2].Start, "10 minutes after a medium task")
	assertSpacing(t, DefaultPolicy(), res.Placements)
}

func TestAllocateRankBreaksTies(t *testing.T) {
	a := cand("a", 30, blueprint.Evening, blueprint.Medium)
	a.Rank = 1
	b := cand("b", 30, blueprint.Evening, blueprint.Medium)
	b.Rank = 0

	res := Allocate(Request{Policy: DefaultPolicy(), Candidates: []Candidate{a, b}})
	assert.Equal(t, []string{"b", "a"}, keys(res.Placements))
}

func TestAllocateBoostReordersWithinImportance(t *testing.T) {
	behind := cand("behind", 45, blueprint.Afternoon, blueprint.Medium)
	behind.Boost = 0.4
	ahead := cand("ahead", 30, blueprint.Afternoon, blueprint.Medium)
	ahead.Boost = -0.4

	res := Allocate(Request{Policy: DefaultPolicy(), Candidates: []Candidate{ahead, behind}})
	assert.Equal(t, []string{"behind", "ahead"}, keys(res.Placements))
}

func TestAllocateBoostIsClamped(t *testing.T) {
	low := cand("low", 30, blueprint.Morning, blueprint.Low)
	low.Boost = 5
	med := cand("medium", 30, blueprint.Morning, blueprint.Medium)

	res := Allocate(Request{Policy: DefaultPolicy(), Candidates: []Candidate{low, med}})
	assert.Equal(t, []string{"medium", "low"}, keys(res.Placements))
}

func TestAllocateBoostNeverCrossesImportance(t *testing.T) {
	high := cand("high", 60, blueprint.Morning, blueprint.High)
	high.Boost = -0.5
	med := cand("medium", 20, blueprint.Morning, blueprint.Medium)
	med.Boost = 0.5

	res := Allocate(Request{Policy: DefaultPolicy(), Candidates: []Candidate{med, high}})
	assert.Equal(t, []string{"high", "medium"}, keys(res.Placements))
}

func TestAllocateRollsToNextWindow(t *testing.T) {
	res := Allocate(Request{
		Policy: DefaultPolicy(),
		Candidates: []Candidate{
			cand("big", 300, blueprint.Morning, blueprint.Medium),
			cand("bigger", 200, blueprint.Morning, blueprint.Medium),
		},
	})

	require.Len(t, res.Placements, 2)
	assert.Equal(t, "bigger", res.Placements[0].Key)
	assert.Equal(t, blueprint.Morning, res.Placements[0].Window)
	assert.Equal(t, "big", res.Placements[1].Key)
	assert.Equal(t, blueprint.Afternoon, res.Placements[1].Window)
	assert.Equal(t, at(12, 0), res.Placements[1].Start)
}

func TestAllocateOverflow(t *testing.T) {
	res := Allocate(Request{
		Policy: DefaultPolicy(),
		Candidates: []Candidate{
			cand("fits", 60, blueprint.Evening, blueprint.Medium),
			cand("too-long", 400, blueprint.Evening, blueprint.Medium),
		},
	})

	assert.Equal(t, []string{"fits"}, keys(res.Placements))
	require.Len(t, res.Overflow, 1)
	assert.Equal(t, "too-long", res.Overflow[0].Key)
}

func TestAllocateIntensitySpacing(t *testing.T) {
	res := Allocate(Request{
		Policy: DefaultPolicy(),
		Candidates: []Candidate{
			cand("h1", 30, blueprint.Morning, blueprint.High),
			cand("h2", 40, blueprint.Morning, blueprint.High),
			cand("h3", 50, blueprint.Morning, blueprint.High),
			cand("m1", 30, blueprint.Morning, blueprint.Medium),
		},
	})

	assert.Equal(t, []string{"h1", "h2", "m1", "h3"}, keys(res.Placements))
	assertSpacing(t, DefaultPolicy(), res.Placements)
}

func TestAllocateIntensitySpacingIsSoft(t *testing.T) {
	res := Allocate(Request{
		Policy: DefaultPolicy(),
		Candidates: []Candidate{
			cand("h1", 30, blueprint.Morning, blueprint.High),
			cand("h2", 30, blueprint.Morning, blueprint.High),
			cand("h3", 30, blueprint.Morning, blueprint.High),
		},
	})

	assert.Equal(t, []string{"h1", "h2", "h3"}, keys(res.Placements))
}

func TestAllocateRespectsOccupied(t *testing.T) {
	res := Allocate(Request{
		Policy:   DefaultPolicy(),
		Occupied: []Interval{{Start: at(6, 30), End: at(7, 30), Importance: blueprint.High}},
		Candidates: []Candidate{
			cand("short", 15, blueprint.Morning, blueprint.Medium),
			cand("long", 40, blueprint.Morning, blueprint.Medium),
		},
	})

	require.Len(t, res.Placements, 2)
	assert.Equal(t, at(6, 0), res.Placements[0].Start, "short fits before the pinned task with a buffer")
	assert.Equal(t, at(7, 45), res.Placements[1].Start)
}

func TestAllocateNotBefore(t *testing.T) {
	res := Allocate(Request{
		Policy:    DefaultPolicy(),
		NotBefore: at(13, 7),
		Candidates: []Candidate{
			cand("morning", 30, blueprint.Morning, blueprint.Medium),
			cand("evening", 30, blueprint.Evening, blueprint.Medium),
		},
	})

	require.Len(t, res.Placements, 2)
	assert.Equal(t, "morning", res.Placements[0].Key)
	assert.Equal(t, blueprint.Afternoon, res.Placements[0].Window)
	assert.Equal(t, at(13, 7), res.Placements[0].Start)
	assert.Equal(t, at(17, 0), res.Placements[1].Start)
}

func TestAllocateBufferAcrossWindows(t *testing.T) {
	res := Allocate(Request{
		Policy: DefaultPolicy(),
		Candidates: []Candidate{
			cand("late", 60, blueprint.Morning, blueprint.High),
			cand("early", 300, blueprint.Morning, blueprint.High),
			cand("afternoon", 30, blueprint.Afternoon, blueprint.Medium),
		},
	})

	require.Len(t, res.Placements, 3)
	assert.Equal(t, []string{"late", "early", "afternoon"}, keys(res.Placements))
	assert.Equal(t, at(12, 0), res.Placements[1].Start)
	// early runs to 17:00, so the afternoon task spills into the evening
	// after a high-task buffer
	assert.Equal(t, blueprint.Evening, res.Placements[2].Window)
	assert.Equal(t, at(17, 15), res.Placements[2].Start)
	assertSpacing(t, DefaultPolicy(), res.Placements)
}

func TestAllocateIsDeterministic(t *testing.T) {
	req := Request{
		Policy: DefaultPolicy(),
		Candidates: []Candidate{
			cand("b", 30, blueprint.Morning, blueprint.Medium),
			cand("a", 30, blueprint.Morning, blueprint.Medium),
			cand("c", 45, blueprint.Evening, blueprint.High),
		},
	}
	first := Allocate(req)
	second := Allocate(req)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b", "c"}, keys(first.Placements))
}

func TestFindSlot(t *testing.T) {
	occupied := []Interval{
		{Start: at(6, 0), End: at(11, 0), Importance: blueprint.Medium},
		{Start: at(12, 0), End: at(16, 30), Importance: blueprint.High},
	}

	slot, ok := FindSlot(SlotRequest{Policy: DefaultPolicy(), Occupied: occupied, Duration: 30, Importance: blueprint.Medium})
	require.True(t, ok)
	assert.Equal(t, Slot{Window: blueprint.Morning, Start: at(11, 10), End: at(11, 40)}, slot)

	slot, ok = FindSlot(SlotRequest{Policy: DefaultPolicy(), Occupied: occupied, Duration: 60, Importance: blueprint.Medium})
	require.True(t, ok)
	assert.Equal(t, blueprint.Evening, slot.Window)
	assert.Equal(t, at(17, 0), slot.Start)

	slot, ok = FindSlot(SlotRequest{Policy: DefaultPolicy(), Occupied: occupied, Duration: 30, NotBefore: at(20, 0)})
	require.True(t, ok)
	assert.Equal(t, at(20, 0), slot.Start)

	_, ok = FindSlot(SlotRequest{Policy: DefaultPolicy(), Duration: 30, NotBefore: at(21, 45)})
	assert.False(t, ok)
}

func TestWindows(t *testing.T) {
	ws := DefaultWindows()
	assert.Equal(t, at(6, 0), DayStart(ws))

	w, ok := WindowOf(ws, blueprint.Afternoon)
	require.True(t, ok)
	assert.True(t, w.Contains(at(12, 0), at(17, 0)))
	assert.False(t, w.Contains(at(11, 59), at(12, 30)))
}
