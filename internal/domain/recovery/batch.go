package recovery

import (
	"sort"

	"github.com/mentora/engine/internal/domain/allocator"
	"github.com/mentora/engine/internal/domain/schedule"
	"github.com/mentora/engine/internal/shared/calendar"
)

// batch collects day edits made under one set of date locks and commits
// them together.
type batch struct {
	store *schedule.Store
	days  map[calendar.Date]*schedule.DailySchedule
}

func newBatch(store *schedule.Store) *batch {
	return &batch{store: store, days: make(map[calendar.Date]*schedule.DailySchedule)}
}

// peek returns the working copy of d if one exists, otherwise the
// committed day, or nil.
func (b *batch) peek(d calendar.Date) *schedule.DailySchedule {
	if day, ok := b.days[d]; ok {
		return day
	}
	day, _ := b.store.Day(d)
	return day
}

// edit returns a writable copy of d, creating a placeholder day when
// nothing is committed for it.
func (b *batch) edit(d calendar.Date) *schedule.DailySchedule {
	if day, ok := b.days[d]; ok {
		return day
	}
	var day *schedule.DailySchedule
	if committed, ok := b.store.Day(d); ok {
		day = committed.Clone()
	} else {
		day = &schedule.DailySchedule{Date: d}
	}
	b.days[d] = day
	return day
}

// occupied returns the intervals of d held by instances other than skip.
func (b *batch) occupied(d calendar.Date, skip ...string) []allocator.Interval {
	day := b.peek(d)
	if day == nil {
		return nil
	}
	var out []allocator.Interval
	for _, inst := range day.Instances {
		if !inst.Occupies() || contains(skip, inst.ID) {
			continue
		}
		out = append(out, allocator.Interval{Start: inst.Start, End: inst.End, Importance: inst.Importance})
	}
	return out
}

func (b *batch) commit(policy allocator.Policy) error {
	if len(b.days) == 0 {
		return nil
	}
	dates := make([]calendar.Date, 0, len(b.days))
	for d := range b.days {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	out := make([]*schedule.DailySchedule, 0, len(dates))
	for _, d := range dates {
		day := b.days[d]
		day.Normalize(policy.BufferAfter)
		if err := day.Validate(policy.MinBuffer()); err != nil {
			return err
		}
		out = append(out, day)
	}
	return b.store.Commit(out...)
}

func contains(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}
