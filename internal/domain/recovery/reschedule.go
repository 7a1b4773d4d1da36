package recovery

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mentora/engine/internal/domain/allocator"
	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/events"
	"github.com/mentora/engine/internal/domain/schedule"
	"github.com/mentora/engine/internal/shared/calendar"
)

// miss marks inst Missed inside b and finds its single replacement.
func (m *Manager) miss(b *batch, inst schedule.Instance, now time.Time) (*Outcome, []events.Event, error) {
	src := b.edit(inst.Date)
	target := &src.Instances[src.Find(inst.ID)]
	if err := target.Transition(schedule.Missed, now); err != nil {
		return nil, nil, err
	}
	missed := *target
	out := &Outcome{Instance: missed}
	evs := []events.Event{instanceEvent(events.InstanceMissed, missed, nil)}
	m.metrics.RecordTransition(schedule.Missed.String())
	m.logger.Info("Instance missed", zap.String("instance", missed.ID), zap.String("template", missed.TemplateID))

	if succ, ok := m.store.Successor(missed.ID); ok {
		m.logger.Warn("Missed instance already has a successor", zap.String("instance", missed.ID), zap.String("successor", succ))
		return out, evs, nil
	}

	// A high miss may displace on a date before any later date is tried.
	boost := missed.Importance == blueprint.High && !missed.BoostUsed
	for _, d := range m.candidateDates(missed, missed.Date.AddDays(1), now) {
		if slot, ok := m.slotOn(b, missed, d, 0, now); ok {
			repl := m.replacement(missed, d, slot, now)
			b.edit(d).Instances = append(b.edit(d).Instances, repl)
			out.Replacement = &repl
			evs = append(evs, instanceEvent(events.InstanceRescheduled, repl, map[string]any{
				"reason": "missed",
				"from":   missed.ID,
			}))
			m.metrics.RecordTransition(schedule.Rescheduled.String())
			m.logger.Info("Missed instance rescheduled",
				zap.String("instance", missed.ID), zap.String("replacement", repl.ID),
				zap.Stringer("date", d), zap.Stringer("start", slot.Start))
			return out, evs, nil
		}
		if !boost {
			continue
		}
		mv, ok := m.displaceOn(b, missed, d, now)
		if !ok {
			continue
		}
		repl := m.replacement(missed, mv.date, mv.slot, now)
		repl.BoostUsed = true
		victim := m.applyDisplacement(b, mv, repl.ID, now)
		b.edit(mv.date).Instances = append(b.edit(mv.date).Instances, repl)

		out.Replacement = &repl
		out.Displaced = &victim
		evs = append(evs,
			instanceEvent(events.InstanceRescheduled, repl, map[string]any{
				"reason": "missed",
				"from":   missed.ID,
				"boost":  true,
			}),
			instanceEvent(events.InstanceDisplaced, victim, map[string]any{
				"for":       repl.ID,
				"from_date": mv.date.String(),
			}),
		)
		m.metrics.RecordTransition(schedule.Rescheduled.String())
		m.metrics.RecordDisplacement()
		m.logger.Info("Missed instance rescheduled by displacement",
			zap.String("instance", missed.ID), zap.String("replacement", repl.ID),
			zap.String("displaced", victim.ID), zap.Stringer("displaced_to", victim.Date))
		return out, evs, nil
	}

	detail := fmt.Sprintf("no free slot within %d days", m.opts.Horizon)
	src.Unplaced = append(src.Unplaced, schedule.Unplaced{
		TemplateID:     missed.TemplateID,
		InstanceID:     missed.ID,
		Category:       missed.Category,
		Title:          missed.Title,
		Importance:     missed.Importance,
		Duration:       missed.Duration(),
		OccurrenceDate: missed.OccurrenceDate,
		Reason:         schedule.ReasonMissed,
		Detail:         detail,
		Escalated:      true,
	})
	out.Escalated = true
	evs = append(evs, instanceEvent(events.OccurrenceEscalated, missed, map[string]any{"reason": schedule.ReasonMissed}))
	m.metrics.RecordEscalation(1)
	m.logger.Warn("Missed instance escalated",
		zap.Error(&schedule.NoSlotAvailableError{TemplateID: missed.TemplateID, Date: missed.Date, Reason: detail}),
		zap.String("instance", missed.ID))
	return out, evs, nil
}

// replacement builds the successor of inst at slot on date.
func (m *Manager) replacement(inst schedule.Instance, date calendar.Date, slot allocator.Slot, now time.Time) schedule.Instance {
	ts := now
	return schedule.Instance{
		ID:              m.newID(),
		TemplateID:      inst.TemplateID,
		Category:        inst.Category,
		Title:           inst.Title,
		Importance:      inst.Importance,
		Window:          slot.Window,
		Date:            date,
		Start:           slot.Start,
		End:             slot.End,
		Status:          schedule.Rescheduled,
		SnoozeUsed:      inst.SnoozeUsed,
		RescheduledFrom: inst.ID,
		LineageID:       inst.LineageID,
		Origin:          schedule.OriginRescheduled,
		OccurrenceDate:  inst.OccurrenceDate,
		BoostUsed:       inst.BoostUsed,
		ChangedAt:       &ts,
	}
}

// allowed returns the day filter for a template. A template no longer in
// the blueprint may go on any day.
func (m *Manager) allowed(templateID string) func(calendar.Date) bool {
	if bp, ok := m.blueprints.Current(); ok {
		if tpl, ok := bp.Template(templateID); ok {
			return tpl.AllowedOn
		}
	}
	return func(calendar.Date) bool { return true }
}

// candidateDates lists the dates from from through inst.Date+Horizon that
// are not in the past and allowed for the template.
func (m *Manager) candidateDates(inst schedule.Instance, from calendar.Date, now time.Time) []calendar.Date {
	today := calendar.Today(now, m.opts.Location)
	allowed := m.allowed(inst.TemplateID)
	last := inst.Date.AddDays(m.opts.Horizon)

	var out []calendar.Date
	for d := from; !d.After(last); d = d.AddDays(1) {
		if d.Before(today) || !allowed(d) && d != inst.Date {
			continue
		}
		out = append(out, d)
	}
	return out
}

// notBefore is the earliest start on d given the clock.
func (m *Manager) notBefore(d calendar.Date, floor calendar.Clock, now time.Time) calendar.Clock {
	local := now.In(m.opts.Location)
	if d == calendar.FromTime(local) {
		if c := calendar.ClockFromTime(local); c > floor {
			return c
		}
	}
	return floor
}

// search finds the earliest slot for inst from date from onward. floor
// applies on from only.
func (m *Manager) search(b *batch, inst schedule.Instance, from calendar.Date, floor calendar.Clock, now time.Time, skip ...string) (calendar.Date, allocator.Slot, bool) {
	for _, d := range m.candidateDates(inst, from, now) {
		f := calendar.Clock(0)
		if d == from {
			f = floor
		}
		if slot, ok := m.slotOn(b, inst, d, f, now, skip...); ok {
			return d, slot, true
		}
	}
	return calendar.Date{}, allocator.Slot{}, false
}

// slotOn finds the earliest free slot for inst on d.
func (m *Manager) slotOn(b *batch, inst schedule.Instance, d calendar.Date, floor calendar.Clock, now time.Time, skip ...string) (allocator.Slot, bool) {
	return allocator.FindSlot(allocator.SlotRequest{
		Windows:    m.opts.Windows,
		Policy:     m.opts.Policy,
		NotBefore:  m.notBefore(d, floor, now),
		Occupied:   b.occupied(d, skip...),
		Duration:   inst.Duration(),
		Importance: inst.Importance,
	})
}

// move is a planned displacement: the missed instance takes slot on date,
// and victim moves to victimSlot on victimDate.
type move struct {
	date       calendar.Date
	slot       allocator.Slot
	victim     schedule.Instance
	victimDate calendar.Date
	victimSlot allocator.Slot
}

// displaceOn looks on d for a lower-importance, not yet started generated
// instance whose slot would fit missed and which can itself be moved later
// that day or to a later allowed day.
func (m *Manager) displaceOn(b *batch, missed schedule.Instance, d calendar.Date, now time.Time) (move, bool) {
	day := b.peek(d)
	if day == nil {
		return move{}, false
	}
	nb := m.notBefore(d, 0, now)

	victims := make([]schedule.Instance, 0, len(day.Instances))
	for _, inst := range day.Instances {
		if inst.Status == schedule.Scheduled && inst.Origin == schedule.OriginGenerated &&
			inst.Importance < missed.Importance && inst.Start >= nb {
			victims = append(victims, inst)
		}
	}
	sort.SliceStable(victims, func(i, j int) bool {
		if victims[i].Importance != victims[j].Importance {
			return victims[i].Importance < victims[j].Importance
		}
		if victims[i].Start != victims[j].Start {
			return victims[i].Start > victims[j].Start
		}
		return victims[i].ID < victims[j].ID
	})

	for _, v := range victims {
		occ := b.occupied(d, v.ID)
		slot, ok := allocator.FindSlot(allocator.SlotRequest{
			Windows:    m.opts.Windows,
			Policy:     m.opts.Policy,
			NotBefore:  nb,
			Occupied:   occ,
			Duration:   missed.Duration(),
			Importance: missed.Importance,
		})
		if !ok {
			continue
		}
		occ = append(occ, allocator.Interval{Start: slot.Start, End: slot.End, Importance: missed.Importance})
		if vd, vs, ok := m.relocate(b, v, d, occ, now); ok {
			return move{date: d, slot: slot, victim: v, victimDate: vd, victimSlot: vs}, true
		}
	}
	return move{}, false
}

// relocate finds a new home for a displaced instance: later the same day
// first, then the following allowed days.
func (m *Manager) relocate(b *batch, v schedule.Instance, d calendar.Date, sameDay []allocator.Interval, now time.Time) (calendar.Date, allocator.Slot, bool) {
	req := allocator.SlotRequest{
		Windows:    m.opts.Windows,
		Policy:     m.opts.Policy,
		NotBefore:  m.notBefore(d, v.Start, now),
		Occupied:   sameDay,
		Duration:   v.Duration(),
		Importance: v.Importance,
	}
	if slot, ok := allocator.FindSlot(req); ok {
		return d, slot, true
	}

	allowed := m.allowed(v.TemplateID)
	for i := 1; i <= m.opts.Horizon; i++ {
		next := d.AddDays(i)
		if !allowed(next) {
			continue
		}
		req.NotBefore = m.notBefore(next, 0, now)
		req.Occupied = b.occupied(next)
		if slot, ok := allocator.FindSlot(req); ok {
			return next, slot, true
		}
	}
	return calendar.Date{}, allocator.Slot{}, false
}

// applyDisplacement moves the victim and records the move on its source
// day. The victim keeps its id.
func (m *Manager) applyDisplacement(b *batch, mv move, forID string, now time.Time) schedule.Instance {
	src := b.edit(mv.date)
	i := src.Find(mv.victim.ID)
	victim := src.Instances[i]

	ts := now
	victim.Date = mv.victimDate
	victim.Window = mv.victimSlot.Window
	victim.Start = mv.victimSlot.Start
	victim.End = mv.victimSlot.End
	victim.Origin = schedule.OriginDisplaced
	victim.ChangedAt = &ts

	if mv.victimDate == mv.date {
		src.Instances[i] = victim
	} else {
		src.Instances = append(src.Instances[:i], src.Instances[i+1:]...)
		dst := b.edit(mv.victimDate)
		dst.Instances = append(dst.Instances, victim)
	}
	src.Relocated = append(src.Relocated, schedule.Relocation{
		InstanceID: victim.ID,
		TemplateID: victim.TemplateID,
		From:       mv.victim.Start,
		ToDate:     mv.victimDate,
		ToStart:    victim.Start,
		For:        forID,
	})
	return victim
}
