package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/shared/calendar"
)

// Instance is one dated, timed occurrence of a template.
type Instance struct {
	ID              string               `json:"id"`
	TemplateID      string               `json:"template_id"`
	Category        string               `json:"category"`
	Title           string               `json:"title"`
	Importance      blueprint.Importance `json:"importance"`
	Window          blueprint.TimeBlock  `json:"window"`
	Date            calendar.Date        `json:"date"`
	Start           calendar.Clock       `json:"start"`
	End             calendar.Clock       `json:"end"`
	Status          Status               `json:"status"`
	SnoozeUsed      bool                 `json:"snooze_used"`
	RescheduledFrom string               `json:"rescheduled_from,omitempty"`
	LineageID       string               `json:"lineage_id"`
	Origin          Origin               `json:"origin"`
	OccurrenceDate  calendar.Date        `json:"occurrence_date"`
	BoostUsed       bool                 `json:"boost_used,omitempty"`
	ChangedAt       *time.Time           `json:"changed_at,omitempty"`
}

// Duration returns the length in minutes.
func (i *Instance) Duration() int { return int(i.End - i.Start) }

// Transition moves the instance to status to, or returns *TransitionError.
func (i *Instance) Transition(to Status, at time.Time) error {
	if !i.Status.CanTransition(to) || to == Rescheduled {
		return &TransitionError{InstanceID: i.ID, From: i.Status, To: to}
	}
	i.Status = to
	ts := at
	i.ChangedAt = &ts
	return nil
}

// Pinned reports whether regeneration must keep the instance where it is.
func (i *Instance) Pinned() bool {
	return i.Status != Scheduled || i.Origin != OriginGenerated
}

// Occupies reports whether the instance holds its slot on the timeline.
// A snoozed instance has released its slot to its replacement.
func (i *Instance) Occupies() bool {
	return i.Status != Snoozed
}

// Break is a rest buffer between two consecutive instances.
type Break struct {
	Start calendar.Clock `json:"start"`
	End   calendar.Clock `json:"end"`
}

// Unplaced reasons.
const (
	ReasonNoSlot     = "no_slot"
	ReasonDependency = "dependency"
	ReasonMissed     = "missed_unplaceable"
)

// Unplaced is an occurrence the day could not hold.
type Unplaced struct {
	TemplateID     string               `json:"template_id"`
	InstanceID     string               `json:"instance_id,omitempty"`
	Category       string               `json:"category"`
	Title          string               `json:"title"`
	Importance     blueprint.Importance `json:"importance"`
	Duration       int                  `json:"duration_minutes"`
	OccurrenceDate calendar.Date        `json:"occurrence_date"`
	Reason         string               `json:"reason"`
	Detail         string               `json:"detail,omitempty"`
	CarriedTo      *calendar.Date       `json:"carried_to,omitempty"`
	Escalated      bool                 `json:"escalated"`
}

// Relocation records an instance moved off this day by recovery.
type Relocation struct {
	InstanceID string         `json:"instance_id"`
	TemplateID string         `json:"template_id"`
	From       calendar.Clock `json:"from"`
	ToDate     calendar.Date  `json:"to_date"`
	ToStart    calendar.Clock `json:"to_start"`
	For        string         `json:"for"`
}

// DailySchedule is the committed plan for one date. Committed values are
// immutable; writers Clone, edit and Commit a new value.
type DailySchedule struct {
	Date             calendar.Date `json:"date"`
	BlueprintVersion uint64        `json:"blueprint_version"`
	Instances        []Instance    `json:"instances"`
	Breaks           []Break       `json:"breaks"`
	Unplaced         []Unplaced    `json:"unplaced"`
	Relocated        []Relocation  `json:"relocated"`
}

// Generated reports whether the generator has built this day. Recovery may
// create a placeholder holding only relocated work before that happens.
func (d *DailySchedule) Generated() bool {
	return d != nil && d.BlueprintVersion > 0
}

// Clone returns a deep copy.
func (d *DailySchedule) Clone() *DailySchedule {
	cp := *d
	cp.Instances = append([]Instance(nil), d.Instances...)
	for i := range cp.Instances {
		if t := cp.Instances[i].ChangedAt; t != nil {
			ts := *t
			cp.Instances[i].ChangedAt = &ts
		}
	}
	cp.Breaks = append([]Break(nil), d.Breaks...)
	cp.Unplaced = append([]Unplaced(nil), d.Unplaced...)
	cp.Relocated = append([]Relocation(nil), d.Relocated...)
	return &cp
}

// Find returns the index of instance id, or -1.
func (d *DailySchedule) Find(id string) int {
	for i := range d.Instances {
		if d.Instances[i].ID == id {
			return i
		}
	}
	return -1
}

// Normalize sorts instances by start time and id, and recomputes breaks
// using bufferAfter for the rest length following each instance.
func (d *DailySchedule) Normalize(bufferAfter func(blueprint.Importance) int) {
	sort.SliceStable(d.Instances, func(a, b int) bool {
		x, y := d.Instances[a], d.Instances[b]
		if x.Start != y.Start {
			return x.Start < y.Start
		}
		return x.ID < y.ID
	})

	d.Breaks = d.Breaks[:0]
	var prev *Instance
	for i := range d.Instances {
		cur := &d.Instances[i]
		if !cur.Occupies() {
			continue
		}
		if prev != nil && cur.Start > prev.End {
			end := prev.End.Add(bufferAfter(prev.Importance))
			if end > cur.Start {
				end = cur.Start
			}
			d.Breaks = append(d.Breaks, Break{Start: prev.End, End: end})
		}
		prev = cur
	}
	if d.Breaks == nil {
		d.Breaks = []Break{}
	}
	if d.Unplaced == nil {
		d.Unplaced = []Unplaced{}
	}
	if d.Relocated == nil {
		d.Relocated = []Relocation{}
	}
	if d.Instances == nil {
		d.Instances = []Instance{}
	}
}

// Validate checks that occupying instances never overlap and are separated
// by at least minGap minutes.
func (d *DailySchedule) Validate(minGap int) error {
	var prev *Instance
	for i := range d.Instances {
		cur := &d.Instances[i]
		if cur.End <= cur.Start {
			return fmt.Errorf("%s: instance %s has empty interval", d.Date, cur.ID)
		}
		if cur.Date != d.Date {
			return fmt.Errorf("%s: instance %s dated %s", d.Date, cur.ID, cur.Date)
		}
		if !cur.Occupies() {
			continue
		}
		if prev != nil {
			if cur.Start < prev.End {
				return fmt.Errorf("%s: %s overlaps %s", d.Date, cur.ID, prev.ID)
			}
			if int(cur.Start-prev.End) < minGap {
				return fmt.Errorf("%s: only %d minutes between %s and %s", d.Date, cur.Start-prev.End, prev.ID, cur.ID)
			}
		}
		prev = cur
	}
	return nil
}

// Minutes returns the scheduled minutes per category, counting every
// instance that occupies the timeline.
func (d *DailySchedule) Minutes() map[string]int {
	out := make(map[string]int)
	for i := range d.Instances {
		if d.Instances[i].Occupies() {
			out[d.Instances[i].Category] += d.Instances[i].Duration()
		}
	}
	return out
}
