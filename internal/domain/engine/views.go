package engine

import (
	"time"

	"github.com/mentora/engine/internal/domain/balance"
	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/schedule"
	"github.com/mentora/engine/internal/shared/calendar"
)

// DayState tells the dashboard why a day looks the way it does.
type DayState string

const (
	// StateNoBlueprint means no valid blueprint has ever been loaded.
	StateNoBlueprint DayState = "no_blueprint"
	// StateNotGenerated means a blueprint exists but the day is outside
	// the generated horizon.
	StateNotGenerated DayState = "not_generated"
	StateGenerated    DayState = "generated"
)

// Slot is one instance as the dashboard renders it.
type Slot struct {
	ID              string               `json:"id"`
	TemplateID      string               `json:"template_id"`
	Title           string               `json:"title"`
	Category        string               `json:"category"`
	Color           string               `json:"color"`
	Importance      blueprint.Importance `json:"importance"`
	Window          blueprint.TimeBlock  `json:"window"`
	Start           calendar.Clock       `json:"start"`
	End             calendar.Clock       `json:"end"`
	Duration        int                  `json:"duration_minutes"`
	Status          schedule.Status      `json:"status"`
	Origin          schedule.Origin      `json:"origin"`
	Rescheduled     bool                 `json:"rescheduled"`
	RescheduledFrom string               `json:"rescheduled_from,omitempty"`
	ReplacedBy      string               `json:"replaced_by,omitempty"`
	SnoozeUsed      bool                 `json:"snooze_used"`
	Deadline        time.Time            `json:"deadline"`
	Overdue         bool                 `json:"overdue"`
}

// DayView is one date of the dashboard.
type DayView struct {
	Date             calendar.Date         `json:"date"`
	Weekday          string                `json:"weekday"`
	State            DayState              `json:"state"`
	BlueprintVersion uint64                `json:"blueprint_version,omitempty"`
	BlueprintError   string                `json:"blueprint_error,omitempty"`
	Slots            []Slot                `json:"slots"`
	Breaks           []schedule.Break      `json:"breaks"`
	Unplaced         []schedule.Unplaced   `json:"unplaced"`
	Relocated        []schedule.Relocation `json:"relocated"`
	Minutes          map[string]int        `json:"minutes"`
}

// WeekView is seven days from a week start plus the week's balance.
type WeekView struct {
	WeekStart calendar.Date      `json:"week_start"`
	Days      []DayView          `json:"days"`
	Minutes   map[string]int     `json:"minutes"`
	Shares    map[string]float64 `json:"shares"`
	Targets   map[string]float64 `json:"targets"`
	Drift     balance.Drift      `json:"drift"`
}

// DailyView renders d.
func (e *Engine) DailyView(d calendar.Date) DayView {
	bp, hasBP := e.blueprints.Current()
	day, _ := e.schedules.Day(d)
	now := e.now()

	v := DayView{
		Date:      d,
		Weekday:   d.Weekday().String(),
		Slots:     []Slot{},
		Breaks:    []schedule.Break{},
		Unplaced:  []schedule.Unplaced{},
		Relocated: []schedule.Relocation{},
		Minutes:   map[string]int{},
	}
	if err := e.blueprints.LastError(); err != nil {
		v.BlueprintError = err.Error()
	}

	switch {
	case day.Generated():
		v.State = StateGenerated
		v.BlueprintVersion = day.BlueprintVersion
	case hasBP:
		v.State = StateNotGenerated
	default:
		v.State = StateNoBlueprint
	}
	if day == nil {
		return v
	}

	for _, inst := range day.Instances {
		v.Slots = append(v.Slots, e.slot(inst, bp, now))
	}
	v.Breaks = append(v.Breaks, day.Breaks...)
	v.Unplaced = append(v.Unplaced, day.Unplaced...)
	v.Relocated = append(v.Relocated, day.Relocated...)
	v.Minutes = day.Minutes()
	return v
}

// Slot renders a single instance.
func (e *Engine) Slot(instanceID string) (Slot, bool) {
	inst, _, ok := e.schedules.Instance(instanceID)
	if !ok {
		return Slot{}, false
	}
	bp, _ := e.blueprints.Current()
	return e.slot(inst, bp, e.now()), true
}

func (e *Engine) slot(inst schedule.Instance, bp *blueprint.Blueprint, now time.Time) Slot {
	color := blueprint.DefaultColor
	if bp != nil {
		color = bp.Color(inst.Category)
	}
	s := Slot{
		ID:              inst.ID,
		TemplateID:      inst.TemplateID,
		Title:           inst.Title,
		Category:        inst.Category,
		Color:           color,
		Importance:      inst.Importance,
		Window:          inst.Window,
		Start:           inst.Start,
		End:             inst.End,
		Duration:        inst.Duration(),
		Status:          inst.Status,
		Origin:          inst.Origin,
		Rescheduled:     inst.RescheduledFrom != "",
		RescheduledFrom: inst.RescheduledFrom,
		SnoozeUsed:      inst.SnoozeUsed,
		Deadline:        e.recovery.Deadline(inst),
		Overdue:         e.recovery.Overdue(inst, now),
	}
	if succ, ok := e.schedules.Successor(inst.ID); ok {
		s.ReplacedBy = succ
	}
	return s
}

// WeeklyView renders the week starting at weekStart. Any date is accepted
// and moved back to its Monday.
func (e *Engine) WeeklyView(weekStart calendar.Date) WeekView {
	weekStart = weekStart.WeekStart()
	week := balance.NewWeekState(weekStart)
	v := WeekView{WeekStart: weekStart, Days: make([]DayView, 0, 7)}
	for _, d := range calendar.Range(weekStart, 7) {
		dv := e.DailyView(d)
		week.AddAll(dv.Minutes)
		v.Days = append(v.Days, dv)
	}

	v.Minutes = week.Minutes
	v.Shares = balance.Shares(week)
	v.Targets = map[string]float64{}
	if bp, ok := e.blueprints.Current(); ok {
		for c, r := range bp.Ratios {
			v.Targets[c] = r
		}
		v.Drift = balance.Measure(bp.Ratios, week)
	}
	return v
}

// RecentCounts tallies instance outcomes over a trailing window.
// Rescheduled counts missed instances in the window that received a
// replacement, wherever the replacement landed.
type RecentCounts struct {
	From        calendar.Date `json:"from"`
	To          calendar.Date `json:"to"`
	Completed   int           `json:"completed"`
	Missed      int           `json:"missed"`
	Rescheduled int           `json:"rescheduled"`
	Snoozed     int           `json:"snoozed"`
	Overflow    int           `json:"overflow"`
	Deferred    int           `json:"deferred"`
}

// BlueprintSummary identifies the active blueprint.
type BlueprintSummary struct {
	Version    uint64    `json:"version"`
	Digest     string    `json:"digest"`
	LoadedAt   time.Time `json:"loaded_at"`
	Templates  int       `json:"templates"`
	Categories []string  `json:"categories"`
}

// MentorContext is the read-only snapshot handed to the mentor.
type MentorContext struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Today       DayView           `json:"today"`
	Week        WeekView          `json:"week"`
	Recent      RecentCounts      `json:"recent"`
	Blueprint   *BlueprintSummary `json:"blueprint,omitempty"`
}

// recentDays is the trailing window of MentorContext.Recent.
const recentDays = 7

// MentorContext builds the mentor snapshot for now.
func (e *Engine) MentorContext() MentorContext {
	now := e.now()
	today := calendar.Today(now, e.opts.Location)
	mc := MentorContext{
		GeneratedAt: now,
		Today:       e.DailyView(today),
		Week:        e.WeeklyView(today),
		Recent:      e.recent(today),
	}
	if bp, ok := e.blueprints.Current(); ok {
		mc.Blueprint = &BlueprintSummary{
			Version:    bp.Version,
			Digest:     bp.Digest,
			LoadedAt:   bp.LoadedAt,
			Templates:  len(bp.Templates),
			Categories: bp.Categories(),
		}
	}
	return mc
}

func (e *Engine) recent(today calendar.Date) RecentCounts {
	from := today.AddDays(1 - recentDays)
	rc := RecentCounts{From: from, To: today}
	for _, day := range e.schedules.Range(from, recentDays) {
		if day == nil {
			continue
		}
		for _, inst := range day.Instances {
			switch inst.Status {
			case schedule.Done:
				rc.Completed++
			case schedule.Missed:
				rc.Missed++
				if _, ok := e.schedules.Successor(inst.ID); ok {
					rc.Rescheduled++
				}
			case schedule.Snoozed:
				rc.Snoozed++
			}
		}
		for _, u := range day.Unplaced {
			if u.Reason == schedule.ReasonDependency {
				rc.Deferred++
			} else {
				rc.Overflow++
			}
		}
	}
	return rc
}
