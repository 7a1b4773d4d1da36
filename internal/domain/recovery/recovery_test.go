package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/events"
	"github.com/mentora/engine/internal/domain/generator"
	"github.com/mentora/engine/internal/domain/schedule"
	"github.com/mentora/engine/internal/shared/calendar"
)

var (
	monday    = calendar.NewDate(2025, 1, 6)
	tuesday   = calendar.NewDate(2025, 1, 7)
	wednesday = calendar.NewDate(2025, 1, 8)
)

const physicsTrig = `{
  "Class 11": [
    {"name": "Physics", "duration": 50, "preferred_time": "morning",
     "days": ["Mon", "Wed", "Fri"], "importance": "high"},
    {"name": "Trig", "duration": 60, "preferred_time": "afternoon",
     "days": ["Tue", "Thu"], "importance": "medium"}
  ],
  "ratios": {"Class 11": 100}
}`

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	store *schedule.Store
	gen   *generator.Generator
	mgr   *Manager
	pub   *recorder
	now   time.Time
}

func newFixture(t *testing.T, doc string, horizon int) *fixture {
	t.Helper()
	f := &fixture{
		store: schedule.NewStore(nil),
		pub:   &recorder{},
		now:   time.Date(2025, 1, 5, 21, 0, 0, 0, time.UTC),
	}
	bps := blueprint.NewStore(nil)
	_, err := bps.Load([]byte(doc), blueprint.FormatJSON)
	require.NoError(t, err)

	clock := func() time.Time { return f.now }
	gopts := generator.DefaultOptions()
	gopts.Location = time.UTC
	f.gen = generator.New(bps, f.store, gopts, nil).WithClock(clock)

	ropts := DefaultOptions()
	ropts.Location = time.UTC
	ropts.Horizon = horizon
	f.mgr = New(f.store, bps, ropts, nil).WithClock(clock).WithPublisher(f.pub)
	return f
}

func (f *fixture) generate(t *testing.T, from calendar.Date, days int) {
	t.Helper()
	_, err := f.gen.Generate(context.Background(), generator.Range{From: from, Days: days}, generator.TriggerManual)
	require.NoError(t, err)
}

func (f *fixture) only(t *testing.T, d calendar.Date, templateID string) schedule.Instance {
	t.Helper()
	day, ok := f.store.Day(d)
	require.True(t, ok)
	for _, inst := range day.Instances {
		if inst.TemplateID == templateID {
			return inst
		}
	}
	t.Fatalf("no %s on %s", templateID, d)
	return schedule.Instance{}
}

func TestTickReschedulesMissedOnNextAllowedDay(t *testing.T) {
	f := newFixture(t, physicsTrig, 14)
	f.generate(t, monday, 7)
	physics := f.only(t, monday, "class-11.physics")

	f.now = time.Date(2025, 1, 6, 12, 30, 0, 0, time.UTC)
	report, err := f.mgr.Tick(context.Background(), f.now)
	require.NoError(t, err)
	require.Len(t, report.Missed, 1)

	out := report.Missed[0]
	assert.Equal(t, schedule.Missed, out.Instance.Status)
	require.NotNil(t, out.Replacement)
	repl := *out.Replacement
	assert.Equal(t, wednesday, repl.Date, "Tuesday is not an allowed day")
	assert.Equal(t, calendar.ClockOf(7, 5), repl.Start, "after Wednesday's own Physics plus a high buffer")
	assert.Equal(t, schedule.Rescheduled, repl.Status)
	assert.Equal(t, physics.ID, repl.RescheduledFrom)
	assert.Equal(t, physics.LineageID, repl.LineageID)
	assert.Equal(t, monday, repl.OccurrenceDate)

	kept, day, ok := f.store.Instance(physics.ID)
	require.True(t, ok)
	assert.Equal(t, monday, day.Date)
	assert.Equal(t, schedule.Missed, kept.Status)

	succ, ok := f.store.Successor(physics.ID)
	require.True(t, ok)
	assert.Equal(t, repl.ID, succ)

	again, err := f.mgr.Tick(context.Background(), f.now)
	require.NoError(t, err)
	assert.Empty(t, again.Missed)

	count := 0
	for _, d := range f.store.Week(monday) {
		for _, inst := range d.Instances {
			if inst.RescheduledFrom == physics.ID {
				count++
			}
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, []events.Type{events.InstanceMissed, events.InstanceRescheduled}, f.pub.types())
}

func TestTickLeavesOpenWindowsAlone(t *testing.T) {
	f := newFixture(t, physicsTrig, 14)
	f.generate(t, monday, 1)

	f.now = time.Date(2025, 1, 6, 11, 59, 0, 0, time.UTC)
	report, err := f.mgr.Tick(context.Background(), f.now)
	require.NoError(t, err)
	assert.Empty(t, report.Missed)
	assert.Equal(t, 1, report.Checked)
}

func TestMarkMissedBeforeDeadline(t *testing.T) {
	doc := `{"Class 11": [{"name": "Study", "duration": 30, "preferred_time": "morning", "days": "daily", "importance": "medium"}],
	         "ratios": {"Class 11": 100}}`
	f := newFixture(t, doc, 14)
	f.generate(t, monday, 2)

	study := f.only(t, monday, "class-11.study")
	f.now = time.Date(2025, 1, 6, 14, 0, 0, 0, time.UTC)
	out, err := f.mgr.MarkMissed(context.Background(), study.ID)
	require.NoError(t, err)
	require.NotNil(t, out.Replacement)
	assert.Equal(t, tuesday, out.Replacement.Date)
	assert.Equal(t, calendar.ClockOf(6, 40), out.Replacement.Start)
}

func TestSnoozeOncePerLineage(t *testing.T) {
	f := newFixture(t, physicsTrig, 14)
	f.generate(t, monday, 7)
	physics := f.only(t, monday, "class-11.physics")

	out, err := f.mgr.Snooze(context.Background(), physics.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.Snoozed, out.Instance.Status)
	assert.True(t, out.Instance.SnoozeUsed)

	repl := out.Replacement
	require.NotNil(t, repl)
	assert.Equal(t, monday, repl.Date)
	assert.Equal(t, calendar.ClockOf(6, 50), repl.Start)
	assert.Equal(t, schedule.Scheduled, repl.Status)
	assert.Equal(t, schedule.OriginSnoozed, repl.Origin)
	assert.True(t, repl.SnoozeUsed)
	assert.Equal(t, physics.ID, repl.RescheduledFrom)

	seq := f.store.Seq()
	_, err = f.mgr.Snooze(context.Background(), repl.ID)
	var exhausted *schedule.SnoozeExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, physics.LineageID, exhausted.LineageID)
	assert.Equal(t, seq, f.store.Seq(), "a refused snooze leaves the schedule untouched")

	_, err = f.mgr.Snooze(context.Background(), physics.ID)
	assert.ErrorIs(t, err, schedule.ErrSnoozeExhausted)
}

func TestSnoozeSurvivesMissedReplacement(t *testing.T) {
	f := newFixture(t, physicsTrig, 14)
	f.generate(t, monday, 7)
	physics := f.only(t, monday, "class-11.physics")

	snoozed, err := f.mgr.Snooze(context.Background(), physics.ID)
	require.NoError(t, err)

	f.now = time.Date(2025, 1, 6, 12, 30, 0, 0, time.UTC)
	report, err := f.mgr.Tick(context.Background(), f.now)
	require.NoError(t, err)
	require.Len(t, report.Missed, 1)
	assert.Equal(t, snoozed.Replacement.ID, report.Missed[0].Instance.ID)

	repl := report.Missed[0].Replacement
	require.NotNil(t, repl)
	assert.True(t, repl.SnoozeUsed)
	_, err = f.mgr.Snooze(context.Background(), repl.ID)
	assert.ErrorIs(t, err, schedule.ErrSnoozeExhausted)
}

func TestSnoozeWithoutSlot(t *testing.T) {
	doc := `{"Class 11": [{"name": "Marathon", "duration": 290, "preferred_time": "evening", "days": ["Mon"], "importance": "medium"}],
	         "ratios": {"Class 11": 100}}`
	f := newFixture(t, doc, 1)
	f.generate(t, monday, 1)
	inst := f.only(t, monday, "class-11.marathon")

	seq := f.store.Seq()
	_, err := f.mgr.Snooze(context.Background(), inst.ID)
	assert.ErrorIs(t, err, schedule.ErrNoSlotAvailable)
	assert.Equal(t, seq, f.store.Seq())

	kept := f.only(t, monday, "class-11.marathon")
	assert.Equal(t, schedule.Scheduled, kept.Status)
	assert.False(t, kept.SnoozeUsed)
}

func TestMissedHighDisplacesLowerPriority(t *testing.T) {
	doc := `{"Class 11": [{"name": "Physics", "duration": 50, "preferred_time": "morning", "days": ["Mon", "Tue"], "importance": "high"}],
	         "ratios": {"Class 11": 100}}`
	f := newFixture(t, doc, DefaultOptions().Horizon)
	f.generate(t, monday, 1)
	physics := f.only(t, monday, "class-11.physics")

	full := &schedule.DailySchedule{
		Date:             tuesday,
		BlueprintVersion: 1,
		Instances: []schedule.Instance{
			fixed("a", blueprint.Medium, blueprint.Morning, 6, 0, 12, 0),
			fixed("b", blueprint.Low, blueprint.Afternoon, 12, 0, 17, 0),
			fixed("c", blueprint.Medium, blueprint.Evening, 17, 0, 22, 0),
		},
	}
	require.NoError(t, f.store.Commit(full))

	f.now = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	out, err := f.mgr.MarkMissed(context.Background(), physics.ID)
	require.NoError(t, err)

	require.NotNil(t, out.Replacement)
	assert.Equal(t, tuesday, out.Replacement.Date)
	assert.Equal(t, calendar.ClockOf(12, 10), out.Replacement.Start)
	assert.True(t, out.Replacement.BoostUsed)

	require.NotNil(t, out.Displaced)
	assert.Equal(t, "b", out.Displaced.ID)
	assert.Equal(t, wednesday, out.Displaced.Date)
	assert.Equal(t, schedule.OriginDisplaced, out.Displaced.Origin)

	tue, _ := f.store.Day(tuesday)
	assert.Equal(t, -1, tue.Find("b"))
	require.Len(t, tue.Relocated, 1)
	assert.Equal(t, "b", tue.Relocated[0].InstanceID)
	assert.Equal(t, out.Replacement.ID, tue.Relocated[0].For)

	moved, day, ok := f.store.Instance("b")
	require.True(t, ok)
	assert.Equal(t, wednesday, day.Date)
	assert.False(t, day.Generated())
	assert.Equal(t, calendar.ClockOf(6, 0), moved.Start)

	_, ok = f.store.Day(calendar.NewDate(2025, 1, 13))
	assert.False(t, ok, "the free slot a week later is not used")
	assert.Contains(t, f.pub.types(), events.InstanceDisplaced)
}

func TestMissedMediumSkipsFullDay(t *testing.T) {
	doc := `{"Class 11": [{"name": "Physics", "duration": 50, "preferred_time": "morning", "days": ["Mon", "Tue"], "importance": "medium"}],
	         "ratios": {"Class 11": 100}}`
	f := newFixture(t, doc, DefaultOptions().Horizon)
	f.generate(t, monday, 1)
	physics := f.only(t, monday, "class-11.physics")

	full := &schedule.DailySchedule{
		Date:             tuesday,
		BlueprintVersion: 1,
		Instances: []schedule.Instance{
			fixed("a", blueprint.Low, blueprint.Morning, 6, 0, 12, 0),
			fixed("b", blueprint.Low, blueprint.Afternoon, 12, 0, 17, 0),
			fixed("c", blueprint.Low, blueprint.Evening, 17, 0, 22, 0),
		},
	}
	require.NoError(t, f.store.Commit(full))

	f.now = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	out, err := f.mgr.MarkMissed(context.Background(), physics.ID)
	require.NoError(t, err)

	require.NotNil(t, out.Replacement)
	assert.Equal(t, calendar.NewDate(2025, 1, 13), out.Replacement.Date)
	assert.Nil(t, out.Displaced)
	assert.False(t, out.Replacement.BoostUsed)
}

func fixed(id string, imp blueprint.Importance, w blueprint.TimeBlock, sh, sm, eh, em int) schedule.Instance {
	return schedule.Instance{
		ID:             id,
		TemplateID:     "other." + id,
		Category:       "Class 11",
		Title:          id,
		Importance:     imp,
		Window:         w,
		Date:           tuesday,
		Start:          calendar.ClockOf(sh, sm),
		End:            calendar.ClockOf(eh, em),
		Status:         schedule.Scheduled,
		LineageID:      id,
		Origin:         schedule.OriginGenerated,
		OccurrenceDate: tuesday,
	}
}

func TestMissedWithoutSlotEscalates(t *testing.T) {
	f := newFixture(t, physicsTrig, 1)
	f.generate(t, monday, 1)
	physics := f.only(t, monday, "class-11.physics")

	f.now = time.Date(2025, 1, 6, 12, 30, 0, 0, time.UTC)
	out, err := f.mgr.MarkMissed(context.Background(), physics.ID)
	require.NoError(t, err)
	assert.True(t, out.Escalated)
	assert.Nil(t, out.Replacement)

	day, _ := f.store.Day(monday)
	require.Len(t, day.Unplaced, 1)
	u := day.Unplaced[0]
	assert.Equal(t, schedule.ReasonMissed, u.Reason)
	assert.Equal(t, physics.ID, u.InstanceID)
	assert.True(t, u.Escalated)

	flagged := f.mgr.Overflow(monday, 1)
	require.Len(t, flagged, 1)
	assert.Equal(t, physics.ID, flagged[0].Item.InstanceID)
	assert.Contains(t, f.pub.types(), events.OccurrenceEscalated)
}

func TestMarkDone(t *testing.T) {
	f := newFixture(t, physicsTrig, 14)
	f.generate(t, monday, 1)
	physics := f.only(t, monday, "class-11.physics")

	done, err := f.mgr.MarkDone(context.Background(), physics.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.Done, done.Status)
	require.NotNil(t, done.ChangedAt)
	assert.True(t, f.store.DoneBefore(physics.TemplateID, tuesday))

	_, err = f.mgr.MarkDone(context.Background(), physics.ID)
	var te *schedule.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, schedule.Done, te.From)

	_, err = f.mgr.MarkMissed(context.Background(), physics.ID)
	assert.ErrorIs(t, err, schedule.ErrInvalidTransition)

	_, err = f.mgr.MarkDone(context.Background(), "inst_missing")
	assert.ErrorIs(t, err, schedule.ErrInstanceNotFound)
	assert.Equal(t, []events.Type{events.InstanceCompleted}, f.pub.types())
}

func TestEscalatePublishes(t *testing.T) {
	f := newFixture(t, physicsTrig, 14)
	f.mgr.Escalate(monday, []schedule.Unplaced{{TemplateID: "class-11.trig", Reason: schedule.ReasonNoSlot, OccurrenceDate: monday}})

	require.Len(t, f.pub.events, 1)
	e := f.pub.events[0]
	assert.Equal(t, events.OccurrenceEscalated, e.Type)
	assert.Equal(t, "class-11.trig", e.TemplateID)
	assert.Equal(t, monday.String(), e.Date)
}

func TestDeadline(t *testing.T) {
	f := newFixture(t, physicsTrig, 14)
	inst := schedule.Instance{Date: monday, Window: blueprint.Afternoon, Start: calendar.ClockOf(13, 0), End: calendar.ClockOf(14, 0), Status: schedule.Scheduled}

	assert.Equal(t, time.Date(2025, 1, 6, 17, 0, 0, 0, time.UTC), f.mgr.Deadline(inst))
	assert.False(t, f.mgr.Overdue(inst, time.Date(2025, 1, 6, 16, 59, 0, 0, time.UTC)))
	assert.True(t, f.mgr.Overdue(inst, time.Date(2025, 1, 6, 17, 0, 0, 0, time.UTC)))

	inst.Status = schedule.Done
	assert.False(t, f.mgr.Overdue(inst, time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)))
}
