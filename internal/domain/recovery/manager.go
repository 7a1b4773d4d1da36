// Package recovery owns instance status changes after generation: marking
// work done, detecting and rescheduling missed work, snoozing, and
// escalating what cannot be placed.
//
// Every operation locks the affected dates, edits copies of the committed
// days and commits them in one step, so a reader sees either none or all
// of a recovery action. Missed instances are never removed; they stay in
// their day's history next to a pointer to their replacement.
package recovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mentora/engine/internal/domain/allocator"
	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/events"
	"github.com/mentora/engine/internal/domain/schedule"
	"github.com/mentora/engine/internal/infrastructure/logging"
	"github.com/mentora/engine/internal/infrastructure/monitoring"
	"github.com/mentora/engine/internal/shared/calendar"
	"github.com/mentora/engine/internal/shared/id"
)

// BlueprintSource yields the active blueprint.
type BlueprintSource interface {
	Current() (*blueprint.Blueprint, bool)
}

// Options configure the manager.
type Options struct {
	Windows []allocator.Window
	Policy  allocator.Policy
	// Horizon is how many days after a missed date a replacement may land.
	Horizon  int
	Location *time.Location
}

// DefaultOptions returns the default windows and policy with a 14 day
// horizon in the local time zone.
func DefaultOptions() Options {
	return Options{
		Windows:  allocator.DefaultWindows(),
		Policy:   allocator.DefaultPolicy(),
		Horizon:  14,
		Location: time.Local,
	}
}

// Manager applies status transitions and recovery.
type Manager struct {
	store      *schedule.Store
	blueprints BlueprintSource
	opts       Options

	now       func() time.Time
	newID     func() string
	publisher events.Publisher
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// New creates a Manager.
func New(store *schedule.Store, blueprints BlueprintSource, opts Options, logger *logging.Logger) *Manager {
	if len(opts.Windows) == 0 {
		opts.Windows = allocator.DefaultWindows()
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 14
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Manager{
		store:      store,
		blueprints: blueprints,
		opts:       opts,
		now:        time.Now,
		newID:      func() string { return id.NewInstanceID().String() },
		publisher:  events.Nop{},
		logger:     logging.OrNop(logger).Named("recovery"),
	}
}

// WithClock replaces the wall clock.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithPublisher sends progress events to p.
func (m *Manager) WithPublisher(p events.Publisher) *Manager {
	m.publisher = p
	return m
}

// WithMetrics enables metrics.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Outcome describes what a recovery action changed.
type Outcome struct {
	Instance    schedule.Instance  `json:"instance"`
	Replacement *schedule.Instance `json:"replacement,omitempty"`
	Displaced   *schedule.Instance `json:"displaced,omitempty"`
	Escalated   bool               `json:"escalated"`
}

// Deadline returns the moment inst becomes overdue: the close of its
// window on its date.
func (m *Manager) Deadline(inst schedule.Instance) time.Time {
	w, ok := allocator.WindowOf(m.opts.Windows, inst.Window)
	closeAt := inst.End
	if ok {
		closeAt = w.Close
	}
	return inst.Date.At(closeAt, m.opts.Location)
}

// Overdue reports whether inst is still active past its deadline.
func (m *Manager) Overdue(inst schedule.Instance, now time.Time) bool {
	return inst.Status.Active() && !now.Before(m.Deadline(inst))
}

// MarkDone completes an active instance.
func (m *Manager) MarkDone(ctx context.Context, instanceID string) (schedule.Instance, error) {
	now := m.now()
	var done schedule.Instance
	err := m.withInstance(ctx, instanceID, 0, func(b *batch, inst schedule.Instance) ([]events.Event, error) {
		day := b.edit(inst.Date)
		target := &day.Instances[day.Find(inst.ID)]
		if err := target.Transition(schedule.Done, now); err != nil {
			return nil, err
		}
		done = *target
		return []events.Event{instanceEvent(events.InstanceCompleted, done, nil)}, nil
	})
	if err != nil {
		return schedule.Instance{}, err
	}
	m.metrics.RecordTransition(schedule.Done.String())
	m.logger.Info("Instance completed", zap.String("instance", done.ID), zap.String("template", done.TemplateID))
	return done, nil
}

// MarkMissed marks an active instance Missed and reschedules it.
func (m *Manager) MarkMissed(ctx context.Context, instanceID string) (*Outcome, error) {
	now := m.now()
	var out *Outcome
	err := m.withInstance(ctx, instanceID, m.lockSpan(), func(b *batch, inst schedule.Instance) ([]events.Event, error) {
		var (
			evs []events.Event
			err error
		)
		out, evs, err = m.miss(b, inst, now)
		return evs, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Snooze pushes an active instance to the next free slot after it, on the
// same day or a later allowed day. Each lineage may snooze once; the
// schedule is unchanged when the snooze fails.
func (m *Manager) Snooze(ctx context.Context, instanceID string) (*Outcome, error) {
	now := m.now()
	var out *Outcome
	err := m.withInstance(ctx, instanceID, m.opts.Horizon, func(b *batch, inst schedule.Instance) ([]events.Event, error) {
		if inst.SnoozeUsed {
			return nil, &schedule.SnoozeExhaustedError{InstanceID: inst.ID, LineageID: inst.LineageID}
		}
		if !inst.Status.CanTransition(schedule.Snoozed) {
			return nil, &schedule.TransitionError{InstanceID: inst.ID, From: inst.Status, To: schedule.Snoozed}
		}

		date, slot, ok := m.search(b, inst, inst.Date, inst.End, now, inst.ID)
		if !ok {
			return nil, &schedule.NoSlotAvailableError{TemplateID: inst.TemplateID, Date: inst.Date, Reason: "no free slot to snooze into"}
		}

		src := b.edit(inst.Date)
		orig := &src.Instances[src.Find(inst.ID)]
		if err := orig.Transition(schedule.Snoozed, now); err != nil {
			return nil, err
		}
		orig.SnoozeUsed = true

		repl := m.replacement(inst, date, slot, now)
		repl.Status = schedule.Scheduled
		repl.Origin = schedule.OriginSnoozed
		repl.SnoozeUsed = true
		dst := b.edit(date)
		dst.Instances = append(dst.Instances, repl)

		out = &Outcome{Instance: *orig, Replacement: &repl}
		return []events.Event{instanceEvent(events.InstanceRescheduled, repl, map[string]any{
			"reason": "snooze",
			"from":   inst.ID,
		})}, nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.RecordTransition(schedule.Snoozed.String())
	m.logger.Info("Instance snoozed",
		zap.String("instance", out.Instance.ID),
		zap.String("replacement", out.Replacement.ID),
		zap.Stringer("date", out.Replacement.Date),
		zap.Stringer("start", out.Replacement.Start),
	)
	return out, nil
}

// TickReport lists what one automatic pass changed.
type TickReport struct {
	Missed   []Outcome     `json:"missed"`
	Checked  int           `json:"checked"`
	Duration time.Duration `json:"duration_ns"`
}

// Tick marks every active instance whose deadline has passed as Missed
// and reschedules it. It waits for the affected dates' locks.
func (m *Manager) Tick(ctx context.Context, now time.Time) (*TickReport, error) {
	start := time.Now()
	report := &TickReport{}
	today := calendar.Today(now, m.opts.Location)

	var overdue []schedule.Instance
	for _, d := range m.store.Dates() {
		if d.After(today) {
			break
		}
		day, _ := m.store.Day(d)
		for _, inst := range day.Instances {
			report.Checked++
			if m.Overdue(inst, now) {
				overdue = append(overdue, inst)
			}
		}
	}
	if len(overdue) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	dates := lockRange(overdue[0].Date, today.AddDays(m.lockSpan()))
	release, err := m.store.Locks().Lock(ctx, dates...)
	if err != nil {
		return report, err
	}
	defer release()

	b := newBatch(m.store)
	var evs []events.Event
	for _, stale := range overdue {
		day := b.peek(stale.Date)
		i := day.Find(stale.ID)
		if i < 0 || !m.Overdue(day.Instances[i], now) {
			continue
		}
		out, oevs, err := m.miss(b, day.Instances[i], now)
		if err != nil {
			return report, err
		}
		report.Missed = append(report.Missed, *out)
		evs = append(evs, oevs...)
	}
	if err := b.commit(m.opts.Policy); err != nil {
		return report, fmt.Errorf("commit tick: %w", err)
	}
	m.publish(evs)

	report.Duration = time.Since(start)
	m.logger.Info("Missed detection pass", zap.Int("missed", len(report.Missed)), zap.Int("checked", report.Checked))
	return report, nil
}

// Escalate surfaces occurrences the generator could neither place nor
// carry. They are already recorded on their day; this logs and announces
// them.
func (m *Manager) Escalate(date calendar.Date, items []schedule.Unplaced) {
	m.metrics.RecordEscalation(len(items))
	var evs []events.Event
	for _, u := range items {
		err := &schedule.NoSlotAvailableError{TemplateID: u.TemplateID, Date: date, Reason: u.Detail}
		m.logger.Warn("Occurrence escalated",
			zap.Error(err),
			zap.String("category", u.Category),
			zap.Stringer("occurrence", u.OccurrenceDate),
		)
		evs = append(evs, events.Event{
			Type:       events.OccurrenceEscalated,
			Date:       date.String(),
			TemplateID: u.TemplateID,
			InstanceID: u.InstanceID,
			Category:   u.Category,
			Data:       map[string]any{"reason": u.Reason, "occurrence_date": u.OccurrenceDate.String()},
		})
	}
	m.publish(evs)
}

// Flagged is an unplaced entry and the day it is recorded on.
type Flagged struct {
	Date calendar.Date     `json:"date"`
	Item schedule.Unplaced `json:"item"`
}

// Overflow lists the unplaced entries recorded on days in [from, from+days).
func (m *Manager) Overflow(from calendar.Date, days int) []Flagged {
	var out []Flagged
	for _, day := range m.store.Range(from, days) {
		if day == nil {
			continue
		}
		for _, u := range day.Unplaced {
			out = append(out, Flagged{Date: day.Date, Item: u})
		}
	}
	return out
}

// withInstance locks the instance's date plus span following days, runs
// fn on a fresh batch and commits it.
func (m *Manager) withInstance(ctx context.Context, instanceID string, span int, fn func(*batch, schedule.Instance) ([]events.Event, error)) error {
	inst, _, ok := m.store.Instance(instanceID)
	if !ok {
		return fmt.Errorf("%w: %s", schedule.ErrInstanceNotFound, instanceID)
	}

	end := inst.Date
	if span > 0 {
		end = inst.Date.AddDays(span)
		if today := calendar.Today(m.now(), m.opts.Location).AddDays(span); today.After(end) {
			end = today
		}
	}
	release, err := m.store.Locks().Lock(ctx, lockRange(inst.Date, end)...)
	if err != nil {
		return err
	}
	defer release()

	// re-read under the lock
	inst, _, ok = m.store.Instance(instanceID)
	if !ok {
		return fmt.Errorf("%w: %s", schedule.ErrInstanceNotFound, instanceID)
	}

	b := newBatch(m.store)
	evs, err := fn(b, inst)
	if err != nil {
		return err
	}
	if err := b.commit(m.opts.Policy); err != nil {
		return fmt.Errorf("commit %s: %w", instanceID, err)
	}
	m.publish(evs)
	return nil
}

// lockSpan covers a replacement within the horizon plus a displaced
// instance moved up to a further horizon later.
func (m *Manager) lockSpan() int {
	return 2 * m.opts.Horizon
}

func (m *Manager) publish(evs []events.Event) {
	for _, e := range evs {
		m.publisher.Publish(e)
	}
}

func lockRange(from, to calendar.Date) []calendar.Date {
	if to.Before(from) {
		return []calendar.Date{from}
	}
	return calendar.Range(from, from.DaysUntil(to)+1)
}

func instanceEvent(t events.Type, inst schedule.Instance, data map[string]any) events.Event {
	return events.Event{
		Type:       t,
		Date:       inst.Date.String(),
		InstanceID: inst.ID,
		TemplateID: inst.TemplateID,
		Category:   inst.Category,
		Data:       data,
	}
}
