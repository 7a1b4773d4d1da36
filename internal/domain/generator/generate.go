package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mentora/engine/internal/domain/allocator"
	"github.com/mentora/engine/internal/domain/balance"
	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/schedule"
	"github.com/mentora/engine/internal/shared/calendar"
	"github.com/mentora/engine/internal/shared/id"
)

// occurrence identifies one due instance of a template.
type occurrence struct {
	templateID string
	date       calendar.Date
}

func (o occurrence) key() string { return o.templateID + "@" + o.date.String() }

// pass is the state of one run.
type pass struct {
	bp      *blueprint.Blueprint
	now     time.Time
	today   calendar.Date
	started bool
	week    *balance.WeekState

	// escalated holds occurrences escalated for the first time this run.
	escalated map[calendar.Date][]schedule.Unplaced
}

// Generate builds and commits the schedules of r. Dates before today are
// skipped. It fails fast with ErrRegenerationInProgress when any date of
// the range is locked, and stops between dates when ctx is done; days
// finished before cancellation are still committed.
func (g *Generator) Generate(ctx context.Context, r Range, trigger Trigger) (*Report, error) {
	var report *Report
	err := g.tracer.Trace(ctx, "generator.generate", func(ctx context.Context) error {
		var err error
		report, err = g.generate(ctx, r, trigger)
		return err
	})
	return report, err
}

func (g *Generator) generate(ctx context.Context, r Range, trigger Trigger) (*Report, error) {
	bp, ok := g.blueprints.Current()
	if !ok {
		return nil, ErrNoBlueprint
	}

	now := g.now().In(g.opts.Location)
	p := &pass{
		bp:      bp,
		now:     now,
		today:   calendar.Today(now, g.opts.Location),
		started: calendar.ClockFromTime(now) >= allocator.DayStart(g.opts.Windows),

		escalated: make(map[calendar.Date][]schedule.Unplaced),
	}
	report := &Report{Trigger: trigger, BlueprintVersion: bp.Version, From: r.From}
	start := time.Now()

	var dates []calendar.Date
	for _, d := range r.Dates() {
		if d.Before(p.today) {
			report.Days = append(report.Days, DayReport{Date: d, Skipped: SkipPast})
			continue
		}
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		return report, nil
	}

	release, err := g.store.Locks().TryLock(dates...)
	if err != nil {
		g.metrics.RecordRegenerateConflict()
		return nil, err
	}
	defer release()

	var out []*schedule.DailySchedule
	pending := g.carriesInto(dates[0])

	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			g.logger.Info("Generation cancelled", zap.Stringer("at", d), zap.Error(err))
			if cerr := g.commit(p, out, report, start); cerr != nil {
				return report, cerr
			}
			return report, fmt.Errorf("generation cancelled at %s: %w", d, err)
		}

		if p.week == nil || p.week.WeekStart != d.WeekStart() {
			p.week = g.seedWeek(d)
		}

		existing, _ := g.store.Day(d)
		generated := existing.Generated()
		skip := ""
		switch {
		case d == p.today && p.started && generated:
			skip = SkipStarted
		case r.OnlyMissing && generated && existing.BlueprintVersion >= bp.Version && holds(existing, pending[d]):
			skip = SkipExists
		}
		if skip != "" {
			report.Days = append(report.Days, DayReport{Date: d, Skipped: skip})
			p.week.AddAll(existing.Minutes())
			delete(pending, d)
			collectCarries(pending, existing)
			continue
		}

		day, dr, err := g.buildDay(p, d, existing, pending[d])
		if err != nil {
			return report, err
		}
		delete(pending, d)
		collectCarries(pending, day)
		p.week.AddAll(day.Minutes())
		report.Days = append(report.Days, dr)
		out = append(out, day)
	}

	if err := g.commit(p, out, report, start); err != nil {
		return report, err
	}
	g.logger.Info("Schedules generated",
		zap.String("trigger", string(trigger)),
		zap.Uint64("blueprint_version", bp.Version),
		zap.Stringer("from", r.From),
		zap.Int("committed", report.Committed),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (g *Generator) commit(p *pass, days []*schedule.DailySchedule, report *Report, start time.Time) error {
	if len(days) > 0 {
		if err := g.store.Commit(days...); err != nil {
			return fmt.Errorf("commit schedules: %w", err)
		}
	}
	report.Committed = len(days)
	report.Duration = time.Since(start)
	g.metrics.RecordGeneration(len(days), report.Duration)

	for _, day := range days {
		esc := p.escalated[day.Date]
		if len(esc) == 0 {
			continue
		}
		if g.escalator != nil {
			g.escalator.Escalate(day.Date, esc)
			continue
		}
		for _, u := range esc {
			g.logger.Warn("Occurrence escalated",
				zap.Error(&schedule.NoSlotAvailableError{TemplateID: u.TemplateID, Date: day.Date, Reason: u.Detail}),
				zap.String("category", u.Category))
		}
	}
	return nil
}

// seedWeek starts the balance state for d's week from days already
// committed earlier in that week.
func (g *Generator) seedWeek(d calendar.Date) *balance.WeekState {
	ws := balance.NewWeekState(d)
	for day := ws.WeekStart; day.Before(d); day = day.AddDays(1) {
		if committed, ok := g.store.Day(day); ok {
			ws.AddAll(committed.Minutes())
		}
	}
	return ws
}

// carryLimit bounds how far ahead an overflowed occurrence may be carried.
// Any template is allowed on some weekday within it.
const carryLimit = 7

// carriesInto collects the carries that committed days before from hand
// over to from or later.
func (g *Generator) carriesInto(from calendar.Date) map[calendar.Date][]occurrence {
	pending := make(map[calendar.Date][]occurrence)
	for k := carryLimit; k >= 1; k-- {
		if day, ok := g.store.Day(from.AddDays(-k)); ok {
			collectCarries(pending, day)
		}
	}
	for d := range pending {
		if d.Before(from) {
			delete(pending, d)
		}
	}
	return pending
}

func collectCarries(pending map[calendar.Date][]occurrence, day *schedule.DailySchedule) {
	if day == nil {
		return
	}
	for _, u := range day.Unplaced {
		if u.CarriedTo != nil {
			pending[*u.CarriedTo] = append(pending[*u.CarriedTo], occurrence{templateID: u.TemplateID, date: u.OccurrenceDate})
		}
	}
}

// holds reports whether day already accounts for every carried occurrence,
// placed or not.
func holds(day *schedule.DailySchedule, carried []occurrence) bool {
	for _, occ := range carried {
		found := false
		for _, inst := range day.Instances {
			if inst.TemplateID == occ.templateID && inst.OccurrenceDate == occ.date {
				found = true
				break
			}
		}
		for _, u := range day.Unplaced {
			if found {
				break
			}
			found = u.TemplateID == occ.templateID && u.OccurrenceDate == occ.date
		}
		if !found {
			return false
		}
	}
	return true
}

// nextAllowed returns the first date after d that tpl may run on.
func nextAllowed(tpl *blueprint.Template, d calendar.Date) (calendar.Date, bool) {
	for k := 1; k <= carryLimit; k++ {
		if next := d.AddDays(k); tpl.AllowedOn(next) {
			return next, true
		}
	}
	return calendar.Date{}, false
}

func (g *Generator) buildDay(p *pass, d calendar.Date, existing *schedule.DailySchedule, carried []occurrence) (*schedule.DailySchedule, DayReport, error) {
	dr := DayReport{Date: d}
	day := &schedule.DailySchedule{Date: d, BlueprintVersion: p.bp.Version}

	var occupied []allocator.Interval
	taken := make(map[string]bool)
	if existing != nil {
		for _, inst := range existing.Instances {
			if !inst.Pinned() {
				continue
			}
			day.Instances = append(day.Instances, inst)
			dr.Preserved++
			taken[occurrence{inst.TemplateID, inst.OccurrenceDate}.key()] = true
			if inst.Occupies() {
				occupied = append(occupied, allocator.Interval{Start: inst.Start, End: inst.End, Importance: inst.Importance})
			}
		}
		for _, rel := range existing.Relocated {
			day.Relocated = append(day.Relocated, rel)
			taken[occurrence{rel.TemplateID, d}.key()] = true
		}
		for _, u := range existing.Unplaced {
			if u.Reason == schedule.ReasonMissed {
				day.Unplaced = append(day.Unplaced, u)
			}
		}
	}

	due := make([]occurrence, 0, len(carried))
	for _, t := range p.bp.Eligible(d) {
		due = append(due, occurrence{templateID: t.ID, date: d})
	}
	due = append(due, carried...)
	dr.Carried = len(carried)

	weights := g.opts.Balancer.Weights(p.bp.Ratios, p.week)
	graph := p.bp.Graph()

	var candidates []allocator.Candidate
	for _, occ := range due {
		if taken[occ.key()] {
			continue
		}
		tpl, ok := p.bp.Template(occ.templateID)
		if !ok {
			continue
		}
		if waiting := g.blockedBy(tpl, d); len(waiting) > 0 {
			day.Unplaced = append(day.Unplaced, unplaced(tpl, occ, schedule.ReasonDependency, "waiting for "+strings.Join(waiting, ", ")))
			dr.Deferred++
			g.metrics.RecordDeferred(schedule.ReasonDependency)
			continue
		}
		candidates = append(candidates, allocator.Candidate{
			Key:        occ.key(),
			TemplateID: tpl.ID,
			Category:   tpl.Category,
			Duration:   tpl.Duration,
			Preferred:  tpl.Preferred,
			Importance: tpl.Importance,
			Boost:      weights[tpl.Category],
			Rank:       graph.Rank(tpl.ID),
		})
	}

	req := allocator.Request{
		Windows:    g.opts.Windows,
		Policy:     g.opts.Policy,
		Occupied:   occupied,
		Candidates: candidates,
	}
	if d == p.today && p.started {
		req.NotBefore = calendar.ClockFromTime(p.now)
	}
	res := allocator.Allocate(req)

	occByKey := make(map[string]occurrence, len(due))
	for _, occ := range due {
		occByKey[occ.key()] = occ
	}

	for _, pl := range res.Placements {
		tpl, _ := p.bp.Template(pl.TemplateID)
		occ := occByKey[pl.Key]
		instID := id.DeriveInstanceID(d.String(), tpl.ID, occ.date.String()).String()
		day.Instances = append(day.Instances, schedule.Instance{
			ID:             instID,
			TemplateID:     tpl.ID,
			Category:       tpl.Category,
			Title:          tpl.Name,
			Importance:     tpl.Importance,
			Window:         pl.Window,
			Date:           d,
			Start:          pl.Start,
			End:            pl.End,
			Status:         schedule.Scheduled,
			LineageID:      instID,
			Origin:         schedule.OriginGenerated,
			OccurrenceDate: occ.date,
		})
		dr.Placed++
		g.metrics.RecordPlacement(tpl.Category)
	}

	for _, c := range res.Overflow {
		tpl, _ := p.bp.Template(c.TemplateID)
		occ := occByKey[c.Key]
		g.metrics.RecordOverflow(tpl.Category)

		if next, ok := nextAllowed(tpl, d); ok && occ.date == d {
			u := unplaced(tpl, occ, schedule.ReasonNoSlot, "carried to "+next.String())
			u.CarriedTo = &next
			day.Unplaced = append(day.Unplaced, u)
			g.logger.Info("Occurrence carried over",
				zap.String("template", tpl.ID), zap.Stringer("date", d), zap.Stringer("to", next))
			continue
		}

		u := unplaced(tpl, occ, schedule.ReasonNoSlot, "no window could fit it")
		u.Escalated = true
		day.Unplaced = append(day.Unplaced, u)
		dr.Escalated++
		if !wasEscalated(existing, u) {
			p.escalated[d] = append(p.escalated[d], u)
		}
	}

	sortUnplaced(day.Unplaced)
	day.Normalize(g.opts.Policy.BufferAfter)
	if err := day.Validate(g.opts.Policy.MinBuffer()); err != nil {
		return nil, dr, fmt.Errorf("generated schedule invalid: %w", err)
	}
	return day, dr, nil
}

// blockedBy lists the dependencies of tpl that have no Done instance
// before d.
func (g *Generator) blockedBy(tpl *blueprint.Template, d calendar.Date) []string {
	var out []string
	for _, dep := range tpl.DependsOn {
		if !g.store.DoneBefore(dep, d) {
			out = append(out, dep)
		}
	}
	return out
}

func wasEscalated(existing *schedule.DailySchedule, u schedule.Unplaced) bool {
	if existing == nil {
		return false
	}
	for _, e := range existing.Unplaced {
		if e.Escalated && e.TemplateID == u.TemplateID && e.OccurrenceDate == u.OccurrenceDate {
			return true
		}
	}
	return false
}

func unplaced(tpl *blueprint.Template, occ occurrence, reason, detail string) schedule.Unplaced {
	return schedule.Unplaced{
		TemplateID:     tpl.ID,
		Category:       tpl.Category,
		Title:          tpl.Name,
		Importance:     tpl.Importance,
		Duration:       tpl.Duration,
		OccurrenceDate: occ.date,
		Reason:         reason,
		Detail:         detail,
	}
}

func sortUnplaced(us []schedule.Unplaced) {
	sort.SliceStable(us, func(i, j int) bool {
		a, b := us[i], us[j]
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.OccurrenceDate != b.OccurrenceDate {
			return a.OccurrenceDate.Before(b.OccurrenceDate)
		}
		if a.TemplateID != b.TemplateID {
			return a.TemplateID < b.TemplateID
		}
		return a.InstanceID < b.InstanceID
	})
}
