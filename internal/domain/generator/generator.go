// Package generator turns the active blueprint into committed daily
// schedules.
//
// A run covers a contiguous date range and holds every date's writer lock
// for its duration. Days that have started keep their schedule; pinned
// instances (anything not plain Scheduled, or moved by recovery) survive
// regeneration in place and the rest of the day is rebuilt around them.
// Instance ids are derived from date, template and occurrence, so running
// the same pass twice commits identical days.
package generator

import (
	"errors"
	"time"

	"github.com/mentora/engine/internal/domain/allocator"
	"github.com/mentora/engine/internal/domain/balance"
	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/schedule"
	"github.com/mentora/engine/internal/infrastructure/logging"
	"github.com/mentora/engine/internal/infrastructure/monitoring"
	"github.com/mentora/engine/internal/infrastructure/tracing"
	"github.com/mentora/engine/internal/shared/calendar"
)

// ErrNoBlueprint is returned when no blueprint has been accepted yet.
var ErrNoBlueprint = errors.New("no blueprint loaded")

// Trigger names what started a run.
type Trigger string

const (
	TriggerBlueprint  Trigger = "blueprint"
	TriggerManual     Trigger = "manual"
	TriggerRollover   Trigger = "rollover"
	TriggerDependency Trigger = "dependency"
)

// Range selects the dates of a run.
type Range struct {
	From calendar.Date
	Days int
	// OnlyMissing leaves days already generated from the active blueprint
	// version untouched.
	OnlyMissing bool
}

// Dates lists the range.
func (r Range) Dates() []calendar.Date {
	return calendar.Range(r.From, r.Days)
}

// BlueprintSource yields the active blueprint.
type BlueprintSource interface {
	Current() (*blueprint.Blueprint, bool)
}

// Escalator receives occurrences that could not be placed on their own
// day nor on the later day they were carried to.
type Escalator interface {
	Escalate(date calendar.Date, items []schedule.Unplaced)
}

// Options are the placement parameters of a Generator.
type Options struct {
	Windows  []allocator.Window
	Policy   allocator.Policy
	Balancer balance.Balancer
	Location *time.Location
}

// DefaultOptions returns the default windows, policy and balancer in the
// local time zone.
func DefaultOptions() Options {
	return Options{
		Windows:  allocator.DefaultWindows(),
		Policy:   allocator.DefaultPolicy(),
		Balancer: balance.Default(),
		Location: time.Local,
	}
}

// Generator builds and commits daily schedules.
type Generator struct {
	blueprints BlueprintSource
	store      *schedule.Store
	opts       Options

	now       func() time.Time
	escalator Escalator
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer
}

// New creates a Generator.
func New(blueprints BlueprintSource, store *schedule.Store, opts Options, logger *logging.Logger) *Generator {
	if len(opts.Windows) == 0 {
		opts.Windows = allocator.DefaultWindows()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Generator{
		blueprints: blueprints,
		store:      store,
		opts:       opts,
		now:        time.Now,
		logger:     logging.OrNop(logger).Named("generator"),
	}
}

// WithClock replaces the wall clock.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithEscalator routes unplaceable occurrences to e.
func (g *Generator) WithEscalator(e Escalator) *Generator {
	g.escalator = e
	return g
}

// WithMetrics enables metrics.
func (g *Generator) WithMetrics(m *monitoring.Metrics) *Generator {
	g.metrics = m
	return g
}

// WithTracer runs every pass inside a span.
func (g *Generator) WithTracer(t *tracing.Tracer) *Generator {
	g.tracer = t
	return g
}

// Options returns the placement parameters.
func (g *Generator) Options() Options {
	return g.opts
}

// Today returns the current date in the generator's time zone.
func (g *Generator) Today() calendar.Date {
	return calendar.Today(g.now(), g.opts.Location)
}

// DayReport describes what one date received.
type DayReport struct {
	Date      calendar.Date `json:"date"`
	Skipped   string        `json:"skipped,omitempty"`
	Placed    int           `json:"placed"`
	Preserved int           `json:"preserved"`
	Deferred  int           `json:"deferred"`
	Carried   int           `json:"carried"`
	Escalated int           `json:"escalated"`
}

// Report summarizes a run.
type Report struct {
	Trigger          Trigger       `json:"trigger"`
	BlueprintVersion uint64        `json:"blueprint_version"`
	From             calendar.Date `json:"from"`
	Days             []DayReport   `json:"days"`
	Committed        int           `json:"committed"`
	Duration         time.Duration `json:"duration_ns"`
}

// Skip reasons.
const (
	SkipPast    = "past"
	SkipStarted = "started"
	SkipExists  = "exists"
)
