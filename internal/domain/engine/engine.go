// Package engine assembles the blueprint store, schedule store, generator,
// recovery manager and event bus into one running scheduler, and serves
// the dashboard and mentor views over the committed schedule.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mentora/engine/internal/domain/allocator"
	"github.com/mentora/engine/internal/domain/balance"
	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/events"
	"github.com/mentora/engine/internal/domain/generator"
	"github.com/mentora/engine/internal/domain/recovery"
	"github.com/mentora/engine/internal/domain/schedule"
	"github.com/mentora/engine/internal/infrastructure/config"
	"github.com/mentora/engine/internal/infrastructure/logging"
	"github.com/mentora/engine/internal/infrastructure/monitoring"
	"github.com/mentora/engine/internal/infrastructure/storage"
	"github.com/mentora/engine/internal/infrastructure/tracing"
	"github.com/mentora/engine/internal/shared/calendar"
)

// SnapshotName is the schedule snapshot file inside the data directory.
const SnapshotName = "schedule.snap.zst"

const (
	conflictRetries = 20
	conflictBackoff = 25 * time.Millisecond
)

// Options configure an Engine.
type Options struct {
	Windows  []allocator.Window
	Policy   allocator.Policy
	Balancer balance.Balancer
	// Horizon is how many days from today are kept generated.
	Horizon int
	// RecoveryHorizon bounds how far a missed instance may move.
	RecoveryHorizon  int
	RolloverInterval time.Duration
	Location         *time.Location
	BlueprintPath    string
	EventBuffer      int
}

// DefaultOptions returns a seven day horizon with default placement
// parameters in the local time zone.
func DefaultOptions() Options {
	return Options{
		Windows:          allocator.DefaultWindows(),
		Policy:           allocator.DefaultPolicy(),
		Balancer:         balance.Default(),
		Horizon:          7,
		RecoveryHorizon:  14,
		RolloverInterval: time.Minute,
		Location:         time.Local,
	}
}

// OptionsFromConfig maps the environment configuration onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return Options{}, err
	}
	s := cfg.Schedule
	return Options{
		Windows: allocator.DefaultWindows(),
		Policy: allocator.Policy{
			Buffer:             s.BufferMinutes,
			HighBuffer:         s.HighBufferMinutes,
			MaxConsecutiveHigh: s.MaxConsecutiveHigh,
			MaxBoost:           s.MaxBoost,
		},
		Balancer:         balance.New(s.MaxBoost, s.BoostScale),
		Horizon:          s.HorizonDays,
		RecoveryHorizon:  s.RecoveryHorizon,
		RolloverInterval: s.RolloverInterval,
		Location:         loc,
		BlueprintPath:    cfg.Storage.BlueprintPath,
		EventBuffer:      cfg.Events.Buffer,
	}, nil
}

// Engine is the running scheduler.
type Engine struct {
	opts Options

	blueprints *blueprint.Store
	schedules  *schedule.Store
	generator  *generator.Generator
	recovery   *recovery.Manager
	bus        *events.Bus

	now    func() time.Time
	logger *logging.Logger

	mu        sync.Mutex
	lastDay   calendar.Date
	runGen    uint64
	cancelRun context.CancelFunc
}

// New wires a fresh engine with empty stores.
func New(opts Options, logger *logging.Logger) *Engine {
	def := DefaultOptions()
	if len(opts.Windows) == 0 {
		opts.Windows = def.Windows
	}
	if opts.Policy == (allocator.Policy{}) {
		opts.Policy = def.Policy
	}
	if opts.Balancer == (balance.Balancer{}) {
		opts.Balancer = def.Balancer
	}
	if opts.Horizon <= 0 {
		opts.Horizon = def.Horizon
	}
	if opts.RecoveryHorizon <= 0 {
		opts.RecoveryHorizon = def.RecoveryHorizon
	}
	if opts.RolloverInterval <= 0 {
		opts.RolloverInterval = def.RolloverInterval
	}
	if opts.Location == nil {
		opts.Location = def.Location
	}

	logger = logging.OrNop(logger)
	e := &Engine{
		opts:       opts,
		blueprints: blueprint.NewStore(logger),
		schedules:  schedule.NewStore(logger),
		bus:        events.NewBus(opts.EventBuffer, logger),
		now:        time.Now,
		logger:     logger.Named("engine"),
	}
	e.recovery = recovery.New(e.schedules, e.blueprints, recovery.Options{
		Windows:  opts.Windows,
		Policy:   opts.Policy,
		Horizon:  opts.RecoveryHorizon,
		Location: opts.Location,
	}, logger).WithPublisher(e.bus)
	e.generator = generator.New(e.blueprints, e.schedules, generator.Options{
		Windows:  opts.Windows,
		Policy:   opts.Policy,
		Balancer: opts.Balancer,
		Location: opts.Location,
	}, logger).WithEscalator(e.recovery)

	e.blueprints.OnChange(e.onBlueprint)
	return e
}

// WithMetrics enables metrics on every component.
func (e *Engine) WithMetrics(m *monitoring.Metrics) *Engine {
	e.blueprints.WithMetrics(m)
	e.generator.WithMetrics(m)
	e.recovery.WithMetrics(m)
	e.bus.WithMetrics(m)
	return e
}

// WithTracer traces generation passes.
func (e *Engine) WithTracer(t *tracing.Tracer) *Engine {
	e.generator.WithTracer(t)
	return e
}

// WithClock replaces the wall clock on every component.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.blueprints.WithClock(now)
	e.generator.WithClock(now)
	e.recovery.WithClock(now)
	e.bus.WithClock(now)
	return e
}

// WithPersister snapshots the schedule store after every commit.
func (e *Engine) WithPersister(p schedule.Persister) *Engine {
	e.schedules.WithPersister(p)
	return e
}

// Options returns the engine configuration.
func (e *Engine) Options() Options { return e.opts }

// Blueprints returns the blueprint store.
func (e *Engine) Blueprints() *blueprint.Store { return e.blueprints }

// Schedules returns the schedule store.
func (e *Engine) Schedules() *schedule.Store { return e.schedules }

// Recovery returns the recovery manager.
func (e *Engine) Recovery() *recovery.Manager { return e.recovery }

// Bus returns the progress event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Today returns the current date in the engine's time zone.
func (e *Engine) Today() calendar.Date {
	return calendar.Today(e.now(), e.opts.Location)
}

// Init restores the persisted schedule and loads the blueprint file. A
// missing or invalid blueprint is not fatal: the engine runs without a
// schedule until a valid one arrives.
func (e *Engine) Init() error {
	version, err := e.schedules.Restore()
	switch {
	case errors.Is(err, storage.ErrNoSnapshot):
		e.logger.Info("No schedule snapshot, starting empty")
	case err != nil:
		return fmt.Errorf("restore schedule: %w", err)
	}
	e.blueprints.SetVersionFloor(version)

	if e.opts.BlueprintPath == "" {
		return nil
	}
	if _, err := e.blueprints.EnsureFile(e.opts.BlueprintPath); err != nil {
		e.publishRejected(err)
		e.logger.Warn("Starting without a blueprint",
			zap.String("path", e.opts.BlueprintPath),
			zap.Error(err),
		)
	}
	return nil
}

// LoadBlueprint validates and activates a blueprint document. On success
// the generated horizon is rebuilt before it returns.
func (e *Engine) LoadBlueprint(data []byte, format blueprint.Format) (*blueprint.Blueprint, error) {
	bp, err := e.blueprints.Load(data, format)
	if err != nil {
		e.publishRejected(err)
		return nil, err
	}
	return bp, nil
}

// Regenerate rebuilds days [from, from+days) from the active blueprint.
// It fails with schedule.ErrRegenerationInProgress when another pass holds
// any of the dates.
func (e *Engine) Regenerate(ctx context.Context, from calendar.Date, days int) (*generator.Report, error) {
	if days <= 0 {
		days = e.opts.Horizon
	}
	return e.generate(ctx, generator.Range{From: from, Days: days}, generator.TriggerManual)
}

// MarkDone completes an instance and rebuilds the days its dependents were
// deferred from. The rebuild outlives a cancelled request.
func (e *Engine) MarkDone(ctx context.Context, instanceID string) (schedule.Instance, error) {
	inst, err := e.recovery.MarkDone(ctx, instanceID)
	if err != nil {
		return inst, err
	}
	e.rebuildDependents(context.WithoutCancel(ctx), inst.TemplateID, inst.Date)
	return inst, nil
}

// MarkMissed marks an instance missed and reschedules it.
func (e *Engine) MarkMissed(ctx context.Context, instanceID string) (*recovery.Outcome, error) {
	return e.recovery.MarkMissed(ctx, instanceID)
}

// Snooze defers an instance once per lineage.
func (e *Engine) Snooze(ctx context.Context, instanceID string) (*recovery.Outcome, error) {
	return e.recovery.Snooze(ctx, instanceID)
}

// Overflow lists unplaced entries on days [from, from+days).
func (e *Engine) Overflow(from calendar.Date, days int) []recovery.Flagged {
	return e.recovery.Overflow(from, days)
}

// Blueprint returns the active blueprint, or nil, with the error of the
// most recent rejected load.
func (e *Engine) Blueprint() (*blueprint.Blueprint, error) {
	bp, _ := e.blueprints.Current()
	return bp, e.blueprints.LastError()
}

// Close stops event delivery.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.cancelRun != nil {
		e.cancelRun()
	}
	e.mu.Unlock()
	e.bus.Close()
}

// onBlueprint rebuilds the horizon after a successful load. A newer load
// cancels a rebuild still in progress; its unfinished days are picked up
// by this one.
func (e *Engine) onBlueprint(bp *blueprint.Blueprint) {
	e.bus.Publish(events.Event{
		Type: events.BlueprintLoaded,
		Data: map[string]any{
			"version":   bp.Version,
			"digest":    bp.Digest,
			"templates": len(bp.Templates),
		},
	})

	ctx, done := e.supersede()
	defer done()

	r := generator.Range{From: e.Today(), Days: e.opts.Horizon}
	if _, err := e.generateRetry(ctx, r, generator.TriggerBlueprint); err != nil {
		e.logger.Warn("Regeneration after blueprint change incomplete",
			zap.Uint64("version", bp.Version),
			zap.Error(err),
		)
	}
}

// supersede cancels the previous blueprint rebuild and returns the context
// for the next one.
func (e *Engine) supersede() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.cancelRun != nil {
		e.cancelRun()
	}
	e.runGen++
	gen := e.runGen
	e.cancelRun = cancel
	e.mu.Unlock()

	return ctx, func() {
		cancel()
		e.mu.Lock()
		if e.runGen == gen {
			e.cancelRun = nil
		}
		e.mu.Unlock()
	}
}

func (e *Engine) generate(ctx context.Context, r generator.Range, trigger generator.Trigger) (*generator.Report, error) {
	report, err := e.generator.Generate(ctx, r, trigger)
	if report != nil && report.Committed > 0 {
		e.bus.Publish(events.Event{
			Type: events.ScheduleGenerated,
			Date: report.From.String(),
			Data: map[string]any{
				"trigger":           string(report.Trigger),
				"blueprint_version": report.BlueprintVersion,
				"days":              report.Committed,
			},
		})
	}
	return report, err
}

// generateRetry waits out short lock conflicts, such as a cancelled pass
// that has not yet released its dates.
func (e *Engine) generateRetry(ctx context.Context, r generator.Range, trigger generator.Trigger) (*generator.Report, error) {
	for attempt := 0; ; attempt++ {
		report, err := e.generate(ctx, r, trigger)
		if !schedule.IsRetryable(err) || attempt >= conflictRetries {
			return report, err
		}
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(conflictBackoff):
		}
	}
}

func (e *Engine) publishRejected(err error) {
	e.bus.Publish(events.Event{
		Type: events.BlueprintRejected,
		Data: map[string]any{
			"kind":  blueprint.ErrorKind(err),
			"error": err.Error(),
		},
	})
}
