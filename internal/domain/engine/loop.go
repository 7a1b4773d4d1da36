package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mentora/engine/internal/domain/generator"
	"github.com/mentora/engine/internal/domain/recovery"
	"github.com/mentora/engine/internal/domain/schedule"
	"github.com/mentora/engine/internal/shared/calendar"
)

// RolloverReport describes one pass of the periodic loop.
type RolloverReport struct {
	Date       calendar.Date        `json:"date"`
	DayChanged bool                 `json:"day_changed"`
	Tick       *recovery.TickReport `json:"tick,omitempty"`
	Generate   *generator.Report    `json:"generate,omitempty"`
	Deferred   bool                 `json:"deferred"`
}

// Start runs the rollover loop until ctx is done: missed detection and
// horizon top-up every RolloverInterval.
func (e *Engine) Start(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.RolloverInterval)
	defer ticker.Stop()

	e.logger.Info("Rollover loop started",
		zap.Duration("interval", e.opts.RolloverInterval),
		zap.Int("horizon", e.opts.Horizon),
	)
	e.rollover(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Rollover loop stopped")
			return nil
		case <-ticker.C:
			e.rollover(ctx)
		}
	}
}

func (e *Engine) rollover(ctx context.Context) {
	if _, err := e.Rollover(ctx, e.now()); err != nil && ctx.Err() == nil {
		e.logger.Error("Rollover failed", zap.Error(err))
	}
}

// Rollover marks overdue instances missed, then generates any day in the
// horizon that is missing or was built from an older blueprint. A pass
// that collides with a running regeneration is deferred to the next tick.
func (e *Engine) Rollover(ctx context.Context, now time.Time) (*RolloverReport, error) {
	today := calendar.Today(now, e.opts.Location)

	e.mu.Lock()
	changed := e.lastDay != today
	e.lastDay = today
	e.mu.Unlock()

	report := &RolloverReport{Date: today, DayChanged: changed}
	if changed {
		e.schedules.Locks().Prune(today)
		e.logger.Info("Day rollover", zap.Stringer("date", today))
	}

	tick, err := e.recovery.Tick(ctx, now)
	report.Tick = tick
	if err != nil {
		return report, err
	}

	gen, err := e.generate(ctx, generator.Range{From: today, Days: e.opts.Horizon, OnlyMissing: true}, generator.TriggerRollover)
	report.Generate = gen
	switch {
	case errors.Is(err, generator.ErrNoBlueprint):
		e.logger.Debug("Rollover without blueprint")
	case schedule.IsRetryable(err):
		report.Deferred = true
		e.logger.Debug("Rollover deferred, regeneration in progress")
	case err != nil:
		return report, err
	}
	return report, nil
}

// rebuildDependents regenerates the days after done once a template that
// others depend on is completed, since those days deferred its dependents.
func (e *Engine) rebuildDependents(ctx context.Context, templateID string, done calendar.Date) {
	bp, ok := e.blueprints.Current()
	if !ok || len(bp.Graph().Dependents(templateID)) == 0 {
		return
	}

	today := e.Today()
	from := done.AddDays(1)
	if from.Before(today) {
		from = today
	}
	end := today.AddDays(e.opts.Horizon)
	if !from.Before(end) {
		return
	}

	r := generator.Range{From: from, Days: from.DaysUntil(end)}
	if _, err := e.generateRetry(ctx, r, generator.TriggerDependency); err != nil && ctx.Err() == nil {
		e.logger.Warn("Dependent regeneration failed",
			zap.String("template", templateID),
			zap.Error(err),
		)
	}
}
