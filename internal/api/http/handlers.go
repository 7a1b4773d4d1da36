// Package http exposes the schedule query and mutation interfaces, the
// blueprint document and the mentor context over gin.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mentora/engine/internal/domain/blueprint"
	"github.com/mentora/engine/internal/domain/engine"
	"github.com/mentora/engine/internal/domain/generator"
	"github.com/mentora/engine/internal/domain/recovery"
	"github.com/mentora/engine/internal/domain/schedule"
	"github.com/mentora/engine/internal/infrastructure/logging"
	"github.com/mentora/engine/internal/infrastructure/monitoring"
	"github.com/mentora/engine/internal/shared/calendar"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Scheduler is the engine surface the handlers need.
type Scheduler interface {
	Today() calendar.Date
	DailyView(d calendar.Date) engine.DayView
	WeeklyView(weekStart calendar.Date) engine.WeekView
	MentorContext() engine.MentorContext
	Slot(instanceID string) (engine.Slot, bool)
	Overflow(from calendar.Date, days int) []recovery.Flagged

	Regenerate(ctx context.Context, from calendar.Date, days int) (*generator.Report, error)
	MarkDone(ctx context.Context, instanceID string) (schedule.Instance, error)
	MarkMissed(ctx context.Context, instanceID string) (*recovery.Outcome, error)
	Snooze(ctx context.Context, instanceID string) (*recovery.Outcome, error)

	Blueprint() (*blueprint.Blueprint, error)
	LoadBlueprint(data []byte, format blueprint.Format) (*blueprint.Blueprint, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	engine  Scheduler
	metrics *monitoring.Metrics
	logger  *logging.Logger
	started time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(engine Scheduler, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	return &Handlers{
		engine:  engine,
		metrics: metrics,
		logger:  logging.OrNop(logger).Named("http"),
		started: time.Now(),
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/stats", h.Stats)

	sched := api.Group("/schedule")
	sched.GET("/today", h.Today)
	sched.GET("/day/:date", h.Day)
	sched.GET("/week", h.Week)
	sched.GET("/week/:start", h.Week)
	sched.GET("/overflow", h.Overflow)
	sched.POST("/regenerate", h.Regenerate)

	inst := api.Group("/instances")
	inst.GET("/:id", h.GetInstance)
	inst.POST("/:id/done", h.MarkDone)
	inst.POST("/:id/missed", h.MarkMissed)
	inst.POST("/:id/snooze", h.Snooze)

	api.GET("/blueprint", h.GetBlueprint)
	api.PUT("/blueprint", h.PutBlueprint)

	api.GET("/mentor/context", h.MentorContext)
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "mentora schedule engine",
		"version": Version,
	})
}

// Health reports liveness and whether a schedule can be produced
func (h *Handlers) Health(c *gin.Context) {
	bp, lastErr := h.engine.Blueprint()
	body := gin.H{
		"status":         "healthy",
		"today":          h.engine.Today(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"blueprint":      gin.H{"loaded": bp != nil},
	}
	if bp != nil {
		body["blueprint"] = gin.H{"loaded": true, "version": bp.Version}
	}
	if lastErr != nil {
		body["status"] = "degraded"
		body["blueprint_error"] = lastErr.Error()
	}
	c.JSON(http.StatusOK, body)
}

// Stats returns the JSON counters
func (h *Handlers) Stats(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusOK, gin.H{"metrics": monitoring.MetricsSnapshot{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": h.metrics.Snapshot()})
}

// MentorContext returns the read-only mentor snapshot
func (h *Handlers) MentorContext(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.MentorContext())
}
