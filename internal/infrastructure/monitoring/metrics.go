package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Blueprint metrics
	BlueprintLoads    *prometheus.CounterVec
	BlueprintVersion  prometheus.Gauge
	BlueprintTemplate prometheus.Gauge

	// Generation metrics
	DaysGenerated      prometheus.Counter
	GenerateDuration   prometheus.Histogram
	InstancesPlaced    *prometheus.CounterVec
	InstancesOverflow  *prometheus.CounterVec
	InstancesDeferred  *prometheus.CounterVec
	RegenerateConflict prometheus.Counter

	// Recovery metrics
	Transitions   *prometheus.CounterVec
	Displacements prometheus.Counter
	Escalations   prometheus.Counter

	// Event metrics
	EventsPublished  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	WebhookDelivered *prometheus.CounterVec
	WSConnections    prometheus.Gauge

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON stats endpoint
type MetricsSnapshot struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	TotalDuration float64 `json:"total_duration_seconds"`
	DaysGenerated int64   `json:"days_generated"`
	Missed        int64   `json:"missed"`
	Rescheduled   int64   `json:"rescheduled"`
	Completed     int64   `json:"completed"`
}

// NewMetrics creates a metrics collector on its own registry so several
// engines (tests, embedded use) never collide on registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentora_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mentora_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		BlueprintLoads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentora_blueprint_loads_total",
				Help: "Blueprint load attempts by outcome",
			},
			[]string{"outcome"},
		),
		BlueprintVersion: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "mentora_blueprint_version",
				Help: "Version of the active blueprint",
			},
		),
		BlueprintTemplate: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "mentora_blueprint_templates",
				Help: "Number of task templates in the active blueprint",
			},
		),

		DaysGenerated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "mentora_days_generated_total",
				Help: "Daily schedules generated or regenerated",
			},
		),
		GenerateDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mentora_generate_duration_seconds",
				Help:    "Duration of a generation run",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		InstancesPlaced: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentora_instances_placed_total",
				Help: "Task instances placed by category",
			},
			[]string{"category"},
		),
		InstancesOverflow: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentora_instances_overflow_total",
				Help: "Task occurrences that did not fit their day",
			},
			[]string{"category"},
		),
		InstancesDeferred: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentora_instances_deferred_total",
				Help: "Task occurrences deferred by reason",
			},
			[]string{"reason"},
		),
		RegenerateConflict: f.NewCounter(
			prometheus.CounterOpts{
				Name: "mentora_regenerate_conflicts_total",
				Help: "Regeneration requests rejected because one was in progress",
			},
		),

		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentora_instance_transitions_total",
				Help: "Instance status transitions",
			},
			[]string{"to"},
		),
		Displacements: f.NewCounter(
			prometheus.CounterOpts{
				Name: "mentora_displacements_total",
				Help: "Lower-importance instances moved aside by recovery",
			},
		),
		Escalations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "mentora_escalations_total",
				Help: "Occurrences escalated to recovery after failing to fit",
			},
		),

		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentora_events_published_total",
				Help: "Progress events published by type",
			},
			[]string{"type"},
		),
		EventsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentora_events_dropped_total",
				Help: "Progress events dropped by a slow subscriber",
			},
			[]string{"subscriber"},
		),
		WebhookDelivered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mentora_webhook_deliveries_total",
				Help: "Progress webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),
		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "mentora_ws_connections",
				Help: "Number of active event stream connections",
			},
		),
	}

	m.Uptime = f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mentora_uptime_seconds",
			Help: "Engine uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordBlueprintLoad records a blueprint load attempt
func (m *Metrics) RecordBlueprintLoad(ok bool, version uint64, templates int) {
	if m == nil {
		return
	}
	if !ok {
		m.BlueprintLoads.WithLabelValues("rejected").Inc()
		return
	}
	m.BlueprintLoads.WithLabelValues("accepted").Inc()
	m.BlueprintVersion.Set(float64(version))
	m.BlueprintTemplate.Set(float64(templates))
}

// RecordGeneration records one generation run over days
func (m *Metrics) RecordGeneration(days int, duration time.Duration) {
	if m == nil {
		return
	}
	m.DaysGenerated.Add(float64(days))
	m.GenerateDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.DaysGenerated += int64(days)
	m.mu.Unlock()
}

// RecordPlacement records a placed instance
func (m *Metrics) RecordPlacement(category string) {
	if m == nil {
		return
	}
	m.InstancesPlaced.WithLabelValues(category).Inc()
}

// RecordOverflow records an occurrence that found no slot
func (m *Metrics) RecordOverflow(category string) {
	if m == nil {
		return
	}
	m.InstancesOverflow.WithLabelValues(category).Inc()
}

// RecordDeferred records a deferred occurrence
func (m *Metrics) RecordDeferred(reason string) {
	if m == nil {
		return
	}
	m.InstancesDeferred.WithLabelValues(reason).Inc()
}

// RecordTransition records an instance entering a status
func (m *Metrics) RecordTransition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()

	m.mu.Lock()
	switch to {
	case "missed":
		m.snapshot.Missed++
	case "rescheduled":
		m.snapshot.Rescheduled++
	case "done":
		m.snapshot.Completed++
	}
	m.mu.Unlock()
}

// RecordRegenerateConflict records a regeneration rejected by a held lock
func (m *Metrics) RecordRegenerateConflict() {
	if m == nil {
		return
	}
	m.RegenerateConflict.Inc()
}

// RecordDisplacement records a lower-priority instance moved for a missed one
func (m *Metrics) RecordDisplacement() {
	if m == nil {
		return
	}
	m.Displacements.Inc()
}

// RecordEscalation records occurrences handed to the user as unplaceable
func (m *Metrics) RecordEscalation(n int) {
	if m == nil {
		return
	}
	m.Escalations.Add(float64(n))
}

// RecordEvent records a published progress event
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records an event a subscriber could not accept
func (m *Metrics) RecordEventDropped(subscriber string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(subscriber).Inc()
}

// RecordWebhook records a webhook delivery outcome
func (m *Metrics) RecordWebhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhookDelivered.WithLabelValues(outcome).Inc()
}

// IncWSConnections increments event stream connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements event stream connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns the counters backing the JSON stats endpoint.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
