package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordPlacement("Class 11")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.InstancesPlaced.WithLabelValues("Class 11")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.InstancesPlaced.WithLabelValues("Class 11")))
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordPlacement("x")
		m.RecordTransition("missed")
		m.IncWSConnections()
	})
}

func TestRecordTransitionSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordTransition("missed")
	m.RecordTransition("rescheduled")
	m.RecordTransition("done")
	m.RecordTransition("done")

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.Missed)
	assert.Equal(t, int64(1), snap.Rescheduled)
	assert.Equal(t, int64(2), snap.Completed)
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/api/schedule/day/:date", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/schedule/day/2025-01-06", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.RequestsTotal.WithLabelValues(http.MethodGet, "/api/schedule/day/:date", "200")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "mentora_http_requests_total"))
}
