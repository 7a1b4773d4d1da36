package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupTestRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	router.GET("/api/schedule/today", ok)
	router.GET("/health", ok)
	return router
}

func get(router *gin.Engine, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	router := setupTestRouter(CORS(DefaultCORSConfig()))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{
			name:       "simple GET with origin",
			method:     http.MethodGet,
			origin:     "http://localhost:3000",
			wantStatus: http.StatusOK,
			wantOrigin: "*",
		},
		{
			name:       "preflight",
			method:     http.MethodOptions,
			origin:     "http://localhost:3000",
			wantStatus: http.StatusNoContent,
			wantOrigin: "*",
		},
		{
			name:       "no origin header",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/schedule/today", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORSExplicitOrigins(t *testing.T) {
	cfg := DefaultCORSConfig().WithOrigins([]string{"https://dash.example"})
	router := setupTestRouter(CORS(cfg))

	req := httptest.NewRequest(http.MethodGet, "/api/schedule/today", nil)
	req.Header.Set("Origin", "https://dash.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "https://dash.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api/schedule/today", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCORSWithOriginsKeepsDefaultWhenEmpty(t *testing.T) {
	assert.Equal(t, []string{"*"}, DefaultCORSConfig().WithOrigins(nil).AllowOrigins)
}

func TestRateLimit(t *testing.T) {
	router := setupTestRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 2, Burst: 2}))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(router, "/api/schedule/today", "192.168.1.1").Code, "request %d", i+1)
	}
	w := get(router, "/api/schedule/today", "192.168.1.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRateLimitDifferentClients(t *testing.T) {
	router := setupTestRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	assert.Equal(t, http.StatusOK, get(router, "/api/schedule/today", "192.168.1.1").Code)
	assert.Equal(t, http.StatusOK, get(router, "/api/schedule/today", "192.168.1.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/api/schedule/today", "192.168.1.1").Code)
}

func TestRateLimitExemptPaths(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 1, Burst: 1, Exempt: []string{"/health"}}
	router := setupTestRouter(RateLimit(cfg))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(router, "/health", "10.0.0.1").Code)
	}
	assert.Equal(t, http.StatusOK, get(router, "/api/schedule/today", "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/api/schedule/today", "10.0.0.1").Code)
}

func TestRateLimitForgetsIdleClients(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute}
	cs := newClients(cfg)
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	cs.now = func() time.Time { return now }
	router := setupTestRouter(rateLimit(cfg, cs))

	get(router, "/api/schedule/today", "10.0.0.1")
	get(router, "/api/schedule/today", "10.0.0.2")
	assert.Equal(t, 2, cs.len())

	now = now.Add(2 * time.Minute)
	get(router, "/api/schedule/today", "10.0.0.3")
	assert.Equal(t, 1, cs.len())
}

func TestGlobalRateLimit(t *testing.T) {
	router := setupTestRouter(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	assert.Equal(t, http.StatusOK, get(router, "/api/schedule/today", "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/api/schedule/today", "10.0.0.2").Code)
}
