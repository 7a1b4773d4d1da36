package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora/engine/internal/domain/engine"
	"github.com/mentora/engine/internal/infrastructure/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Storage.DataDir = t.TempDir()
	cfg.RateLimit.Enabled = false
	cfg.Logging.Development = true
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := NewServer(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewServerWritesSampleBlueprint(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)

	_, err := os.Stat(filepath.Join(cfg.Storage.DataDir, DefaultBlueprintFile))
	require.NoError(t, err)

	bp, lastErr := s.Engine().Blueprint()
	require.NoError(t, lastErr)
	require.NotNil(t, bp)
	assert.Equal(t, uint64(1), bp.Version)

	_, err = os.Stat(filepath.Join(cfg.Storage.DataDir, engine.SnapshotName))
	assert.NoError(t, err, "generation should have written a snapshot")
}

func TestRoutesAreMounted(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	tests := []struct {
		path string
		want int
	}{
		{path: "/", want: http.StatusOK},
		{path: "/health", want: http.StatusOK},
		{path: "/metrics", want: http.StatusOK},
		{path: "/api/schedule/today", want: http.StatusOK},
		{path: "/api/schedule/week", want: http.StatusOK},
		{path: "/api/blueprint", want: http.StatusOK},
		{path: "/api/mentor/context", want: http.StatusOK},
		{path: "/api/nope", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestRestartRestoresSchedule(t *testing.T) {
	cfg := testConfig(t)
	first := newTestServer(t, cfg)
	today := first.Engine().Today()
	before := first.Engine().DailyView(today)
	require.NoError(t, first.Close())

	second := newTestServer(t, cfg)
	after := second.Engine().DailyView(today)
	require.Len(t, after.Slots, len(before.Slots))
	for i := range before.Slots {
		assert.Equal(t, before.Slots[i].ID, after.Slots[i].ID)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestInvalidTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Timezone = "Mars/Olympus"

	_, err := NewServer(cfg, nil)
	assert.Error(t, err)
}
