package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/mentora/engine/internal/api/http"
	"github.com/mentora/engine/internal/api/middleware"
	"github.com/mentora/engine/internal/api/ws"
	"github.com/mentora/engine/internal/domain/engine"
	"github.com/mentora/engine/internal/domain/events"
	"github.com/mentora/engine/internal/infrastructure/config"
	"github.com/mentora/engine/internal/infrastructure/logging"
	"github.com/mentora/engine/internal/infrastructure/monitoring"
	"github.com/mentora/engine/internal/infrastructure/storage"
	"github.com/mentora/engine/internal/infrastructure/tracing"
)

// DefaultBlueprintFile is used under DATA_DIR when BLUEPRINT_PATH is unset.
const DefaultBlueprintFile = "blueprint.yaml"

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	engine  *engine.Engine
	webhook *events.Webhook
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger = logging.OrNop(logger)
	logger.Info("Initializing schedule engine",
		zap.String("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.String("timezone", cfg.Schedule.Timezone),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("schedule-engine", logger.Logger)

	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine options: %w", err)
	}
	if opts.BlueprintPath == "" {
		opts.BlueprintPath = filepath.Join(cfg.Storage.DataDir, DefaultBlueprintFile)
	}

	eng := engine.New(opts, logger).
		WithMetrics(metrics).
		WithTracer(tracer)

	if cfg.Storage.Persist {
		snap, err := storage.NewSnapshotFile(cfg.Storage.DataDir, engine.SnapshotName)
		if err != nil {
			eng.Close()
			return nil, fmt.Errorf("snapshot storage: %w", err)
		}
		eng.WithPersister(snap)
		logger.Info("Schedule persistence enabled", zap.String("path", snap.Path()))
	}

	if err := eng.Init(); err != nil {
		eng.Close()
		return nil, fmt.Errorf("initialize engine: %w", err)
	}

	var webhook *events.Webhook
	if cfg.Events.WebhookURL != "" {
		wcfg := events.DefaultWebhookConfig(cfg.Events.WebhookURL)
		wcfg.Timeout = cfg.Events.WebhookTimeout
		webhook = events.NewWebhook(wcfg, logger).WithMetrics(metrics)
		logger.Info("Progress webhook enabled", zap.String("url", cfg.Events.WebhookURL))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.Server.AllowOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := apihttp.NewHandlers(eng, metrics, logger)
	handlers.Register(router)

	wsHandler := ws.NewHandler(eng.Bus(), cfg.Server.AllowOrigins, metrics, logger)
	router.GET("/api/events/stream", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		engine:  eng,
		webhook: webhook,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler { return s.router }

// Engine returns the scheduler behind the API.
func (s *Server) Engine() *engine.Engine { return s.engine }

// Run serves HTTP, drives the engine's rollover loop and delivers webhook
// events until ctx is cancelled, then drains within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.engine.Start(gctx)
	})

	if s.webhook != nil {
		sub := s.engine.Bus().Subscribe("webhook")
		g.Go(func() error {
			err := s.webhook.Run(gctx, sub)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	s.engine.Close()
	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()
	return nil
}
