// Package server wires the engine, the REST surface, and the event feed
// into one runnable HTTP server.
package server

import (
	"net"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	api "github.com/mocklab/backend/internal/api/http"
	"github.com/mocklab/backend/internal/api/middleware"
	"github.com/mocklab/backend/internal/api/ws"
	"github.com/mocklab/backend/internal/engine/bundle"
	"github.com/mocklab/backend/internal/engine/bus"
	"github.com/mocklab/backend/internal/engine/pipeline"
	"github.com/mocklab/backend/internal/engine/registry"
	"github.com/mocklab/backend/internal/engine/scheduler"
	"github.com/mocklab/backend/internal/infrastructure/config"
	"github.com/mocklab/backend/internal/infrastructure/logging"
	"github.com/mocklab/backend/internal/infrastructure/monitoring"
	"github.com/mocklab/backend/internal/notify"
)

// Server owns the engine components and the HTTP router
type Server struct {
	cfg    *config.Config
	router *gin.Engine
	logger *logging.Logger

	bus       *bus.Bus
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	bundles   *bundle.Composer
	webhook   *notify.Webhook
}

// New builds a fully wired server from configuration
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()

	b := bus.New()
	b.Subscribe(func(ev bus.Event) {
		metrics.RecordEvent(string(ev.Type))
	})

	reg := registry.New(b, logger, metrics)
	sched := scheduler.New(reg, pipeline.New(), b, logger, metrics)
	reg.SetSimulations(sched)
	bundles := bundle.New(reg, b, logger, metrics)

	if cfg.Engine.SeedDir != "" {
		loaded, failed, err := registry.NewSeeder(reg, cfg.Engine.SeedDir).Seed()
		if err != nil {
			logger.Warn("seeding failed", zap.String("dir", cfg.Engine.SeedDir), zap.Error(err))
		} else {
			logger.Info("seeded service definitions",
				zap.String("dir", cfg.Engine.SeedDir),
				zap.Int("loaded", loaded),
				zap.Int("failed", failed),
			)
		}
	}

	var webhook *notify.Webhook
	if cfg.Webhook.URL != "" {
		webhook = notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.RetryMax, b, logger)
		logger.Info("webhook notifier enabled", zap.String("url", cfg.Webhook.URL))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	api.NewHandlers(reg, sched, bundles, metrics, logger).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stream", ws.NewHandler(b, logger, metrics).HandleConnection)

	return &Server{
		cfg:       cfg,
		router:    router,
		logger:    logger,
		bus:       b,
		registry:  reg,
		scheduler: sched,
		bundles:   bundles,
		webhook:   webhook,
	}, nil
}

// Run starts the HTTP server; it blocks until the listener fails
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close stops every active simulation and flushes the logger
func (s *Server) Close() error {
	s.scheduler.StopAll()
	if s.webhook != nil {
		s.webhook.Close()
	}
	return s.logger.Sync()
}
