// Package server exposes the kernel's status and control surface over
// HTTP: health, status, app and layer listings, backend selection,
// recovery stats, Prometheus metrics, and a WebSocket event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hearth-engine/hearth/internal/api/middleware"
	"github.com/hearth-engine/hearth/internal/infrastructure/config"
	"github.com/hearth-engine/hearth/internal/kernel"
	"github.com/hearth-engine/hearth/internal/ws"
)

// Server wraps the HTTP server and its kernel.
type Server struct {
	router *gin.Engine
	kernel *kernel.Kernel
	cfg    *config.Config
	log    *zap.Logger
	http   *http.Server
}

// New creates a server over an existing kernel instance.
func New(cfg *config.Config, k *kernel.Kernel, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("server")

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		log.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst))
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	s := &Server{
		router: router,
		kernel: k,
		cfg:    cfg,
		log:    log,
	}

	pollInterval := time.Second / time.Duration(cfg.Kernel.TargetFPS)
	wsHandler := ws.NewHandler(k, pollInterval, log)

	router.GET("/", s.root)
	router.GET("/health", s.health)
	router.GET("/status", s.status)
	router.GET("/recovery", s.recovery)

	router.GET("/apps", s.listApps)
	router.GET("/apps/:id", s.getApp)
	router.POST("/apps/:id/restart", s.restartApp)
	router.DELETE("/apps/:id", s.unloadApp)

	router.GET("/layers", s.listLayers)
	router.GET("/layers/:id", s.getLayer)

	router.GET("/backend", s.backend)
	router.POST("/backend/force", s.forceBackend)

	router.POST("/kernel/pause", s.pause)
	router.POST("/kernel/resume", s.resume)
	router.GET("/kernel/render-graph", s.renderGraph)

	router.GET("/stream", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		k.Registry(), promhttp.HandlerOpts{})))

	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.log.Info("starting HTTP server", zap.String("addr", addr))

	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the WebSocket stream is long-lived
	}
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.log.Info("shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
