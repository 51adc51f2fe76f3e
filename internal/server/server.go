// Package server exposes the multiplexer over HTTP and WebSocket.
//
// Two roles share one listener. The shell-facing surface: session tabs under
// /sessions and the /attach stream whose connection is the rendering
// surface. The host API under /api, which lets another daemon use this one
// as its PTY host through a remote channel.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentshell/termmux/internal/api/middleware"
	"github.com/agentshell/termmux/internal/backend"
	"github.com/agentshell/termmux/internal/config"
	"github.com/agentshell/termmux/internal/logging"
	"github.com/agentshell/termmux/internal/monitoring"
	"github.com/agentshell/termmux/internal/mux"
)

// Server wraps the HTTP server and the multiplexer it fronts.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	channel    backend.Channel
	store      *mux.Store
	controller *mux.Controller
	registry   *mux.Registry
	metrics    *monitoring.Metrics
	logger     *logging.Logger
	cfg        *config.Config

	// attachMu guards the single-surface invariant: at most one rendering
	// surface is bound at a time.
	attachMu sync.Mutex
	attached bool
}

// New wires the multiplexer core around the given backend channel and
// builds the router.
func New(cfg *config.Config, logger *logging.Logger, channel backend.Channel) *Server {
	metrics := monitoring.NewMetrics()

	store := mux.NewStore(cfg.Mux.BufferCapacity).WithMetrics(metrics)
	controller := mux.NewController(store, logger).WithMetrics(metrics)
	resizer := mux.NewResizeCoordinator(channel, logger, cfg.Mux.ResizeDebounce).WithMetrics(metrics)
	registry := mux.NewRegistry(channel, store, controller, resizer, logger).WithMetrics(metrics)
	registry.Start()

	s := &Server{
		channel:    channel,
		store:      store,
		controller: controller,
		registry:   registry,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
	s.router = s.buildRouter()
	return s
}

// Registry exposes the orchestrator, used by tests and the daemon.
func (s *Server) Registry() *mux.Registry {
	return s.registry
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(s.logger))
	router.Use(middleware.CORS())
	if s.cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		}))
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Shell-facing surface.
	router.POST("/sessions", s.handleCreateSession)
	router.GET("/sessions", s.handleListSessions)
	router.DELETE("/sessions/:id", s.handleCloseSession)
	router.POST("/sessions/:id/activate", s.handleActivateSession)
	router.GET("/attach", s.handleAttach)

	// Host API for remote channels.
	api := router.Group("/api")
	api.POST("/sessions", s.handleHostCreate)
	api.DELETE("/sessions/:id", s.handleHostClose)
	api.GET("/stream", s.handleHostStream)

	return router
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener, the multiplexer and the backend channel.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.registry.Close()
	if cerr := s.channel.Shutdown(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Handler returns the router, used by httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}
