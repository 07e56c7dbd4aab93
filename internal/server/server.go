// Package server exposes the gateway over HTTP: tool discovery and
// administration under /v1, dispatch endpoints, health, and Prometheus
// metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vita/internal/config"
	"vita/internal/gateway"
	"vita/internal/logging"
	"vita/internal/registry"
	"vita/internal/stats"
	"vita/internal/tool"
)

// Server owns the gin engine and the underlying http.Server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	dispatcher *gateway.Dispatcher
	facade     *registry.Facade
	catalog    *tool.Catalog
	stats      *stats.Collector
	logger     logging.Logger
	startTime  time.Time
}

// Deps bundles the gateway components the HTTP surface talks to.
type Deps struct {
	Dispatcher *gateway.Dispatcher
	Facade     *registry.Facade
	Catalog    *tool.Catalog
	Stats      *stats.Collector
	Gatherer   prometheus.Gatherer
	Logger     logging.Logger
}

// New builds the server with routes and middleware installed. It does not
// start listening; call Start.
func New(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", callerHeader}
	engine.Use(cors.New(corsConfig))

	s := &Server{
		engine:     engine,
		dispatcher: deps.Dispatcher,
		facade:     deps.Facade,
		catalog:    deps.Catalog,
		stats:      deps.Stats,
		logger:     logging.WithComponent(deps.Logger, "http"),
		startTime:  time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.setupRoutes(cfg, deps.Gatherer)
	return s
}

func (s *Server) setupRoutes(cfg config.ServerConfig, gatherer prometheus.Gatherer) {
	s.engine.GET("/health", s.handleHealth)
	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/v1")
	v1.Use(callerMiddleware())
	v1.Use(throttleMiddleware(cfg.RequestsPerSec, cfg.Burst))

	tools := v1.Group("/tools")
	{
		tools.GET("", s.handleListTools)
		tools.POST("", s.handleRegisterTool)
		tools.GET("/:name", s.handleGetTool)
		tools.DELETE("/:name", s.handleUnregisterTool)
	}

	v1.GET("/categories", s.handleCategories)
	v1.GET("/statistics", s.handleStatistics)
	v1.GET("/export", s.handleExport)

	v1.POST("/execute", s.handleExecute)
	v1.POST("/execute-async", s.handleExecuteAsync)
	calls := v1.Group("/calls")
	{
		calls.GET("/:id", s.handleAwait)
		calls.DELETE("/:id", s.handleCancel)
	}
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
