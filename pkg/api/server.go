package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/database"
	"github.com/luissimon96/migration-validator/pkg/events"
	"github.com/luissimon96/migration-validator/pkg/metrics"
	"github.com/luissimon96/migration-validator/pkg/queue"
	"github.com/luissimon96/migration-validator/pkg/services"
	"github.com/luissimon96/migration-validator/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config

	dbClient  *database.Client
	scheduler *queue.Scheduler
	pool      *queue.WorkerPool
	sessions  *services.SessionService
	results   *services.ResultService
	logs      *services.LogService
	broker    *events.Broker
}

// NewServer assembles the router.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	scheduler *queue.Scheduler,
	pool *queue.WorkerPool,
	sessions *services.SessionService,
	results *services.ResultService,
	logs *services.LogService,
	broker *events.Broker,
) *Server {
	s := &Server{
		cfg:       cfg,
		dbClient:  dbClient,
		scheduler: scheduler,
		pool:      pool,
		sessions:  sessions,
		results:   results,
		logs:      logs,
		broker:    broker,
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())

	// Multipart parts beyond 32 MiB spill to temporary files instead of
	// memory. This is not a body size cap; bundle ceilings are checked
	// when the upload is read.
	engine.MaxMultipartMemory = 32 << 20

	engine.GET("/health", s.healthHandler)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := engine.Group("/api")
	api.Use(authMiddleware(s.cfg.Server))

	api.GET("/technologies", s.technologiesHandler)

	mutating := api.Group("")
	mutating.Use(rateLimitMiddleware(s.cfg.Server.RateLimitPerMinute))
	mutating.POST("/validate", s.submitValidationHandler)
	mutating.POST("/behavioral/validate", s.submitBehavioralHandler)
	mutating.POST("/validate/hybrid", s.submitValidationHandler)
	mutating.DELETE("/validate/:request_id", s.cancelOrDeleteHandler)

	api.GET("/validate", s.listSessionsHandler)
	api.GET("/validate/:request_id/status", s.statusHandler)
	api.GET("/validate/:request_id/result", s.resultHandler)
	api.GET("/validate/:request_id/report", s.reportHandler)
	api.GET("/validate/:request_id/events", s.eventsHandler)

	return engine
}

// requestLogger is a thin structured access log.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// Start runs the HTTP server (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener; used by tests.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports subsystem health.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	providers := len(s.cfg.LLM.Providers)
	if s.cfg.Registry != nil {
		providers = s.cfg.Registry.Len()
	}
	response := HealthResponse{
		Status:  "healthy",
		Version: version.Full(),
		Subsystems: HealthSubsystems{
			Database:   "ok",
			WorkerPool: "ok",
			Cache:      "ok",
			Providers:  providers,
		},
	}
	if s.broker != nil {
		response.Subsystems.ActiveTopics = s.broker.ActiveTopics()
	}

	httpStatus := http.StatusOK
	if s.dbClient != nil {
		if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
			response.Status = "degraded"
			response.Subsystems.Database = "unreachable"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	if s.pool != nil {
		poolHealth := s.pool.Health(reqCtx)
		response.Pool = poolHealth
		if !poolHealth.IsHealthy {
			response.Status = "degraded"
			response.Subsystems.WorkerPool = "degraded"
		}
	}
	c.JSON(httpStatus, response)
}

// technologiesHandler serves the supported-technology catalog.
func (s *Server) technologiesHandler(c *gin.Context) {
	response := TechnologiesResponse{
		Scopes: []string{"ui", "backend_logic", "data_structure", "api", "business_rules", "behavioral", "full"},
	}
	for _, t := range s.cfg.Technologies {
		response.Technologies = append(response.Technologies, TechnologyEntry{
			Name: t.Name, Kind: t.Kind, Languages: t.Languages, Frameworks: t.Frameworks,
		})
	}
	c.JSON(http.StatusOK, response)
}
