package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Rubentxu/hodei-pipelines/pkg/log"
	"github.com/Rubentxu/hodei-pipelines/pkg/metrics"
	"github.com/Rubentxu/hodei-pipelines/pkg/orchestrator"
)

// Config tunes the REST listener.
type Config struct {
	Addr            string
	BodyLimit       string
	ShutdownTimeout time.Duration
}

// Server is the REST surface over the orchestrator.
type Server struct {
	cfg    Config
	orch   *orchestrator.Orchestrator
	echo   *echo.Echo
	logger zerolog.Logger
}

// NewServer builds the REST server and registers every route.
func NewServer(cfg Config, orch *orchestrator.Orchestrator) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "100M"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	s := &Server{
		cfg:    cfg,
		orch:   orch,
		echo:   e,
		logger: log.WithComponent("api"),
	}
	e.Use(s.observe)
	s.routes()
	return s
}

// observe records request count and latency metrics.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		timer := metrics.NewTimer()
		err := next(c)
		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
		}
		metrics.APIRequestsTotal.WithLabelValues(c.Request().Method, strconv.Itoa(status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, c.Request().Method)
		return err
	}
}

func (s *Server) routes() {
	s.echo.GET("/healthz", echo.WrapHandler(metrics.HealthHandler()))
	s.echo.GET("/readyz", echo.WrapHandler(metrics.ReadyHandler()))
	s.echo.GET("/livez", echo.WrapHandler(metrics.LivenessHandler()))
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/jobs", s.handleSubmitJob)
	v1.GET("/jobs", s.handleListJobs)
	v1.GET("/jobs/:id", s.handleGetJob)
	v1.POST("/jobs/:id/cancel", s.handleCancelJob)
	v1.POST("/jobs/:id/retry", s.handleRetryJob)
	v1.GET("/jobs/:id/executions", s.handleListExecutions)

	v1.GET("/executions/:id", s.handleGetExecution)
	v1.POST("/executions/:id/cancel", s.handleCancelExecution)
	v1.GET("/executions/:id/logs", s.handleExecutionLogs)
	v1.GET("/executions/:id/events", s.handleExecutionEvents)

	v1.POST("/pools", s.handleCreatePool)
	v1.GET("/pools", s.handleListPools)
	v1.GET("/pools/:id", s.handleGetPool)
	v1.PUT("/pools/:id", s.handleUpdatePool)
	v1.DELETE("/pools/:id", s.handleDeletePool)
	v1.POST("/pools/:id/drain", s.handleDrainPool)
	v1.POST("/pools/:id/resume", s.handleResumePool)
	v1.POST("/pools/:id/maintenance", s.handlePoolMaintenance)
	v1.POST("/pools/:id/scale", s.handleScalePool)

	v1.POST("/quotas", s.handleCreateQuota)
	v1.GET("/quotas", s.handleListQuotas)
	v1.GET("/quotas/:namespace", s.handleGetQuota)
	v1.PUT("/quotas/:namespace", s.handleUpdateQuota)
	v1.DELETE("/quotas/:namespace", s.handleDeleteQuota)

	v1.GET("/workers", s.handleListWorkers)
	v1.GET("/workers/:id", s.handleGetWorker)
	v1.POST("/workers/:id/shutdown", s.handleShutdownWorker)

	v1.POST("/artifacts", s.handleUploadArtifact)
	v1.GET("/artifacts/:id", s.handleDownloadArtifact)

	v1.POST("/templates", s.handleCreateTemplate)
	v1.GET("/templates", s.handleListTemplates)
	v1.GET("/templates/:id", s.handleGetTemplate)
	v1.DELETE("/templates/:id", s.handleDeleteTemplate)
	v1.POST("/templates/:name/submit", s.handleSubmitFromTemplate)
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("api listening")
	if err := s.echo.Start(s.cfg.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }
