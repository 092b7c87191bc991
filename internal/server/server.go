// Package server exposes optimization runs over HTTP: start, inspect, stream and cancel runs,
// plus Prometheus metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/latentbo/internal/bo"
	"github.com/cwbudde/latentbo/internal/config"
	"github.com/cwbudde/latentbo/internal/store"
)

// ResponseError is the body of every error response
type ResponseError struct {
	Message string `json:"message"`
}

// Server is the HTTP front end of the run manager
type Server struct {
	runs     *RunManager
	store    *store.FSStore
	defaults config.Config
	validate *validator.Validate
	addr     string
	echo     *echo.Echo
}

// NewServer creates a server. A nil store disables checkpoints, traces and resume.
func NewServer(addr string, st *store.FSStore, defaults config.Config) *Server {
	s := &Server{
		runs:     NewRunManager(),
		store:    st,
		defaults: defaults,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		addr:     addr,
	}
	s.echo = s.router()
	return s
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	e.Use(s.loggingMiddleware)

	api := e.Group("/api/v1")
	runs := api.Group("/runs")
	runs.POST("", s.handleCreateRun)
	runs.GET("", s.handleListRuns)
	runs.GET("/:id", s.handleGetRun)
	runs.GET("/:id/trace", s.handleGetTrace)
	runs.GET("/:id/stream", s.handleRunStream)
	runs.DELETE("/:id", s.handleCancelRun)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown cancels active runs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "active_runs", len(s.runs.GetActiveRuns()))
	s.runs.CancelAll()
	return s.echo.Shutdown(ctx)
}

// handleCreateRun handles POST /api/v1/runs
func (s *Server) handleCreateRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	cfg := s.defaults
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	runID := uuid.New().String()
	var exp *bo.Experiment
	if req.Resume != "" {
		if s.store == nil {
			return c.JSON(http.StatusBadRequest, ResponseError{Message: "resume requires a checkpoint store"})
		}
		var err error
		exp, _, err = bo.ResumeExperiment(s.store, req.Resume, cfg)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c.JSON(http.StatusNotFound, ResponseError{Message: err.Error()})
			}
			return c.JSON(http.StatusConflict, ResponseError{Message: err.Error()})
		}
		runID = req.Resume
	}

	run, err := s.runs.CreateRun(runID, req, cfg)
	if err != nil {
		return c.JSON(http.StatusConflict, ResponseError{Message: err.Error()})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.runs.setCancel(run.ID, cancel)
	go func() {
		defer cancel()
		defer s.runs.clearCancel(run.ID)
		executeRun(ctx, s.runs, s.store, run.ID, exp)
	}()

	return c.JSON(http.StatusCreated, run)
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, s.runs.ListRuns())
}

// handleGetRun handles GET /api/v1/runs/:id
func (s *Server) handleGetRun(c echo.Context) error {
	run, exists := s.runs.GetRun(c.Param("id"))
	if !exists {
		return c.JSON(http.StatusNotFound, ResponseError{Message: "run not found"})
	}
	return c.JSON(http.StatusOK, run)
}

// handleGetTrace handles GET /api/v1/runs/:id/trace
func (s *Server) handleGetTrace(c echo.Context) error {
	if s.store == nil {
		return c.JSON(http.StatusNotFound, ResponseError{Message: "traces are disabled"})
	}
	entries, err := s.store.ReadTrace(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ResponseError{Message: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, entries)
}

// handleCancelRun handles DELETE /api/v1/runs/:id
func (s *Server) handleCancelRun(c echo.Context) error {
	runID := c.Param("id")
	if _, exists := s.runs.GetRun(runID); !exists {
		return c.JSON(http.StatusNotFound, ResponseError{Message: "run not found"})
	}
	if !s.runs.Cancel(runID) {
		return c.JSON(http.StatusConflict, ResponseError{Message: "run is not active"})
	}
	return c.NoContent(http.StatusAccepted)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		slog.Debug("HTTP request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"duration", time.Since(start),
		)
		return err
	}
}
