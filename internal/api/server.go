// Package api serves the read-only HTTP interface over jobs, WFO runs and reports.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/logger"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/reporting"
	"backtest-lab/internal/storage"
)

// Server wires the gin router to the reporting facade.
type Server struct {
	router *gin.Engine
	facade *reporting.Facade
	hub    *Hub
	log    logrus.FieldLogger
}

// Options for creating a Server.
type Options struct {
	Facade *reporting.Facade
	// Hub enables /ws/monitor when non-nil.
	Hub     *Hub
	Logger  logrus.FieldLogger
	Release bool
}

// NewServer creates a server with all routes registered.
func NewServer(opts Options) *Server {
	if opts.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{
		router: gin.New(),
		facade: opts.Facade,
		hub:    opts.Hub,
		log:    log.WithField("component", "api"),
	}
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Unix(),
		})
	})
	s.router.GET("/metrics", gin.WrapH(observability.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/jobs/:id", s.getJob)
		v1.GET("/wfo/:id", s.getWFO)

		labs := v1.Group("/labs/:lab")
		labs.GET("/backtests/:bt/analysis", s.getAnalysis)
		labs.GET("/reports", s.listReports)
		labs.GET("/reports/latest", s.latestReport)
	}

	if s.hub != nil {
		s.router.GET("/ws/monitor", s.hub.Serve)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.facade.GetJobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job))
}

func (s *Server) getWFO(c *gin.Context) {
	wfo, err := s.facade.GetWFO(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newWFOResponse(wfo))
}

func (s *Server) getAnalysis(c *gin.Context) {
	m, err := s.facade.GetCachedAnalysis(c.Request.Context(), c.Param("lab"), c.Param("bt"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) listReports(c *gin.Context) {
	infos, err := s.facade.ListSavedReports(c.Request.Context(), c.Param("lab"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lab_id": c.Param("lab"), "reports": infos})
}

func (s *Server) latestReport(c *gin.Context) {
	report, err := s.facade.GetLatestReport(c.Request.Context(), c.Param("lab"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// writeError maps domain and storage errors to HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}
