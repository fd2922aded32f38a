// Package api exposes the HTTP boundary: run admission and inspection,
// universe navigation, evidence retrieval, and calibration control.
// Authentication and WebSocket fan-out belong to the external API layer
// in front of this service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manyworlds/continuum/pkg/database"
	"github.com/manyworlds/continuum/pkg/evidence"
	"github.com/manyworlds/continuum/pkg/orchestrator"
	"github.com/manyworlds/continuum/pkg/queue"
	"github.com/manyworlds/continuum/pkg/storage"
	"github.com/manyworlds/continuum/pkg/store"
	"github.com/manyworlds/continuum/pkg/universe"
)

const shutdownTimeout = 10 * time.Second

// Server wires the service layer to HTTP handlers.
type Server struct {
	db           *database.Client
	store        *store.Store
	orchestrator *orchestrator.Service
	universe     *universe.Service
	evidence     *evidence.Service
	blobs        storage.BlobStore
	pool         *queue.WorkerPool

	httpServer *http.Server
}

// NewServer creates the API server. pool may be nil (health reports
// degraded) and blobs may be nil (telemetry endpoint returns 404).
func NewServer(
	db *database.Client,
	st *store.Store,
	orch *orchestrator.Service,
	uni *universe.Service,
	evid *evidence.Service,
	blobs storage.BlobStore,
	pool *queue.WorkerPool,
) *Server {
	return &Server{
		db:           db,
		store:        st,
		orchestrator: orch,
		universe:     uni,
		evidence:     evid,
		blobs:        blobs,
		pool:         pool,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/projects", s.createProjectHandler)
		v1.GET("/projects/:id", s.getProjectHandler)
		v1.POST("/projects/:id/runs", s.createRunHandler)
		v1.GET("/projects/:id/parameters", s.currentParametersHandler)
		v1.GET("/projects/:id/parameters/history", s.parameterHistoryHandler)
		v1.POST("/projects/:id/parameters", s.proposeParametersHandler)
		v1.POST("/projects/:id/parameters/rollback", s.rollbackParametersHandler)

		v1.GET("/runs", s.listRunsHandler)
		v1.GET("/runs/:id", s.getRunHandler)
		v1.GET("/runs/:id/progress", s.runProgressHandler)
		v1.GET("/runs/:id/telemetry", s.runTelemetryHandler)
		v1.POST("/runs/:id/cancel", s.cancelRunHandler)

		v1.POST("/nodes/:id/fork", s.forkNodeHandler)
		v1.POST("/nodes/:id/refresh", s.refreshNodeHandler)
		v1.POST("/nodes/:id/ensemble", s.ensembleHandler)
		v1.GET("/nodes/compare", s.compareNodesHandler)
		v1.GET("/universe-map/:project", s.universeMapHandler)

		v1.GET("/evidence/:run_id", s.getEvidenceHandler)
		v1.GET("/evidence/compare", s.compareRunsHandler)

		v1.POST("/calibration/:dataset", s.createCalibrationJobHandler)
		v1.GET("/calibration/:dataset", s.listCalibrationJobsHandler)
		v1.POST("/calibration/:dataset/labels", s.recordLabelHandler)
		v1.GET("/calibration/jobs/:id", s.getCalibrationJobHandler)
		v1.POST("/calibration/jobs/:id/execute", s.executeCalibrationJobHandler)
		v1.POST("/parameters/:id/activate", s.activateParametersHandler)
	}

	return r
}

// Start begins serving on addr. Blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs one line per request with method, path, status,
// and latency.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}
