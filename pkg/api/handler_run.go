package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/metrics"
	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/telemetry"
)

// signedURLTTL bounds how long a minted telemetry URL stays valid.
const signedURLTTL = 15 * time.Minute

// createRunHandler handles POST /api/v1/projects/:id/runs.
func (s *Server) createRunHandler(c *gin.Context) {
	projectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req models.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req.ProjectID = projectID

	run, err := s.orchestrator.CreateRun(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

// listRunsHandler handles GET /api/v1/runs.
func (s *Server) listRunsHandler(c *gin.Context) {
	filters := models.RunFilters{Limit: 50}

	if v := c.Query("project_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
			return
		}
		filters.ProjectID = &id
	}
	if v := c.Query("node_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node_id"})
			return
		}
		filters.NodeID = &id
	}
	if v := c.Query("status"); v != "" {
		filters.Status = models.RunStatus(v)
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			filters.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	result, err := s.orchestrator.ListRuns(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getRunHandler handles GET /api/v1/runs/:id.
func (s *Server) getRunHandler(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	run, err := s.orchestrator.Result(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// runProgressHandler handles GET /api/v1/runs/:id/progress.
func (s *Server) runProgressHandler(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	progress, err := s.orchestrator.Progress(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// cancelRunHandler handles POST /api/v1/runs/:id/cancel.
func (s *Server) cancelRunHandler(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	run, err := s.orchestrator.CancelRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// runTelemetryHandler handles GET /api/v1/runs/:id/telemetry.
// Backends that can mint signed URLs return one; the rest serve the
// blob bytes directly.
func (s *Server) runTelemetryHandler(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	run, err := s.orchestrator.Result(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if s.blobs == nil || run.TelemetryRef == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "telemetry not available for this run"})
		return
	}
	key, ok := telemetry.KeyFromRef(*run.TelemetryRef)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "telemetry not available for this run"})
		return
	}

	url, err := s.blobs.SignedURL(c.Request.Context(), key, signedURLTTL)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"url": url, "expires_in": int(signedURLTTL.Seconds())})
		return
	}

	data, err := s.blobs.Get(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.TelemetryBlobBytes.Observe(float64(len(data)))
	c.Data(http.StatusOK, "application/json", data)
}

// pathUUID parses a UUID path parameter, writing a 400 on failure.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ": must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}
