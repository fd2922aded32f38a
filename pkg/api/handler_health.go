package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/manyworlds/continuum/pkg/version"
)

const healthCheckTimeout = 5 * time.Second

// healthHandler handles GET /health. Reports database connectivity and
// the worker pool snapshot; 503 when either is unhealthy.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	body := gin.H{
		"status":  "healthy",
		"version": version.Full(),
	}
	healthy := true

	if s.db != nil {
		dbHealth := s.db.Health(ctx)
		body["database"] = dbHealth
		healthy = healthy && dbHealth.Healthy
	}

	if s.pool != nil {
		poolHealth := s.pool.Health()
		body["worker_pool"] = poolHealth
		healthy = healthy && poolHealth.IsHealthy
	} else {
		body["worker_pool"] = gin.H{"enabled": false}
		healthy = false
	}

	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
