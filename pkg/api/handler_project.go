package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/models"
)

// createProjectRequest is the body for POST /api/v1/projects.
type createProjectRequest struct {
	TenantID       uuid.UUID `json:"tenant_id" binding:"required"`
	Name           string    `json:"name" binding:"required"`
	EngineVersion  string    `json:"engine_version" binding:"required"`
	RulesetVersion string    `json:"ruleset_version" binding:"required"`
	DatasetVersion string    `json:"dataset_version" binding:"required"`
}

// createProjectHandler creates a project together with its baseline root
// node so the universe is immediately explorable.
func (s *Server) createProjectHandler(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	project := &models.Project{
		ID:             uuid.New(),
		TenantID:       req.TenantID,
		Name:           req.Name,
		EngineVersion:  req.EngineVersion,
		RulesetVersion: req.RulesetVersion,
		DatasetVersion: req.DatasetVersion,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.Projects.Create(c.Request.Context(), project); err != nil {
		respondError(c, err)
		return
	}

	root, err := s.universe.CreateRootNode(c.Request.Context(), project.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"project": project, "root_node": root})
}

// getProjectHandler handles GET /api/v1/projects/:id.
func (s *Server) getProjectHandler(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	project, err := s.store.Projects.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}
