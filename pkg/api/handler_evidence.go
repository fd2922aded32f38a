package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/models"
)

// getEvidenceHandler handles GET /api/v1/evidence/:run_id.
func (s *Server) getEvidenceHandler(c *gin.Context) {
	runID, ok := pathUUID(c, "run_id")
	if !ok {
		return
	}
	pack, err := s.evidence.GetPack(c.Request.Context(), runID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pack)
}

// compareRunsHandler handles GET /api/v1/evidence/compare?run_a=&run_b=.
// Two runs with equal config hashes and seeds must produce equal result
// hashes; the response states whether they did.
func (s *Server) compareRunsHandler(c *gin.Context) {
	a, err := uuid.Parse(c.Query("run_a"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_a: must be a UUID"})
		return
	}
	b, err := uuid.Parse(c.Query("run_b"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_b: must be a UUID"})
		return
	}

	result, err := s.evidence.CompareRuns(c.Request.Context(), a, b)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// proposeParametersHandler handles POST /api/v1/projects/:id/parameters.
func (s *Server) proposeParametersHandler(c *gin.Context) {
	projectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var params models.ParameterSet
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	version, err := s.evidence.ProposeParameters(c.Request.Context(), projectID, params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

// activateParametersHandler handles POST /api/v1/parameters/:id/activate.
type activateParametersBody struct {
	ApprovedBy string `json:"approved_by" binding:"required"`
}

func (s *Server) activateParametersHandler(c *gin.Context) {
	versionID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body activateParametersBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	version, err := s.evidence.ActivateParameters(c.Request.Context(), versionID, body.ApprovedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// rollbackParametersHandler handles POST
// /api/v1/projects/:id/parameters/rollback.
type rollbackParametersBody struct {
	TargetID uuid.UUID `json:"target_id" binding:"required"`
}

func (s *Server) rollbackParametersHandler(c *gin.Context) {
	projectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body rollbackParametersBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	version, err := s.evidence.RollbackParameters(c.Request.Context(), projectID, body.TargetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// currentParametersHandler handles GET /api/v1/projects/:id/parameters.
func (s *Server) currentParametersHandler(c *gin.Context) {
	projectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	version, err := s.evidence.CurrentParameters(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// parameterHistoryHandler handles GET
// /api/v1/projects/:id/parameters/history.
func (s *Server) parameterHistoryHandler(c *gin.Context) {
	projectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	history, err := s.evidence.ParameterHistory(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": history})
}
