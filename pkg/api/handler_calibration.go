package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/models"
)

// createCalibrationJobBody is the body for POST
// /api/v1/calibration/:dataset. The dataset comes from the path.
type createCalibrationJobBody struct {
	ProjectID uuid.UUID                `json:"project_id" binding:"required"`
	Config    models.CalibrationConfig `json:"config"`
}

// createCalibrationJobHandler creates a calibration job and executes it
// synchronously. Calibration replays labeled runs; jobs are small enough
// that async execution is not worth the bookkeeping.
func (s *Server) createCalibrationJobHandler(c *gin.Context) {
	dataset := c.Param("dataset")
	var body createCalibrationJobBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	job, err := s.evidence.CreateCalibrationJob(c.Request.Context(), &models.CreateCalibrationJobRequest{
		ProjectID: body.ProjectID,
		DatasetID: dataset,
		Config:    body.Config,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	job, err = s.evidence.ExecuteCalibrationJob(c.Request.Context(), job.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

// listCalibrationJobsHandler handles GET /api/v1/calibration/:dataset.
func (s *Server) listCalibrationJobsHandler(c *gin.Context) {
	dataset := c.Param("dataset")
	jobs, err := s.evidence.ListCalibrationJobs(c.Request.Context(), dataset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// getCalibrationJobHandler handles GET /api/v1/calibration/jobs/:id.
// include=iterations attaches the per-iteration history.
func (s *Server) getCalibrationJobHandler(c *gin.Context) {
	jobID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	job, err := s.evidence.GetCalibrationJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("include") == "iterations" {
		iterations, err := s.evidence.ListCalibrationIterations(c.Request.Context(), jobID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"job": job, "iterations": iterations})
		return
	}
	c.JSON(http.StatusOK, job)
}

// executeCalibrationJobHandler handles POST
// /api/v1/calibration/jobs/:id/execute. Re-running a terminal job is a
// transition violation.
func (s *Server) executeCalibrationJobHandler(c *gin.Context) {
	jobID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	job, err := s.evidence.ExecuteCalibrationJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// recordLabelBody is the body for POST /api/v1/calibration/:dataset/labels.
type recordLabelBody struct {
	RunID  uuid.UUID `json:"run_id" binding:"required"`
	NodeID uuid.UUID `json:"node_id" binding:"required"`
	Label  float64   `json:"label"`
	Notes  *string   `json:"notes,omitempty"`
}

// recordLabelHandler records a ground-truth label against a run.
func (s *Server) recordLabelHandler(c *gin.Context) {
	dataset := c.Param("dataset")
	var body recordLabelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	label := &models.GroundTruthLabel{
		DatasetID: dataset,
		RunID:     body.RunID,
		NodeID:    body.NodeID,
		Label:     body.Label,
		Notes:     body.Notes,
	}
	if err := s.evidence.RecordLabel(c.Request.Context(), label); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, label)
}
