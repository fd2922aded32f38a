package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/models"
)

// forkNodeBody is the body for POST /api/v1/nodes/:id/fork. The parent
// comes from the path.
type forkNodeBody struct {
	Intervention models.Intervention `json:"intervention" binding:"required"`
	Explanation  string              `json:"explanation,omitempty"`
}

// forkNodeHandler handles POST /api/v1/nodes/:id/fork.
func (s *Server) forkNodeHandler(c *gin.Context) {
	parentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body forkNodeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	resp, err := s.universe.ForkNode(c.Request.Context(), &models.ForkNodeRequest{
		ParentID:     parentID,
		Intervention: body.Intervention,
		Explanation:  body.Explanation,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// refreshNodeBody is the body for POST /api/v1/nodes/:id/refresh.
type refreshNodeBody struct {
	Config   models.RunConfig `json:"run_config"`
	Priority int              `json:"priority,omitempty"`
}

// refreshNodeHandler queues a recomputation run for a stale node.
func (s *Server) refreshNodeHandler(c *gin.Context) {
	nodeID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body refreshNodeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	run, err := s.universe.QueueNodeRefresh(c.Request.Context(), nodeID, body.Config, body.Priority)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// ensembleBody is the body for POST /api/v1/nodes/:id/ensemble.
type ensembleBody struct {
	Config models.RunConfig `json:"run_config"`
	Count  int              `json:"count" binding:"required,min=1"`
}

// ensembleHandler queues an ensemble of runs with derived seeds.
func (s *Server) ensembleHandler(c *gin.Context) {
	nodeID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body ensembleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	runs, err := s.universe.RunNodeEnsemble(c.Request.Context(), nodeID, body.Config, body.Count)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runs": runs, "count": len(runs)})
}

// compareNodesHandler handles GET /api/v1/nodes/compare?ids=a,b[,c...].
func (s *Server) compareNodesHandler(c *gin.Context) {
	raw := c.Query("ids")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids query parameter is required"})
		return
	}
	parts := strings.Split(raw, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(strings.TrimSpace(p))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid node id: " + p})
			return
		}
		ids = append(ids, id)
	}

	comparison, err := s.universe.CompareNodes(c.Request.Context(), ids)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, comparison)
}

// universeMapHandler handles GET /api/v1/universe-map/:project.
// max_depth limits traversal depth (omitted = unlimited); explored_only
// drops nodes that never aggregated a run.
func (s *Server) universeMapHandler(c *gin.Context) {
	projectID, ok := pathUUID(c, "project")
	if !ok {
		return
	}

	maxDepth := -1
	if v := c.Query("max_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_depth"})
			return
		}
		maxDepth = n
	}
	exploredOnly := c.Query("explored_only") == "true"

	m, err := s.universe.UniverseMap(c.Request.Context(), projectID, maxDepth, exploredOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
