package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusForMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewValidationError("horizon", "must be positive"), http.StatusBadRequest},
		{fmt.Errorf("run x: %w", models.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("cancel: %w", models.ErrStateTransition), http.StatusConflict},
		{fmt.Errorf("aggregate: %w", models.ErrStaleAggregate), http.StatusUnprocessableEntity},
		{storage.ErrBlobNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "error: %v", tt.err)
	}
}

func TestInvalidUUIDPathParamsReturn400(t *testing.T) {
	router := NewServer(nil, nil, nil, nil, nil, nil, nil).Router()

	paths := []string{
		"/api/v1/runs/not-a-uuid",
		"/api/v1/runs/not-a-uuid/progress",
		"/api/v1/runs/not-a-uuid/telemetry",
		"/api/v1/universe-map/not-a-uuid",
		"/api/v1/evidence/not-a-uuid",
		"/api/v1/projects/not-a-uuid",
	}
	for _, path := range paths {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "path: %s", path)
	}
}

func TestCompareNodesRequiresIDs(t *testing.T) {
	router := NewServer(nil, nil, nil, nil, nil, nil, nil).Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nodes/compare", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nodes/compare?ids=a,b", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRunsRejectsBadFilters(t *testing.T) {
	router := NewServer(nil, nil, nil, nil, nil, nil, nil).Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs?project_id=nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthWithoutPoolIsUnhealthy(t *testing.T) {
	router := NewServer(nil, nil, nil, nil, nil, nil, nil).Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewServer(nil, nil, nil, nil, nil, nil, nil).Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
