package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/manyworlds/continuum/pkg/models"
	"github.com/manyworlds/continuum/pkg/storage"
)

// respondError maps service-layer errors onto the HTTP status contract:
// 400 validation, 404 missing, 409 illegal transition, 422 stale
// aggregate, 500 everything else.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Unexpected service error",
			"path", c.Request.URL.Path, "error", err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case models.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, storage.ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrStateTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrStaleAggregate):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
