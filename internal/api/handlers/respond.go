package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/KuldeepProzo/ProCompliance/internal/services"
	"github.com/gin-gonic/gin"
)

// respondError maps service errors onto HTTP statuses in one place so
// every handler reports the lifecycle the same way.
func respondError(c *gin.Context, err error) {
	var fieldErr *services.FieldValidationError
	switch {
	case errors.As(err, &fieldErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid field", "field": fieldErr.Field})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, services.ErrLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "submitted and locked, request an edit to change it"})
	case errors.Is(err, services.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "status transition not allowed"})
	case errors.Is(err, services.ErrAttachmentRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "an image attachment is required when displayed in FC"})
	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, services.ErrTokenExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "reset link invalid or expired"})
	case errors.Is(err, services.ErrLastSuperAdmin):
		c.JSON(http.StatusConflict, gin.H{"error": "cannot remove the last superadmin"})
	case errors.Is(err, services.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "a reminder run is already in progress"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// uintQuery returns a pointer for optional numeric query filters.
func uintQuery(c *gin.Context, name string) *uint {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil
	}
	u := uint(v)
	return &u
}
