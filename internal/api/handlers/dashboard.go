package handlers

import (
	"net/http"

	"github.com/KuldeepProzo/ProCompliance/internal/api/middleware"
	"github.com/KuldeepProzo/ProCompliance/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DashboardHandler struct {
	dashboard *services.DashboardService
	logger    *zap.Logger
}

func NewDashboardHandler(dashboard *services.DashboardService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		dashboard: dashboard,
		logger:    logger.With(zap.String("handler", "dashboard")),
	}
}

func (dh *DashboardHandler) Summary(c *gin.Context) {
	p := middleware.Principal(c)
	sum, err := dh.dashboard.Summary(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
