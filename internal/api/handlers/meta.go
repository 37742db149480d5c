package handlers

import (
	"net/http"

	"github.com/KuldeepProzo/ProCompliance/internal/api/middleware"
	"github.com/KuldeepProzo/ProCompliance/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MetaHandler serves the category and location lookup tables.
type MetaHandler struct {
	meta   *services.MetaService
	logger *zap.Logger
}

func NewMetaHandler(meta *services.MetaService, logger *zap.Logger) *MetaHandler {
	return &MetaHandler{
		meta:   meta,
		logger: logger.With(zap.String("handler", "meta")),
	}
}

func (mh *MetaHandler) Categories(c *gin.Context) {
	cats, err := mh.meta.Categories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

func (mh *MetaHandler) Companies(c *gin.Context) {
	companies, err := mh.meta.Companies(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"companies": companies})
}

type nameRequest struct {
	Name string `json:"name" binding:"required"`
}

func (mh *MetaHandler) CreateCategory(c *gin.Context) {
	p := middleware.Principal(c)
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	cat, err := mh.meta.CreateCategory(c.Request.Context(), p, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (mh *MetaHandler) CreateCompany(c *gin.Context) {
	p := middleware.Principal(c)
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	comp, err := mh.meta.CreateCompany(c.Request.Context(), p, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comp)
}

func (mh *MetaHandler) DeleteCategory(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := mh.meta.DeleteCategory(c.Request.Context(), p, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (mh *MetaHandler) DeleteCompany(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := mh.meta.DeleteCompany(c.Request.Context(), p, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
