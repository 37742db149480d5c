package handlers

import (
	"net/http"

	"github.com/KuldeepProzo/ProCompliance/internal/api/middleware"
	"github.com/KuldeepProzo/ProCompliance/internal/services"
	"github.com/KuldeepProzo/ProCompliance/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StandardHandler struct {
	standards *services.StandardService
	logger    *zap.Logger
}

func NewStandardHandler(standards *services.StandardService, logger *zap.Logger) *StandardHandler {
	return &StandardHandler{
		standards: standards,
		logger:    logger.With(zap.String("handler", "standards")),
	}
}

func (sh *StandardHandler) List(c *gin.Context) {
	stds, err := sh.standards.List(c.Request.Context(), uintQuery(c, "category_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"standards": stds})
}

type standardRequest struct {
	Title       string `json:"title" binding:"required"`
	CategoryID  *uint  `json:"category_id"`
	Repeat      string `json:"repeat"`
	Criticality string `json:"criticality"`
	RelevantFC  bool   `json:"relevant_fc"`
	DisplayedFC string `json:"displayed_fc"`
}

func (sh *StandardHandler) Create(c *gin.Context) {
	p := middleware.Principal(c)
	var req standardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
		return
	}
	std, err := sh.standards.Create(c.Request.Context(), p, services.StandardInput{
		Title:       req.Title,
		CategoryID:  req.CategoryID,
		RepeatJSON:  req.Repeat,
		Criticality: req.Criticality,
		RelevantFC:  req.RelevantFC,
		DisplayedFC: req.DisplayedFC,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, std)
}

func (sh *StandardHandler) Update(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req standardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
		return
	}
	std, err := sh.standards.Update(c.Request.Context(), p, id, services.StandardInput{
		Title:       req.Title,
		CategoryID:  req.CategoryID,
		RepeatJSON:  req.Repeat,
		Criticality: req.Criticality,
		RelevantFC:  req.RelevantFC,
		DisplayedFC: req.DisplayedFC,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, std)
}

func (sh *StandardHandler) Delete(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := sh.standards.Delete(c.Request.Context(), p, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type applyRequest struct {
	StandardIDs []uint `json:"standard_ids" binding:"required"`
	CompanyID   *uint  `json:"company_id"`
	Maker       string `json:"maker" binding:"required"`
	Checker     string `json:"checker"`
	DueDate     string `json:"due_date"`
	ValidFrom   string `json:"valid_from"`
}

func (sh *StandardHandler) Apply(c *gin.Context) {
	p := middleware.Principal(c)
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "standard_ids and maker required"})
		return
	}
	created, err := sh.standards.Apply(c.Request.Context(), p, services.ApplyInput{
		StandardIDs: req.StandardIDs,
		CompanyID:   req.CompanyID,
		Maker:       req.Maker,
		Checker:     req.Checker,
		DueDate:     utils.NormalizeDate(req.DueDate),
		ValidFrom:   req.ValidFrom,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": len(created), "tasks": created})
}
