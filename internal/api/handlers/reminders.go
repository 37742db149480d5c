package handlers

import (
	"net/http"
	"time"

	"github.com/KuldeepProzo/ProCompliance/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ReminderHandler struct {
	reminders *services.ReminderService
	logger    *zap.Logger
}

func NewReminderHandler(reminders *services.ReminderService, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{
		reminders: reminders,
		logger:    logger.With(zap.String("handler", "reminders")),
	}
}

func (rh *ReminderHandler) Policies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"policies": rh.reminders.Policies()})
}

type policyRequest struct {
	Criticality string `json:"criticality" binding:"required"`
	Windows     string `json:"windows" binding:"required"`
	OnDueDays   int    `json:"on_due_days"`
	OverdueDays int    `json:"overdue_days"`
	StartBefore int    `json:"start_before"`
}

func (rh *ReminderHandler) SetPolicy(c *gin.Context) {
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "criticality and windows required"})
		return
	}
	if err := rh.reminders.SetPolicy(req.Criticality, req.Windows, req.OnDueDays, req.OverdueDays, req.StartBefore); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "policy saved"})
}

// Run triggers a manual reminder pass. Manual runs always bypass the
// once-per-day dedup so an operator can resend after fixing mail settings.
func (rh *ReminderHandler) Run(c *gin.Context) {
	res, err := rh.reminders.RunReminderPass(c.Request.Context(), time.Now(), true)
	if err != nil {
		respondError(c, err)
		return
	}
	rh.logger.Info("Manual reminder run",
		zap.Int("emails_sent", res.EmailsSent),
		zap.Int("tasks_noted", res.TasksNoted))
	c.JSON(http.StatusOK, res)
}
