package handlers

import (
	"net/http"

	"github.com/KuldeepProzo/ProCompliance/internal/api/middleware"
	"github.com/KuldeepProzo/ProCompliance/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	users  *services.UserService
	logger *zap.Logger
}

func NewAuthHandler(users *services.UserService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		users:  users,
		logger: logger.With(zap.String("handler", "auth")),
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}
	token, user, err := ah.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		ah.logger.Warn("Login failed", zap.String("email", req.Email), zap.String("ip", c.ClientIP()))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
			"role":  user.Role,
		},
	})
}

// Me returns the authenticated principal, including the category allow-set
// the frontend uses to hide out-of-scope actions.
func (ah *AuthHandler) Me(c *gin.Context) {
	p := middleware.Principal(c)
	c.JSON(http.StatusOK, gin.H{
		"id":         p.ID,
		"email":      p.Email,
		"name":       p.Name,
		"role":       p.Role,
		"categories": p.AllowedCategoryIDs,
	})
}

type forgotRequest struct {
	Email string `json:"email" binding:"required"`
}

func (ah *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email required"})
		return
	}
	if err := ah.users.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		ah.logger.Warn("Password reset mail failed", zap.Error(err))
	}
	// Same answer for known and unknown addresses.
	c.JSON(http.StatusOK, gin.H{"message": "if the account exists, a reset link has been sent"})
}

type resetRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (ah *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and password required"})
		return
	}
	if err := ah.users.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}
