package handlers

import (
	"net/http"

	"github.com/KuldeepProzo/ProCompliance/internal/api/middleware"
	"github.com/KuldeepProzo/ProCompliance/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UserHandler struct {
	users  *services.UserService
	logger *zap.Logger
}

func NewUserHandler(users *services.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger.With(zap.String("handler", "user")),
	}
}

func (uh *UserHandler) List(c *gin.Context) {
	p := middleware.Principal(c)
	users, err := uh.users.List(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		catIDs := make([]uint, 0, len(u.Categories))
		for _, cat := range u.Categories {
			catIDs = append(catIDs, cat.ID)
		}
		out = append(out, gin.H{
			"id":         u.ID,
			"email":      u.Email,
			"name":       u.Name,
			"role":       u.Role,
			"categories": catIDs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// People lists the display names offered for maker and checker pickers.
func (uh *UserHandler) People(c *gin.Context) {
	names, err := uh.users.People(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"people": names})
}

type createUserRequest struct {
	Email       string `json:"email" binding:"required"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Password    string `json:"password"`
	CategoryIDs []uint `json:"categories"`
}

func (uh *UserHandler) Create(c *gin.Context) {
	p := middleware.Principal(c)
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email required"})
		return
	}
	user, err := uh.users.Create(c.Request.Context(), p, services.UserInput{
		Email:       req.Email,
		Name:        req.Name,
		Role:        req.Role,
		Password:    req.Password,
		CategoryIDs: req.CategoryIDs,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
		"role":  user.Role,
	})
}

type updateUserRequest struct {
	Name        *string `json:"name"`
	Role        *string `json:"role"`
	Password    *string `json:"password"`
	CategoryIDs *[]uint `json:"categories"`
}

func (uh *UserHandler) Update(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	user, err := uh.users.Update(c.Request.Context(), p, id, services.UserUpdate{
		Name:        req.Name,
		Role:        req.Role,
		Password:    req.Password,
		CategoryIDs: req.CategoryIDs,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
		"role":  user.Role,
	})
}

func (uh *UserHandler) Delete(c *gin.Context) {
	p := middleware.Principal(c)
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := uh.users.Delete(c.Request.Context(), p, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
