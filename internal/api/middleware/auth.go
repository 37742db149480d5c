package middleware

import (
	"net/http"
	"strings"

	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/KuldeepProzo/ProCompliance/internal/services"
	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

type AuthMiddleware struct {
	users *services.UserService
}

func NewAuthMiddleware(users *services.UserService) *AuthMiddleware {
	return &AuthMiddleware{users: users}
}

// RequireAuth validates the bearer token and loads the principal for the
// request. The principal carries the admin category allow-set so handlers
// never re-query it.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		userID, err := am.users.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		principal, err := am.users.PrincipalFor(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequireElevated allows only admins and superadmins through.
func (am *AuthMiddleware) RequireElevated() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal(c)
		if !p.IsElevated() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireSuperAdmin allows only superadmins through.
func (am *AuthMiddleware) RequireSuperAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal(c)
		if p.Role != models.RoleSuperAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Principal returns the authenticated principal set by RequireAuth.
func Principal(c *gin.Context) services.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(services.Principal); ok {
			return p
		}
	}
	return services.Principal{}
}
