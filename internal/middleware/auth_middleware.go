package middleware

import (
	"net/http"
	"strings"

	"affiliate-ledger/internal/utils"
	"affiliate-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthRequired validates the bearer token and sets the operator subject and
// role on the gin context.
func AuthRequired(secret string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			utils.ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", "Bearer token required")
			c.Abort()
			return
		}

		if secret == "" {
			log.WithContext(c.Request.Context()).Warn("Admin API called but JWT_SECRET is not set")
			utils.UnauthorizedResponse(c)
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			log.WithContext(c.Request.Context()).LogSecurityEvent("invalid_token", "medium", map[string]interface{}{
				"client_ip": c.ClientIP(),
				"path":      c.Request.URL.Path,
			})
			utils.ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			c.Abort()
			return
		}

		c.Set("subject", claims.Subject)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// RoleRequired must run after AuthRequired.
func RoleRequired(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("role")
		if !exists {
			utils.UnauthorizedResponse(c)
			c.Abort()
			return
		}

		userRole, ok := value.(string)
		if !ok || userRole != role {
			utils.ForbiddenResponse(c)
			c.Abort()
			return
		}

		c.Next()
	}
}

// AdminRequired chains token validation with the admin role check.
func AdminRequired(secret, role string, log *logger.Logger) []gin.HandlerFunc {
	return []gin.HandlerFunc{AuthRequired(secret, log), RoleRequired(role)}
}
