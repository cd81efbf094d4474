package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/dto"
	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/services"
)

// TenantIDKey is the gin context key holding the authenticated tenant
const TenantIDKey = "tenant_id"

// AdminAuth requires a bearer JWT carrying a tenant_id claim
func AdminAuth(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing bearer token"})
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid token"})
			return
		}

		c.Set(TenantIDKey, claims.TenantID)
		c.Next()
	}
}

// TenantID returns the tenant set by AdminAuth
func TenantID(c *gin.Context) string {
	return c.GetString(TenantIDKey)
}
