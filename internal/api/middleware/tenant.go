package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Tenant resolves the tenant and roles from the verified claims. Handlers
// behind it read the tenant with c.GetString("tenant_id").
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("claims")
		if !exists {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal", "detail": "Claims not found"})
			c.Abort()
			return
		}
		claims := value.(*Claims)

		tenantID := claims.tenant()
		if tenantID == "" {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Forbidden", "detail": "Tenant not found in token"})
			c.Abort()
			return
		}

		c.Set("tenant_id", tenantID)
		c.Set("roles", claims.roles())

		c.Next()
	}
}
