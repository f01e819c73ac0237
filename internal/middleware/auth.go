package middleware

import (
	"net/http"
	"strings"

	"satspos/config"
	"satspos/internal/auth"

	"github.com/gin-gonic/gin"
)

// AuthRequired validates the operator JWT and sets merchant identity in the
// request context.
func AuthRequired(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		claims, err := auth.ParseToken(cfg, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set("merchant_id", claims.MerchantID)
		c.Set("merchant_name", claims.Name)
		c.Next()
	}
}
