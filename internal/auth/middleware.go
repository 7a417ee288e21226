package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TotemAuth enforces bearer JWT tokens signed with HS256 on capture routes.
func TotemAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid totem credential"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}
