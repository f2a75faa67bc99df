package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OperatorAuth enforces bearer JWT tokens signed with HS256. When role is
// non-empty the token's role claim must match it ("admin" always passes).
func OperatorAuth(signingKey, issuer, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if role != "" && claims.Role != role && claims.Role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}
