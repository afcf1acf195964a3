package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"fleetgate/pkg/colors"
)

// BearerTokenMiddleware checks every request's Authorization header
// against a single operator-configured bcrypt hash. There is no user
// table here: HTTP-caller identity/authorization beyond "is this the
// operator" is external to the gateway.
func BearerTokenMiddleware(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			colors.PrintWarning("HTTP_API_TOKEN_HASH not configured, rejecting all requests")
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "API authentication not configured"})
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			colors.PrintWarning("httpapi: missing or malformed Authorization header from %s", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Bearer token required"})
			c.Abort()
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(parts[1])); err != nil {
			colors.PrintWarning("httpapi: invalid token from %s", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			c.Abort()
			return
		}

		c.Next()
	}
}
