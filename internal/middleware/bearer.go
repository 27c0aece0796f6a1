package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const bearerTokenKey = "bearerToken"

// RequireBearer rejects requests without an "Authorization: Bearer <token>"
// header and stores the token for handlers.
func RequireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := parseBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "Unauthenticated.",
			})
			return
		}

		c.Set(bearerTokenKey, token)
		c.Next()
	}
}

// BearerToken returns the token stored by RequireBearer, or "".
func BearerToken(c *gin.Context) string {
	return c.GetString(bearerTokenKey)
}

func parseBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
