package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity headers injected by the API gateway after it has verified the JWT.
const (
	UserIDHeader    = "X-User-ID"
	UserEmailHeader = "X-User-Email"

	UserIDKey    = "userID"
	UserEmailKey = "userEmail"
)

// AuthMiddleware rejects requests without a gateway-injected user id.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(UserIDKey, userID)
		c.Set(UserEmailKey, c.GetHeader(UserEmailHeader))
		c.Next()
	}
}

func GetUserID(c *gin.Context) (string, error) {
	if id := c.GetString(UserIDKey); id != "" {
		return id, nil
	}
	return "", errors.New("user ID not found in context")
}

// GetUserEmail returns the caller's email, or "" when the gateway did not send one.
func GetUserEmail(c *gin.Context) string {
	return c.GetString(UserEmailKey)
}
