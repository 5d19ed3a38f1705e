package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const anonymousUserID = "00000000-0000-0000-0000-000000000001"

// CallerIdentity records who is calling. Identity is taken as-is from the
// X-User-ID header set by the gateway; it is never verified here.
func CallerIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if userID == "" {
			userID = anonymousUserID
		}

		c.Set("userId", userID)
		c.Set("user_id", userID)
		c.Next()
	}
}

// GetUserID retrieves the caller id from gin context
func GetUserID(c *gin.Context) string {
	if uid := c.GetString("user_id"); uid != "" {
		return uid
	}
	return c.GetString("userId")
}
