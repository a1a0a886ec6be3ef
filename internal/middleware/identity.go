package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/recall/internal/pkg/errcode"
	"github.com/xxxsen/recall/internal/pkg/response"
)

// Identity reads the caller identity set by the fronting gateway. Every
// protected route requires it; there is no anonymous read path.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			response.Error(c, errcode.ErrUnauthorized, "missing user identity")
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}
