package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"auction-core/utils"

	"github.com/gin-gonic/gin"
)

// AdminTokenHeader carries the shared admin secret
const AdminTokenHeader = "X-Admin-Token"

var errAdminToken = errors.New("missing or invalid admin token")

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	utils.Info("HTTP Request", map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	})
}

// AdminTokenMiddleware rejects requests without the configured admin token.
// An empty token disables the check.
func AdminTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		got := c.GetHeader(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			utils.JSONError(c, http.StatusUnauthorized, errAdminToken, "unauthorized")
			c.Abort()
			utils.Warn("AdminTokenMiddleware: rejected request", map[string]any{
				"path":      c.Request.URL.Path,
				"client_ip": c.ClientIP(),
			})
			return
		}
		c.Next()
	}
}
