package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fee-recon/pkg/logger"
	"fee-recon/pkg/response"
)

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.GetLogger().WithFields(map[string]interface{}{
					"error":      err,
					"request_id": c.GetString("request_id"),
					"path":       c.Request.URL.Path,
				}).Error("Panic recovered")
				response.InternalError(c, "Internal server error", "An unexpected error occurred")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// ErrorHandler turns errors attached with c.Error into the JSON envelope when
// the handler did not write a response itself.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			logger.GetLogger().WithError(err.Err).WithField("request_id", c.GetString("request_id")).Error("Request error")
			if c.Writer.Status() == http.StatusOK {
				response.InternalError(c, "Request failed", err.Error())
			}
		}
	}
}
