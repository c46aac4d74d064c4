package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/hotplug/internal/apierrors"
)

// ErrorHandler writes the response for handlers that aborted with c.Error.
// The last error decides the code; its text is only logged.
func ErrorHandler(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		code := apierrors.CodeFor(err)

		logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"code", code,
			"error", err,
		)
		if c.Writer.Written() {
			return
		}
		apierrors.Error(c, code)
	}
}
