package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/hotplug/internal/apierrors"
	"github.com/goatkit/hotplug/internal/plugin"
	"github.com/goatkit/hotplug/internal/plugin/loader"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// HandleServerCheck runs the plugin pipeline for one request.
// POST /api/server/check
//
// Failures are left to the error middleware.
func HandleServerCheck(runner loader.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := runner.Run(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// HandlePluginLogs returns recent sandbox output, newest first.
// GET /api/server/plugins/logs?source=name&level=info&limit=100
func HandlePluginLogs(logs *plugin.LogBuffer) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultLogLimit
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "limit must be an integer")
				return
			}
			if n <= 0 {
				apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "limit must be positive")
				return
			}
			limit = min(n, maxLogLimit)
		}

		level := c.Query("level")
		switch level {
		case "", "debug", "info", "warn", "error":
		default:
			apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "level must be one of debug, info, warn, error")
			return
		}

		entries := logs.Query(c.Query("source"), level, limit)
		c.JSON(http.StatusOK, gin.H{
			"logs":  entries,
			"count": len(entries),
			"total": logs.Count(),
		})
	}
}

// HandleClearPluginLogs clears the plugin log buffer.
// DELETE /api/server/plugins/logs
func HandleClearPluginLogs(logs *plugin.LogBuffer) gin.HandlerFunc {
	return func(c *gin.Context) {
		logs.Clear()
		c.JSON(http.StatusOK, gin.H{"message": "Plugin logs cleared"})
	}
}

// HandleSources lists the configured sources.
// GET /api/server/plugins/sources
func HandleSources(settings plugin.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		sources := make([]gin.H, 0, len(settings.Sources))
		for _, s := range settings.Sources {
			sources = append(sources, gin.H{
				"name":        s.Name,
				"method":      s.Method,
				"enabled":     s.Enabled,
				"description": s.Description,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"enabled": settings.Enabled,
			"sources": sources,
		})
	}
}
