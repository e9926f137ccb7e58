package middleware

import (
	"strconv"
	"time"

	"tradegate/internal/metrics"

	"github.com/gin-gonic/gin"
)

func HttpMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			// pages are served from NoRoute; keep label cardinality bounded
			path = "page"
		}
		metrics.HTTPDuration.WithLabelValues(path, c.Request.Method, status).Observe(duration)
	}
}
