package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/psmp-io/psmp/pkg/metrics"
)

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// requestMetrics records per-request counters and latency.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.APIRequestsTotal.WithLabelValues(
			c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(
			c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
