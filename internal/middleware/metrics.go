package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aularis/lms-api/internal/service"
)

// Metrics observes every request into the Prometheus collectors. Routes
// are labelled by pattern, not by raw URL, to keep cardinality bounded.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
