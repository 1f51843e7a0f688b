package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	awspkg "github.com/ticketchief/backend/pkg/aws"
)

// MetricsMiddleware records request count, latency and error class per route.
// Routes are reported by their template (/api/orders/:orderId) so order ids
// and correlation ids do not become dimensions.
func MetricsMiddleware(metricsClient *awspkg.MetricsClient, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !metricsClient.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		dimensions := map[string]string{
			"Service": serviceName,
			"Method":  c.Request.Method,
			"Route":   route,
			"Status":  statusClass(status),
		}

		ctx := c.Request.Context()
		metricsClient.RecordCount(ctx, awspkg.MetricHTTPRequests, dimensions)
		metricsClient.RecordLatency(ctx, awspkg.MetricHTTPLatency, time.Since(start), dimensions)
		switch {
		case status >= 500:
			metricsClient.RecordCount(ctx, awspkg.MetricHTTPErrors, dimensions)
			metricsClient.RecordCount(ctx, awspkg.MetricHTTP5xx, dimensions)
		case status >= 400:
			metricsClient.RecordCount(ctx, awspkg.MetricHTTPErrors, dimensions)
			metricsClient.RecordCount(ctx, awspkg.MetricHTTP4xx, dimensions)
		}
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
