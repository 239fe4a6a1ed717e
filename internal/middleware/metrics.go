package middleware

import (
	"strconv"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records http_requests_total{method, path, status} and
// http_request_duration_seconds{method, path} for every request.
//
// The path label is the matched route template (/api/v1/members/:user_id), never the
// raw URL, so member and user ids do not become label values. Unmatched requests use
// "<no-route>".
//
// Register after RequestContextMiddleware so statuses written by the authorization gate
// are captured.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
