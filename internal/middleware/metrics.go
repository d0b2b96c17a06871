package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/academy-hub/audit-trail/internal/telemetry"
)

// probePaths are polled by orchestrators every few seconds and would dominate the
// request histogram, so they are not recorded.
var probePaths = map[string]bool{
	"/health": true,
	"/ready":  true,
}

// MetricsMiddleware records http_requests_total and http_request_duration_seconds for
// every request that passes through the router.
//
// The path label is the matched Gin route template (e.g. /api/v1/audit/logs/:id) rather
// than the raw URL, so record ids never become label values. Requests that match no
// route use the literal "<no-route>".
//
// Register it after gin.Recovery() and RequestIDMiddleware so statuses written by
// error handlers are captured.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		if probePaths[path] {
			return
		}

		method := c.Request.Method
		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
