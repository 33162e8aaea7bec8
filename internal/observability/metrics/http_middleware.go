package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// unmatchedRoute labels requests served by NoRoute, such as static assets and
// 404s, so arbitrary paths never become label values.
const unmatchedRoute = "unmatched"

// GinMiddleware records latency per registered route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ObserveHTTPRequest(c.Request.Method, routeLabel(c), c.Writer.Status(), time.Since(start))
	}
}

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}
