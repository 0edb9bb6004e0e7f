// Package middleware provides gin middleware shared by the API routes.
package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// PerDeviceRateLimit limits requests per device id, keyed by the deviceID
// route parameter. Used on the push endpoint so a runaway integration
// cannot flood a device's display.
func PerDeviceRateLimit(r rate.Limit, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		deviceID := c.Param("deviceID")

		mu.Lock()
		limiter, ok := limiters[deviceID]
		if !ok {
			limiter = rate.NewLimiter(r, burst)
			limiters[deviceID] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
