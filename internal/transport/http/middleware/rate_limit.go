package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"openlegalrag/internal/cache"
	"openlegalrag/internal/pkg/logger"
	"openlegalrag/internal/transport/http/response"
)

const moduleRateLimit = "http.ratelimit"

// RateLimit counts requests per authenticated client, or per remote address
// when auth is off. A failing counter store lets the request through.
func RateLimit(limiter *cache.Limiter, log logger.ILogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.ClientIP()
		if name := c.GetString(ContextClientKey); name != "" {
			client = name
		}

		ok, err := limiter.Allow(c.Request.Context(), client)
		if err != nil {
			log.Warn(moduleRateLimit, "rate limit store unavailable", map[string]interface{}{
				"path":  c.FullPath(),
				"error": err,
			})
			c.Next()
			return
		}
		if !ok {
			response.Error(c, http.StatusTooManyRequests, response.CodeTooManyRequests,
				fmt.Sprintf("Rate limit exceeded (%s)", limiter.Limit()))
			c.Abort()
			return
		}
		c.Next()
	}
}
