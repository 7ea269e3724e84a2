package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/datht30102002/keygate/internal/config"
	"github.com/datht30102002/keygate/internal/ratelimit"
	"github.com/datht30102002/keygate/internal/storage"
	"github.com/gin-gonic/gin"
)

// RateLimit limits requests per client IP. It sits in front of the API key
// guard on the validation endpoint so unauthenticated probing is throttled
// before any lookup happens.
func RateLimit(redis *storage.RedisClient, cfg *config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	limiter := ratelimit.NewLimiter(redis, cfg.Algorithm, cfg.RequestsPerMinute, time.Minute)

	return func(c *gin.Context) {
		key := c.ClientIP()

		ctx := c.Request.Context()
		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Rate limit check failed",
			})
			c.Abort()
			return
		}

		remaining, _ := limiter.Remaining(ctx, key)
		resetTime, _ := limiter.Reset(ctx, key)

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.Limit()))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime.Unix()))

		if !allowed {
			retryAfter := int(time.Until(resetTime).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"limit":       limiter.Limit(),
				"retry_after": resetTime.Unix(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
