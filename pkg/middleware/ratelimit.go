package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/daytrading/pkg/logger"
	"github.com/wyfcoding/daytrading/pkg/ratelimit"
)

// RateLimit 按 key 限流的 Gin 中间件。
// keyFn 从请求中提取限流维度（如账户 ID、客户端 IP）；
// 限流器不可用时放行，可用性优先于限流精度。
func RateLimit(limiter ratelimit.RateLimiter, limit ratelimit.Limit, keyFn func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			c.Next()
			return
		}

		result, err := limiter.Allow(c.Request.Context(), "ratelimit:"+key, limit)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limit check failed, allowing request",
				"key", key, "error", err)
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("Retry-After", result.RetryAfter.String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
			})
			return
		}
		c.Next()
	}
}
