package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RateLimit 返回一个 Gin 中间件，按客户端 IP 做固定窗口限流。
// keyPrefix: Redis key 前缀，与在线状态数据共用同一个命名空间。
// maxRequests: 在指定时间窗口内允许的最大请求数。
// window: 速率限制的时间窗口。
// Redis 不可用时放行请求，只记录警告。
func RateLimit(redisClient *redis.Client, keyPrefix string, maxRequests int, window time.Duration) gin.HandlerFunc {
	if redisClient == nil {
		panic("Redis client cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 {
		panic("maxRequests must be positive for RateLimit middleware")
	}
	if window <= 0 {
		panic("window duration must be positive for RateLimit middleware")
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := keyPrefix + "ratelimit:" + c.ClientIP()

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			logrus.WithError(err).Warn("RateLimit: Redis unavailable, allowing request")
			c.Next()
			return
		}
		if count == 1 {
			// 窗口内第一次请求时设置过期时间
			if err := redisClient.Expire(ctx, key, window).Err(); err != nil {
				logrus.WithError(err).Warn("RateLimit: Failed to set window expiry")
			}
		}

		remaining := int64(maxRequests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(maxRequests) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
