package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const userIDKey = "userID"

// requireAuth validates the bearer token and stores the caller's user id on
// the request context.
func (h *Handler) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Missing or invalid token"})
		return
	}

	userID, err := h.authService.VerifyToken(strings.TrimSpace(token))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Missing or invalid token"})
		return
	}

	c.Set(userIDKey, userID)
	c.Next()
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// RedisRateLimit returns a fixed-window per-client limiter backed by redis.
// Redis failures fail open: an unavailable limiter never blocks generation.
func RedisRateLimit(client *redis.Client, perMinute int, logger *zap.Logger) gin.HandlerFunc {
	if client == nil || perMinute <= 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		window := time.Now().UTC().Unix() / 60
		key := fmt.Sprintf("ratelimit:generate:%s:%d", c.ClientIP(), window)

		count, err := client.Incr(c.Request.Context(), key).Result()
		if err != nil {
			logger.Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		if count == 1 {
			if err := client.Expire(c.Request.Context(), key, time.Minute).Err(); err != nil {
				logger.Warn("rate limit expire failed", zap.Error(err))
			}
		}

		if count > int64(perMinute) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded, try again shortly"})
			return
		}

		c.Next()
	}
}
