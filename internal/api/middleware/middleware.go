// Package middleware provides gin middleware for the daemon's HTTP surface.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentshell/termmux/internal/logging"
	"github.com/agentshell/termmux/internal/shared/id"
)

// RequestIDKey is the gin context key holding the request's id.RequestID.
const RequestIDKey = "request_id"

// RequestID tags every request with a generated id, echoes it in the
// X-Request-ID response header and writes an access log line on completion.
func RequestID(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := id.NewRequestID()
		c.Set(RequestIDKey, rid)
		c.Writer.Header().Set("X-Request-ID", rid.String())

		start := time.Now()
		c.Next()

		logger.Debug("request",
			zap.String("request_id", rid.String()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// CORS allows the desktop shell (a file:// or localhost origin) to reach the
// daemon.
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Accept",
			"Origin",
			"Cache-Control",
		},
		MaxAge: 12 * time.Hour,
	})
}

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// RateLimit creates a global rate limiting middleware. The daemon serves a
// single local shell, so per-IP buckets would be overkill.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
