package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"carbonledger/internal/api"
	"carbonledger/internal/auth"
	"carbonledger/internal/logger"
	"carbonledger/internal/metrics"
	"carbonledger/internal/ratelimit"
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start).Seconds(),
		)
	}
}

// RateLimitMiddleware limits action per caller: the authenticated user, or
// the processor for webhooks. Limiter errors let the request through.
func RateLimitMiddleware(limiter ratelimit.Limiter, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		caller, ok := auth.GetUserID(c)
		if !ok {
			if p := c.Param("processor"); p != "" {
				caller = "processor:" + p
			} else {
				caller = "ip:" + c.ClientIP()
			}
		}

		allowed, err := limiter.Allow(c.Request.Context(), ratelimit.Key(caller, action))
		if err != nil {
			logger.Warn("rate limiter unavailable", "action", action, "error", err)
			c.Next()
			return
		}
		if !allowed {
			metrics.RecordRateLimited(action)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, api.ErrorResponse{Error: "Too many requests"})
			return
		}

		c.Next()
	}
}
