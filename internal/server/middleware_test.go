package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbonledger/internal/auth"
	"carbonledger/internal/logger"
	"carbonledger/internal/ratelimit"
)

func TestMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MetricsMiddleware())

	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestLoggingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger.Setup(logger.Options{Output: &buf})
	t.Cleanup(logger.Init)

	router := gin.New()
	router.Use(RequestIDMiddleware(), RequestLoggingMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "boom"})
	})

	req := httptest.NewRequest("GET", "/test?x=1", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"path":"/test?x=1"`)
	assert.Contains(t, out, `"request_id":"req-123"`)
}

func TestRequestIDMiddleware_Generates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(requestIDKey))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	id := w.Header().Get(requestIDHeader)
	require.NotEmpty(t, id)
	assert.Equal(t, id, w.Body.String())
}

func TestRateLimitMiddleware_PerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := ratelimit.NewMemory(0.001, 2, time.Minute)
	defer limiter.Close()

	router := gin.New()
	router.Use(auth.AuthMiddleware("test-secret"))
	router.POST("/payments", RateLimitMiddleware(limiter, "purchase"), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	send := func(userID string) int {
		token, err := auth.GenerateAccessToken(userID, "", auth.RoleUser, "test-secret", 0)
		require.NoError(t, err)
		req := httptest.NewRequest("POST", "/payments", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, send("user-1"))
	assert.Equal(t, http.StatusCreated, send("user-1"))
	assert.Equal(t, http.StatusTooManyRequests, send("user-1"))
	// buckets are per user
	assert.Equal(t, http.StatusCreated, send("user-2"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}
func (failingLimiter) Close() error { return nil }

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhooks/:processor", RateLimitMiddleware(failingLimiter{}, "webhook"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/webhooks/card-sandbox", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCorsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware())

	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestCorsMiddleware_OPTIONS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware())

	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest("OPTIONS", "/test", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
