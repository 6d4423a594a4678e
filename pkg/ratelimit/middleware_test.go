package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"waterbar/internal/config"
)

func TestFromConfig(t *testing.T) {
	got := FromConfig(config.RateLimitConfig{RPS: 2, CleanupInterval: 30})
	assert.Equal(t, 2.0, got.RPS)
	assert.Equal(t, 20, got.Burst)
	assert.Equal(t, 30*time.Second, got.CleanupInterval)
	assert.Equal(t, 10*time.Minute, got.MaxAge)
}

func TestPerClientAllow(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := NewPerClient(RateLimitConfig{RPS: 1, Burst: 2, MaxAge: time.Minute})
	p.now = func() time.Time { return now }

	ok, remaining := p.Allow("10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	ok, _ = p.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, remaining = p.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 0, remaining)

	// other clients have their own bucket
	ok, _ = p.Allow("10.0.0.2")
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, _ = p.Allow("10.0.0.1")
	assert.True(t, ok)
}

func TestPerClientSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := NewPerClient(RateLimitConfig{RPS: 1, Burst: 1, MaxAge: time.Minute})
	p.now = func() time.Time { return now }

	p.Allow("a")
	now = now.Add(30 * time.Second)
	p.Allow("b")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, p.Sweep())
	assert.Len(t, p.limiters, 1)
	assert.Contains(t, p.limiters, "b")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(NewPerClient(RateLimitConfig{RPS: 0.001, Burst: 1, MaxAge: time.Minute})))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "RATE_LIMIT_EXCEEDED")
}
