package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		ok, remaining, _ := rl.allow("1.2.3.4", now.Add(time.Duration(i)*time.Second))
		require.True(t, ok, "request %d should be allowed", i+1)
		assert.Equal(t, 2-i, remaining)
	}

	ok, remaining, reset := rl.allow("1.2.3.4", now.Add(3*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, now.Add(time.Minute), reset)
}

func TestAllowWindowSlides(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	ok, _, _ := rl.allow("1.2.3.4", now)
	require.True(t, ok)
	ok, _, _ = rl.allow("1.2.3.4", now.Add(30*time.Second))
	require.True(t, ok)
	ok, _, _ = rl.allow("1.2.3.4", now.Add(40*time.Second))
	require.False(t, ok)

	// The first request expires out of the window after a minute.
	ok, remaining, _ := rl.allow("1.2.3.4", now.Add(61*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 0, remaining)
}

func TestAllowIsolatesIPs(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	ok, _, _ := rl.allow("1.2.3.4", now)
	require.True(t, ok)
	ok, _, _ = rl.allow("1.2.3.4", now.Add(time.Second))
	require.False(t, ok)

	ok, _, _ = rl.allow("5.6.7.8", now.Add(time.Second))
	assert.True(t, ok)
}

func TestMiddlewareHeadersAnd429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(2, time.Minute).Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "9.9.9.9:1234"
		r.ServeHTTP(w, req)
		return w
	}

	w := get()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	get()
	w = get()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
	assert.Contains(t, w.Body.String(), "retryAfter")
}
