package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Per-IP sliding-window rate limiter: 90 requests per rolling 60 seconds.
// Every response carries X-RateLimit-{Limit,Remaining,Reset}; exceeding the
// window yields 429 with a retryAfter hint.
//
// A background goroutine drops windows idle longer than cleanupIdleDuration
// so transient IPs do not grow the map without bound.

const (
	defaultRateLimit    = 90
	defaultRateWindow   = 60 * time.Second
	cleanupIdleDuration = 10 * time.Minute
)

type ipWindow struct {
	mu       sync.Mutex
	times    []time.Time // request timestamps inside the window, oldest first
	lastSeen time.Time
}

// RateLimiter holds per-IP sliding windows.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*ipWindow
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	rl := &RateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*ipWindow),
	}
	go rl.cleanupLoop()
	return rl
}

// allow records the request if within limits. Returns remaining quota and
// when the window resets (the oldest in-window request expiring).
func (rl *RateLimiter) allow(ip string, now time.Time) (ok bool, remaining int, reset time.Time) {
	rl.mu.Lock()
	w, found := rl.windows[ip]
	if !found {
		w = &ipWindow{}
		rl.windows[ip] = w
	}
	rl.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSeen = now

	cutoff := now.Add(-rl.window)
	keep := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	w.times = keep

	if len(w.times) >= rl.limit {
		return false, 0, w.times[0].Add(rl.window)
	}
	w.times = append(w.times, now)
	reset = w.times[0].Add(rl.window)
	return true, rl.limit - len(w.times), reset
}

// Middleware enforces the limit and stamps the rate headers on every
// response, allowed or not.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()
		ok, remaining, reset := rl.allow(c.ClientIP(), now)

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))

		if !ok {
			retryAfter := int(time.Until(reset).Seconds()) + 1
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"retryAfter": retryAfter,
			})
			return
		}
		c.Next()
	}
}

// cleanupLoop removes windows for IPs idle past cleanupIdleDuration.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for ip, w := range rl.windows {
			w.mu.Lock()
			idle := w.lastSeen.Before(cutoff)
			w.mu.Unlock()
			if idle {
				delete(rl.windows, ip)
			}
		}
		rl.mu.Unlock()
	}
}
