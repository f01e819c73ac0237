package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// FixedWindowLimiter limits requests per key (caller IP) over a fixed
// window. The table is process-wide and shared by every proxied endpoint;
// check-then-increment happens under one lock so concurrent requests from
// the same IP contend on the same counter.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	limit   int
	window  time.Duration
	now     func() time.Time
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		entries: make(map[string]*windowEntry),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	go l.cleanup()
	return l
}

// Allow records a request for key and reports whether it is within the
// limit. The first request after a window elapses resets the counter.
func (l *FixedWindowLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e := l.entries[key]
	if e == nil || now.After(e.resetAt) {
		l.entries[key] = &windowEntry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if e.count >= l.limit {
		return false
	}
	e.count++
	return true
}

func (l *FixedWindowLimiter) cleanup() {
	tick := time.NewTicker(time.Minute)
	for range tick.C {
		l.mu.Lock()
		now := l.now()
		for k, e := range l.entries {
			if now.After(e.resetAt) {
				delete(l.entries, k)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimit returns a middleware that limits by client IP and responds with
// the uniform {error, code} shape on rejection.
func RateLimit(limiter *FixedWindowLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
