package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestFixedWindowLimiter(t *testing.T) {
	l := NewFixedWindowLimiter(60, time.Minute)
	for i := 0; i < 60; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d", i+1)
	}
	assert.False(t, l.Allow("1.2.3.4"), "61st request in window")
	// other callers are unaffected
	assert.True(t, l.Allow("5.6.7.8"))
}

func TestFixedWindowLimiterReset(t *testing.T) {
	current := time.Now()
	l := NewFixedWindowLimiter(2, time.Minute)
	l.now = func() time.Time { return current }

	assert.True(t, l.Allow("ip"))
	assert.True(t, l.Allow("ip"))
	assert.False(t, l.Allow("ip"))

	current = current.Add(61 * time.Second)
	assert.True(t, l.Allow("ip"), "counter resets after the window elapses")
	assert.True(t, l.Allow("ip"))
	assert.False(t, l.Allow("ip"))
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(NewFixedWindowLimiter(1, time.Minute)))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"Too many requests","code":"RATE_LIMITED"}`, w.Body.String())
}
