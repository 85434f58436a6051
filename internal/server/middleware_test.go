package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/genai-relay/internal/config"
)

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set(RequestIDHeader, "abc-123")
	w = env.do(r)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name   string
		origin string
	}{
		{"wildcard", "*"},
		{"fixed origin", "https://app.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *config.Config) { c.HTTP.CORSOrigin = tt.origin })

			r := httptest.NewRequest(http.MethodOptions, "/chat", nil)
			r.Header.Set("Origin", "https://app.example.com")
			r.Header.Set("Access-Control-Request-Method", "POST")
			r.Header.Set("Access-Control-Request-Headers", "content-type")

			w := env.do(r)
			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
			assert.Equal(t, "content-type", w.Header().Get("Access-Control-Allow-Headers"))
			assert.Empty(t, env.upstream.Requests())

			w = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimit.Max = 3
		c.RateLimit.Window = 60
	})

	for i := 0; i < 3; i++ {
		w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retry, 0)
	assert.LessOrEqual(t, retry, 21)

	// Other clients have their own budget.
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.RemoteAddr = "198.51.100.7:5555"
	assert.Equal(t, http.StatusOK, env.do(r).Code)

	// Preflight requests are answered before the limiter.
	assert.Equal(t, http.StatusNoContent, env.do(httptest.NewRequest(http.MethodOptions, "/chat", nil)).Code)
}

func TestRateLimitDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimit.Enabled = false
		c.RateLimit.Max = 1
	})

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, env.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	}
}

func TestRateLimiterRefill(t *testing.T) {
	l := newRateLimiter(2, time.Minute)
	now := time.Now()

	ok, _ := l.allow("a", now)
	assert.True(t, ok)
	ok, _ = l.allow("a", now)
	assert.True(t, ok)

	ok, wait := l.allow("a", now)
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait.Round(time.Second))

	// A rejected request does not consume the next token.
	ok, _ = l.allow("a", now.Add(30*time.Second))
	assert.True(t, ok)
}

func TestRateLimiterPrune(t *testing.T) {
	l := newRateLimiter(5, time.Minute)
	start := time.Now()

	l.allow("a", start)
	l.allow("b", start.Add(50*time.Second))
	assert.Equal(t, 2, l.size())

	l.allow("c", start.Add(90*time.Second))
	assert.Equal(t, 2, l.size(), "a was idle for a full window")

	_, ok := l.visitors["a"]
	assert.False(t, ok)
}
