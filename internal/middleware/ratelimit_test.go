package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presencepro/platform/internal/gateway"
	"github.com/presencepro/platform/pkg/config"
)

func rateLimitRouter(t *testing.T, cfg config.RateLimitConfig) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	r := gin.New()
	r.Use(RateLimit(gateway.NewRateLimiter(client, cfg), nil))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	return r, mr
}

func doPing(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("User-Agent", "test-agent")
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitReturns429WithRetryAfterOnBurst(t *testing.T) {
	r, _ := rateLimitRouter(t, config.RateLimitConfig{Enabled: true, PerMinute: 100, Burst: 2})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, doPing(r).Code, "request %d should pass", i)
	}

	w := doPing(r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}

func TestRateLimitReturns429WithRetryAfterOnMinuteBudget(t *testing.T) {
	r, _ := rateLimitRouter(t, config.RateLimitConfig{Enabled: true, PerMinute: 1, Burst: 100})

	require.Equal(t, http.StatusOK, doPing(r).Code)

	w := doPing(r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestRateLimitFailsOpenOnStoreOutage(t *testing.T) {
	r, mr := rateLimitRouter(t, config.RateLimitConfig{Enabled: true, PerMinute: 1, Burst: 1})
	mr.Close()

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doPing(r).Code)
	}
}
