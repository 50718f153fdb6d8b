package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmonster013/ecommerce-microservice-sub008/config"
	"github.com/hmonster013/ecommerce-microservice-sub008/identity"
)

func newLimitedEngine(burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(config.RateLimit{RequestsPerMinute: 60, Burst: burst})

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/api/order-service/orders", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRateLimit_BurstThenThrottled(t *testing.T) {
	r := newLimitedEngine(3)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/order-service/orders", nil))
		require.Equal(t, http.StatusOK, w.Code, "request %d inside burst", i)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/order-service/orders", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestRateLimit_BucketsPerPrincipal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(config.RateLimit{RequestsPerMinute: 60, Burst: 1})

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if raw := c.GetHeader("X-Test-User"); raw != "" {
			c.Request = c.Request.WithContext(identity.WithPrincipal(
				c.Request.Context(),
				identity.Principal{UserID: int64(raw[0]), Username: string(raw)},
			))
		}
	})
	r.Use(rl.Middleware())
	r.GET("/api/order-service/orders", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	hit := func(user string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/order-service/orders", nil)
		req.Header.Set("X-Test-User", user)
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, hit("a"))
	assert.Equal(t, http.StatusTooManyRequests, hit("a"))
	// A different principal keeps its own bucket.
	assert.Equal(t, http.StatusOK, hit("b"))
}

func TestRoutePrefix(t *testing.T) {
	assert.Equal(t, "/api/order-service", routePrefix("/api/order-service/orders/42"))
	assert.Equal(t, "/api/order-service", routePrefix("/api/order-service"))
	assert.Equal(t, "/health", routePrefix("/health"))
}
