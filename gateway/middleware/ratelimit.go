package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/hmonster013/ecommerce-microservice-sub008/config"
	"github.com/hmonster013/ecommerce-microservice-sub008/identity"
	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

// RateLimiter throttles per principal (or client IP for anonymous traffic)
// and route prefix. Idle buckets are evicted so the map stays bounded.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(cfg config.RateLimit) *RateLimiter {
	rl := &RateLimiter{
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:    cfg.Burst,
		ttl:      3 * time.Minute,
		visitors: make(map[string]*visitor),
	}
	go rl.cleanup()
	return rl
}

// Middleware answers 429 with a Retry-After hint when the bucket is empty.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(rl.key(c)) {
			c.Header("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			response.FailWith(c, http.StatusTooManyRequests, response.CodeRateLimitExceeded,
				"Rate limit exceeded. Please try again later.", nil)
			return
		}
		c.Next()
	}
}

// key buckets by who is calling and which service prefix they hit, so one
// hot route cannot starve a caller's traffic to the others.
func (rl *RateLimiter) key(c *gin.Context) string {
	caller := c.ClientIP()
	if p, ok := identity.Current(c.Request.Context()); ok && p.Valid() {
		caller = "u:" + strconv.FormatInt(p.UserID, 10)
	}
	return caller + "|" + routePrefix(c.Request.URL.Path)
}

func routePrefix(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) >= 2 {
		return "/" + parts[0] + "/" + parts[1]
	}
	return path
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()
	return v.limiter.Allow()
}

func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.limit <= 0 {
		return 60
	}
	secs := int(1/float64(rl.limit)) + 1
	if secs > 60 {
		secs = 60
	}
	return secs
}

func (rl *RateLimiter) cleanup() {
	for range time.Tick(time.Minute) {
		rl.mu.Lock()
		for key, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.ttl {
				delete(rl.visitors, key)
			}
		}
		rl.mu.Unlock()
	}
}
