package apiserver

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// requestID attaches a request identifier, honoring one supplied by the
// caller, so log lines across the turn can be correlated.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// rateLimiter enforces a per-client-IP token bucket. Limiters are held in a
// bounded LRU so an address churn attack cannot grow memory without bound.
type rateLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

const maxTrackedClients = 16384

func newRateLimiter(perMinute, burst int) *rateLimiter {
	cache, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return &rateLimiter{
		limiters: cache,
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (r *rateLimiter) allow(clientIP string) bool {
	r.mu.Lock()
	lim, ok := r.limiters.Get(clientIP)
	if !ok {
		lim = rate.NewLimiter(r.limit, r.burst)
		r.limiters.Add(clientIP, lim)
	}
	r.mu.Unlock()
	return lim.Allow()
}

func (r *rateLimiter) middleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !r.allow(ip) {
			logger.Warn("rate limit exceeded", zap.String("client_ip", ip))
			writeError(c, http.StatusTooManyRequests, "RATE_LIMITED",
				"too many requests from this client", typeRateLimit)
			c.Abort()
			return
		}
		c.Next()
	}
}
