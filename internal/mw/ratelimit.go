package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP. Buckets of clients
// that stay quiet for idleTTL are evicted.
type IPRateLimiter struct {
	limiters *cache.Cache
	mu       sync.Mutex
	r        rate.Limit
	b        int
	idleTTL  time.Duration
}

// NewIPRateLimiter creates a new IPRateLimiter.
func NewIPRateLimiter(r rate.Limit, b int, idleTTL time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: cache.New(idleTTL, 2*idleTTL),
		r:        r,
		b:        b,
		idleTTL:  idleTTL,
	}
}

// GetLimiter returns the bucket for ip, creating it on first use. Every
// lookup pushes the bucket's expiry forward.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	if v, found := i.limiters.Get(ip); found {
		limiter := v.(*rate.Limiter)
		i.limiters.Set(ip, limiter, i.idleTTL)
		return limiter
	}
	limiter := rate.NewLimiter(i.r, i.b)
	i.limiters.Set(ip, limiter, i.idleTTL)
	return limiter
}

// Tracked returns the number of client IPs with a live bucket.
func (i *IPRateLimiter) Tracked() int {
	return i.limiters.ItemCount()
}

// RateLimiter is a middleware for IP-based rate limiting.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	return RateLimit(NewIPRateLimiter(r, b, 10*time.Minute))
}

// RateLimit rejects requests whose client IP has exhausted its bucket.
func RateLimit(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
