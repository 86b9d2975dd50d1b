package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/yungbote/sceneforge-backend/internal/handlers"
	"github.com/yungbote/sceneforge-backend/internal/logger"
)

// RateLimiter keeps one token bucket per client IP. Internal callers
// (loopback, private ranges, or the X-Internal-Request header) bypass it.
type RateLimiter struct {
	log *logger.Logger

	mu      sync.Mutex
	buckets map[string]*clientBucket

	limit rate.Limit
	burst int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter spreads maxRequests evenly over the window. Stale
// buckets are pruned in the background.
func NewRateLimiter(maxRequests int, window time.Duration, baseLog *logger.Logger) *RateLimiter {
	rl := &RateLimiter{
		log:     baseLog.With("middleware", "RateLimiter"),
		buckets: make(map[string]*clientBucket),
		limit:   rate.Limit(float64(maxRequests) / window.Seconds()),
		burst:   maxRequests,
	}
	go rl.prune(window)
	return rl
}

func (rl *RateLimiter) prune(window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-2 * window)
		rl.mu.Lock()
		for ip, b := range rl.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isInternalRequest(c) {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if !rl.allow(ip) {
			rl.log.Warn("rate limit exceeded", "ip", ip, "path", c.FullPath())
			handlers.RespondError(c, http.StatusTooManyRequests, "rate_limited",
				fmt.Errorf("too many requests"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func isInternalRequest(c *gin.Context) bool {
	if strings.EqualFold(c.GetHeader("X-Internal-Request"), "true") {
		return true
	}
	ip := net.ParseIP(c.ClientIP())
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
