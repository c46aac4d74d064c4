package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/hotplug/internal/apierrors"
)

// RateLimiter implements a token bucket rate limiter
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	cleanup time.Duration
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	limit      float64 // max tokens (requests per window)
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		cleanup: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow checks if a request is allowed and consumes a token
func (rl *RateLimiter) Allow(key string, limit int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists {
		// limit requests per hour, refill at limit/3600 per second
		b = &bucket{
			tokens:     float64(limit),
			limit:      float64(limit),
			refillRate: float64(limit) / 3600.0,
			lastRefill: now,
		}
		rl.buckets[key] = b
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.limit {
		b.tokens = b.limit
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Remaining returns remaining tokens for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if b, exists := rl.buckets[key]; exists {
		return int(b.tokens)
	}
	return 0
}

// Run removes stale buckets periodically until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.prune()
		}
	}
}

func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.cleanup)
	for key, b := range rl.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// RateLimitByIP applies IP-based rate limiting. A limit of zero or less
// disables it.
func RateLimitByIP(rl *RateLimiter, requestsPerHour int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if requestsPerHour <= 0 {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()

		if !rl.Allow(key, requestsPerHour) {
			c.Header("X-RateLimit-Limit", strconv.Itoa(requestsPerHour))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "60")
			apierrors.Error(c, apierrors.CodeRateLimited)
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(requestsPerHour))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining(key)))
		c.Next()
	}
}
