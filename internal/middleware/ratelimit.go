package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
)

// InMemoryRateLimiter limits requests per key (e.g. IP or user ID) over a
// sliding window.
type InMemoryRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	clock    quartz.Clock
}

func NewInMemoryRateLimiter(limit int, window time.Duration, clock quartz.Clock) *InMemoryRateLimiter {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &InMemoryRateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		clock:    clock,
	}
}

// Allow records a request for key. A limit of zero or less allows everything.
func (r *InMemoryRateLimiter) Allow(key string) bool {
	if r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	valid := r.prune(r.requests[key], now)
	if len(valid) >= r.limit {
		r.requests[key] = valid
		return false
	}
	r.requests[key] = append(valid, now)
	return true
}

// Run drops idle keys every window until ctx is done.
func (r *InMemoryRateLimiter) Run(ctx context.Context) {
	tick := r.clock.NewTicker(r.window)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			r.cleanup()
		}
	}
}

func (r *InMemoryRateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for k, times := range r.requests {
		if valid := r.prune(times, now); len(valid) == 0 {
			delete(r.requests, k)
		} else {
			r.requests[k] = valid
		}
	}
}

// Keys returns the number of tracked clients.
func (r *InMemoryRateLimiter) Keys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *InMemoryRateLimiter) prune(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	var valid []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}

// RateLimit returns a middleware that limits by client IP.
func RateLimit(limiter *InMemoryRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !limiter.Allow(key) {
			c.Header("Retry-After", strconv.Itoa(int(limiter.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
