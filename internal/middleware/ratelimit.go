package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/supauth/supauth/pkg/errors"
	"github.com/supauth/supauth/pkg/response"
)

type rateCounter struct {
	count     int
	windowEnd time.Time
}

// MemoryRateLimiter limits requests per (clientIP, route) within a fixed
// window. This is the outer HTTP backstop; per-user action limits are
// enforced separately against the database. In-memory, so suitable for
// single-instance deployments and tests.
type MemoryRateLimiter struct {
	maxRequests int
	window      time.Duration

	mu   sync.Mutex
	data map[string]*rateCounter

	done chan struct{}
	once sync.Once
}

// NewMemoryRateLimiter constructs a limiter and starts its janitor, which
// drops stale counters to keep the map bounded. Call Stop when the limiter
// is no longer needed.
func NewMemoryRateLimiter(maxRequests int, window time.Duration) *MemoryRateLimiter {
	l := &MemoryRateLimiter{
		maxRequests: maxRequests,
		window:      window,
		data:        make(map[string]*rateCounter),
		done:        make(chan struct{}),
	}

	if maxRequests > 0 && window > 0 {
		go l.janitor()
	}
	return l
}

// Stop terminates the janitor goroutine. Safe to call more than once.
func (l *MemoryRateLimiter) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

func (l *MemoryRateLimiter) janitor() {
	tick := time.NewTicker(l.window)
	defer tick.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-tick.C:
			now := time.Now()
			l.mu.Lock()
			for k, v := range l.data {
				if now.After(v.windowEnd) {
					delete(l.data, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Handler returns the gin middleware enforcing the limit.
func (l *MemoryRateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.maxRequests <= 0 || l.window <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP() + "|" + c.FullPath()
		now := time.Now()

		l.mu.Lock()
		ct, ok := l.data[key]
		if !ok || now.After(ct.windowEnd) {
			ct = &rateCounter{windowEnd: now.Add(l.window)}
			l.data[key] = ct
		}
		ct.count++
		count := ct.count
		resetIn := time.Until(ct.windowEnd)
		l.mu.Unlock()

		remaining := l.maxRequests - count
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(l.maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > l.maxRequests {
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}

// RateLimit is a convenience wrapper for a process-lifetime limiter.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	return NewMemoryRateLimiter(maxRequests, window).Handler()
}
