package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"radar-backend/internal/shared/server/respond"
)

// ClassWrite is the rate class of mutating requests.
const ClassWrite = "write"

// RateLimitRule is a token bucket: Rate tokens per second, up to Burst.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

// RateLimiter keeps one token bucket per tenant and rate class. Classes without a
// rule are unlimited.
type RateLimiter struct {
	rules map[string]RateLimitRule
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewRateLimiter(rules map[string]RateLimitRule, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{rules: rules, now: now, buckets: make(map[string]*rate.Limiter)}
}

// ClassifyWrites puts POST, PUT, PATCH and DELETE in ClassWrite and leaves reads
// unclassified.
func ClassifyWrites(c *gin.Context) string {
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return ClassWrite
	}
	return ""
}

// Middleware limits each tenant per class, falling back to the client IP when the
// Tenant middleware has not run. Rejections get 429 with Retry-After in whole seconds.
func (l *RateLimiter) Middleware(classify func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		class := classify(c)
		principal := TenantIDFromContext(c)
		if principal == "" {
			principal = c.ClientIP()
		}
		ok, wait := l.Allow(principal, class)
		if ok {
			c.Next()
			return
		}
		if wait <= 0 {
			wait = time.Second
		}
		c.Header("Retry-After", strconv.Itoa(int((wait+time.Second-1)/time.Second)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{
				"code":         respond.CodeRateLimited,
				"message":      "too many requests",
				"retryAfterMs": wait.Milliseconds(),
			},
		})
	}
}

// Allow takes a token from principal's bucket for class, or reports how long until
// one is available.
func (l *RateLimiter) Allow(principal, class string) (bool, time.Duration) {
	rule, limited := l.rules[class]
	if !limited || rule.Rate <= 0 || rule.Burst <= 0 {
		return true, 0
	}
	key := class + "|" + principal
	l.mu.Lock()
	bucket := l.buckets[key]
	if bucket == nil {
		bucket = rate.NewLimiter(rate.Limit(rule.Rate), rule.Burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	now := l.now()
	r := bucket.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}
