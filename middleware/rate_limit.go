package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/portfolio-site/projectstats/utils"
)

// sweepEvery is how many Allow calls pass between sweeps of expired keys. Each call adds at most one
// key, so the table never holds more than the live keys plus sweepEvery stale ones.
const sweepEvery = 128

type windowEntry struct {
	count     int
	lastReset time.Time
}

// WindowLimiter allows at most max requests per key in a fixed window that restarts on the first
// request after the previous window has elapsed. State is process-local.
type WindowLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time
	sweep  rate.Sometimes

	mu      sync.Mutex
	entries map[string]*windowEntry
}

// NewWindowLimiter creates a limiter of max requests per window.
func NewWindowLimiter(max int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		max:     max,
		window:  window,
		now:     time.Now,
		sweep:   rate.Sometimes{Every: sweepEvery},
		entries: map[string]*windowEntry{},
	}
}

// Allow counts a request for key. When the limit is exceeded it returns false and the time left
// until the key's window resets.
func (l *WindowLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep.Do(func() { l.cleanupExpiredLocked(now) })

	e, ok := l.entries[key]
	if !ok {
		e = &windowEntry{lastReset: now}
		l.entries[key] = e
	}
	if now.Sub(e.lastReset) > l.window {
		e.count = 1
		e.lastReset = now
	} else {
		e.count++
	}

	if e.count > l.max {
		return false, e.lastReset.Add(l.window).Sub(now)
	}
	return true, 0
}

// Len reports how many keys are tracked.
func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *WindowLimiter) cleanupExpiredLocked(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.lastReset) > l.window {
			delete(l.entries, key)
		}
	}
}

// RateLimitMiddleware rejects requests over the limiter's budget with 429 and a Retry-After hint.
func RateLimitMiddleware(l *WindowLimiter) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		key := RequestSourceKey(ctx)
		allowed, retryAfter := l.Allow(key)
		if !allowed {
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			utils.Sugar.Warnw("rate limit exceeded",
				"key", key,
				"path", ctx.Request.URL.Path,
				"retry_after", secs,
				"request_id", GetRequestID(ctx),
			)
			ctx.Header("Retry-After", strconv.Itoa(secs))
			utils.Error(ctx, http.StatusTooManyRequests, 42901, "Too many requests. Please try again later.")
			return
		}
		ctx.Next()
	}
}
