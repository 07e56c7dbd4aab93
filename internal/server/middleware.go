package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// callerHeader identifies the end user a request runs on behalf of. Distinct
// from transport throttling: the dispatcher applies per-tool quotas to this
// identity.
const callerHeader = "X-Caller-ID"

const callerContextKey = "vita.caller"

// callerMiddleware resolves the caller identity from the header, falling
// back to the client IP.
func callerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := strings.TrimSpace(c.GetHeader(callerHeader))
		if caller == "" {
			caller = "ip:" + c.ClientIP()
		}
		c.Set(callerContextKey, caller)
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	return c.GetString(callerContextKey)
}

// throttle keeps one token bucket per client key, dropping buckets idle
// past the TTL so the map stays bounded.
type throttle struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	entries     map[string]*throttleEntry
	entryTTL    time.Duration
	lastCleanup time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newThrottle(perSec float64, burst int) *throttle {
	return &throttle{
		limit:       rate.Limit(perSec),
		burst:       burst,
		entries:     make(map[string]*throttleEntry),
		entryTTL:    15 * time.Minute,
		lastCleanup: time.Now(),
	}
}

func (t *throttle) allow(key string) bool {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastCleanup) >= t.entryTTL {
		for k, entry := range t.entries {
			if now.Sub(entry.lastSeen) > t.entryTTL {
				delete(t.entries, k)
			}
		}
		t.lastCleanup = now
	}

	entry, ok := t.entries[key]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// throttleMiddleware bounds raw request volume per caller before any
// handler runs. Disabled when perSec or burst is not positive.
func throttleMiddleware(perSec float64, burst int) gin.HandlerFunc {
	if perSec <= 0 || burst <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := newThrottle(perSec, burst)
	return func(c *gin.Context) {
		if !limiter.allow(callerID(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
			})
			return
		}
		c.Next()
	}
}
