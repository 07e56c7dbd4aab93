// Package ratelimit enforces per-tool, per-caller sliding-window quotas.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	gwerrors "vita/internal/errors"
)

const (
	// DefaultWindow is the trailing duration a quota applies to.
	DefaultWindow = time.Minute
	// DefaultMaxPerWindow is the per-tool-per-caller quota when a tool does
	// not configure its own.
	DefaultMaxPerWindow = 60
	// defaultMaxEntries bounds the number of live (tool, caller) windows.
	// Idle windows expire from the LRU, so sustained load from many distinct
	// callers cannot grow the store without bound.
	defaultMaxEntries = 16384
)

// Config tunes the limiter. Zero values fall back to the defaults above.
type Config struct {
	Window       time.Duration
	MaxPerWindow int
	MaxEntries   int
}

// window holds the request timestamps for one (tool, caller) pair within the
// trailing window. Own lock so pruning one pair never blocks another.
type window struct {
	mu     sync.Mutex
	stamps []time.Time
}

// Limiter tracks sliding windows keyed by (tool, caller). Two callers never
// interfere with each other's quota for the same tool.
type Limiter struct {
	mu           sync.Mutex // guards windows lookups paired with inserts
	windows      *expirable.LRU[string, *window]
	windowLength time.Duration
	maxPerWindow int
	now          func() time.Time
}

// New builds a limiter.
func New(cfg Config) *Limiter {
	length := cfg.Window
	if length <= 0 {
		length = DefaultWindow
	}
	max := cfg.MaxPerWindow
	if max <= 0 {
		max = DefaultMaxPerWindow
	}
	entries := cfg.MaxEntries
	if entries <= 0 {
		entries = defaultMaxEntries
	}
	return &Limiter{
		// TTL of two windows: an entry idle that long holds no live stamps.
		windows:      expirable.NewLRU[string, *window](entries, nil, 2*length),
		windowLength: length,
		maxPerWindow: max,
		now:          time.Now,
	}
}

// CheckAndRecord prunes stale entries for the caller's window, rejects with
// RateLimitExceeded when the remaining count has reached the quota, and
// otherwise records the attempt. maxOverride replaces the default quota when
// > 0 (a tool's own max-requests-per-minute).
func (l *Limiter) CheckAndRecord(toolName, caller string, maxOverride int) error {
	limit := l.maxPerWindow
	if maxOverride > 0 {
		limit = maxOverride
	}

	key := toolName + "\x00" + caller
	win := l.getOrCreate(key)

	now := l.now()
	cutoff := now.Add(-l.windowLength)

	win.mu.Lock()
	defer win.mu.Unlock()

	kept := win.stamps[:0]
	for _, stamp := range win.stamps {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	win.stamps = kept

	if len(win.stamps) >= limit {
		return gwerrors.NewRateLimitExceeded(toolName, caller, l.windowLength)
	}
	win.stamps = append(win.stamps, now)
	// Re-add to refresh the entry TTL so active pairs never lose history.
	l.mu.Lock()
	l.windows.Add(key, win)
	l.mu.Unlock()
	return nil
}

// getOrCreate returns the live window for key, inserting a fresh one under
// the limiter lock so concurrent first calls for the same pair always share
// a single window and a single stamp list.
func (l *Limiter) getOrCreate(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	if win, ok := l.windows.Get(key); ok {
		return win
	}
	win := &window{}
	l.windows.Add(key, win)
	return win
}

// Window returns the trailing duration quotas apply to.
func (l *Limiter) Window() time.Duration {
	return l.windowLength
}

// Pairs returns the number of live (tool, caller) windows. Used by health
// reporting and tests.
func (l *Limiter) Pairs() int {
	return l.windows.Len()
}
