// Package session tracks per-caller activity windows for idle reclamation.
package session

import (
	"sync"
	"time"

	"vita/internal/async"
	"vita/internal/logging"
)

const (
	// DefaultIdleTimeout is how long a session may sit untouched before the
	// sweep reclaims it.
	DefaultIdleTimeout = 24 * time.Hour
	// DefaultSweepInterval is the period of the background sweep.
	DefaultSweepInterval = 5 * time.Minute
)

// Session is a caller-scoped activity record. Owned exclusively by the
// Tracker; callers receive copies.
type Session struct {
	ID           string    `json:"id"`
	CallerID     string    `json:"caller_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
	CallCount    int64     `json:"call_count"`
}

// TrackerConfig tunes idle reclamation. Zero values use the defaults.
type TrackerConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// MaxPerCaller is an advisory cap on live sessions per caller;
	// exceeding it logs a warning. Zero disables the check.
	MaxPerCaller int
}

// Tracker owns the session table. Touch is called on every dispatch; a
// periodic sweep evicts sessions idle past the threshold. Eviction never
// blocks in-flight calls: an evicted session is simply recreated on the
// next touch.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idleTimeout   time.Duration
	sweepInterval time.Duration
	maxPerCaller  int
	logger        logging.Logger
	now           func() time.Time

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewTracker builds a tracker. Start must be called to run the sweep loop.
func NewTracker(cfg TrackerConfig, logger logging.Logger) *Tracker {
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	return &Tracker{
		sessions:      make(map[string]*Session),
		idleTimeout:   idle,
		sweepInterval: sweep,
		maxPerCaller:  cfg.MaxPerCaller,
		logger:        logging.WithComponent(logger, "sessions"),
		now:           time.Now,
		stopped:       make(chan struct{}),
	}
}

// Touch creates the session record if absent, else refreshes its
// last-activity time and call count. Returns a copy of the record.
func (t *Tracker) Touch(sessionID, callerID string) Session {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[sessionID]
	if !ok {
		sess = &Session{
			ID:        sessionID,
			CallerID:  callerID,
			CreatedAt: now,
			Active:    true,
		}
		t.sessions[sessionID] = sess
		if t.maxPerCaller > 0 {
			if n := t.countByCallerLocked(callerID); n > t.maxPerCaller {
				// Advisory cap: log, never reject.
				t.logger.Warn("caller %s has %d live sessions (advisory cap %d)",
					callerID, n, t.maxPerCaller)
			}
		}
	}
	sess.LastActivity = now
	sess.CallCount++
	return *sess
}

// Get returns a copy of the session record.
func (t *Tracker) Get(sessionID string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sess, ok := t.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// ActiveCount returns the number of live sessions.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// CountByCaller returns the number of live sessions owned by callerID. The
// per-caller cap is advisory and enforced at the caller layer; this count
// is what that layer consults.
func (t *Tracker) CountByCaller(callerID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.countByCallerLocked(callerID)
}

func (t *Tracker) countByCallerLocked(callerID string) int {
	var n int
	for _, sess := range t.sessions {
		if sess.CallerID == callerID {
			n++
		}
	}
	return n
}

// Sweep evicts every session idle past the threshold and returns how many
// were reclaimed.
func (t *Tracker) Sweep() int {
	cutoff := t.now().Add(-t.idleTimeout)

	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted int
	for id, sess := range t.sessions {
		if sess.LastActivity.After(cutoff) {
			continue
		}
		sess.Active = false
		delete(t.sessions, id)
		evicted++
	}
	if evicted > 0 {
		t.logger.Info("evicted %d idle session(s)", evicted)
	}
	return evicted
}

// Start runs the periodic sweep until Stop is called.
func (t *Tracker) Start() {
	async.Go(t.logger, "session-sweep", func() {
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Sweep()
			case <-t.stopped:
				return
			}
		}
	})
}

// Stop terminates the sweep loop. Safe to call more than once.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}
