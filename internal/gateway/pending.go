package gateway

import (
	"context"
	"sync"
	"time"

	"vita/internal/async"
	"vita/internal/logging"
)

// DefaultAsyncRetention is how long a completed fire-and-forget result is
// kept for polling before the janitor drops it.
const DefaultAsyncRetention = 10 * time.Minute

// pendingCall is the gateway-side state behind an async handle. result is
// written exactly once, before done is closed.
type pendingCall struct {
	id          string
	done        chan struct{}
	result      *Result
	cancel      context.CancelFunc
	createdAt   time.Time
	completedAt time.Time
}

func (p *pendingCall) completed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// pendingStore tracks in-flight and recently completed async calls. A
// janitor drops completed entries past the retention window so abandoned
// handles cannot accumulate.
type pendingStore struct {
	mu    sync.Mutex
	calls map[string]*pendingCall

	retention time.Duration
	logger    logging.Logger
	stopped   chan struct{}
	stopOnce  sync.Once
}

func newPendingStore(retention time.Duration, logger logging.Logger) *pendingStore {
	if retention <= 0 {
		retention = DefaultAsyncRetention
	}
	return &pendingStore{
		calls:     make(map[string]*pendingCall),
		retention: retention,
		logger:    logging.WithComponent(logger, "async"),
		stopped:   make(chan struct{}),
	}
}

func (s *pendingStore) add(id string, cancel context.CancelFunc) *pendingCall {
	call := &pendingCall{
		id:        id,
		done:      make(chan struct{}),
		cancel:    cancel,
		createdAt: time.Now(),
	}
	s.mu.Lock()
	s.calls[id] = call
	s.mu.Unlock()
	return call
}

// complete records the result and wakes every waiter. It operates on the
// call itself, not the map: a handle already removed by cancel still gets
// its done channel closed, so a waiter blocked in await is never stranded.
func (s *pendingStore) complete(call *pendingCall, result *Result) {
	s.mu.Lock()
	call.result = result
	call.completedAt = time.Now()
	s.mu.Unlock()
	close(call.done)
}

func (s *pendingStore) get(id string) (*pendingCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	return call, ok
}

// cancelAndRemove cancels the call's context and drops the handle. The
// first call for a known handle returns true (even if the result was
// already consumed); any later call returns false because the handle is
// gone. Waiters already holding the call keep waiting on its done channel,
// which completion closes regardless of map membership.
func (s *pendingStore) cancelAndRemove(id string) bool {
	s.mu.Lock()
	call, ok := s.calls[id]
	if ok {
		delete(s.calls, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if call.cancel != nil {
		call.cancel()
	}
	return true
}

func (s *pendingStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// sweep drops completed entries older than the retention window.
func (s *pendingStore) sweep() int {
	cutoff := time.Now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped int
	for id, call := range s.calls {
		if call.completed() && call.completedAt.Before(cutoff) {
			delete(s.calls, id)
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.Debug("dropped %d expired async handle(s)", dropped)
	}
	return dropped
}

func (s *pendingStore) start() {
	async.Go(s.logger, "async-janitor", func() {
		ticker := time.NewTicker(s.retention / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopped:
				return
			}
		}
	})
}

func (s *pendingStore) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}
