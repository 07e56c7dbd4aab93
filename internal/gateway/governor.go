package gateway

import "context"

// DefaultMaxConcurrent bounds simultaneously executing handlers when the
// configuration does not say otherwise.
const DefaultMaxConcurrent = 100

// governor is the global admission gate bounding concurrent handler
// execution. Exceeding the bound never fails a call; admission is simply
// delayed until a slot frees or the caller's deadline fires. No ordering is
// guaranteed among waiters beyond eventual admission.
type governor struct {
	slots chan struct{}
}

func newGovernor(bound int) *governor {
	if bound <= 0 {
		bound = DefaultMaxConcurrent
	}
	return &governor{slots: make(chan struct{}, bound)}
}

// acquire blocks until a slot is free or ctx is done.
func (g *governor) acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release frees one slot. Must be called exactly once per successful
// acquire.
func (g *governor) release() {
	select {
	case <-g.slots:
	default:
		// Releasing without a matching acquire is an invariant violation;
		// surface it loudly instead of corrupting the gate.
		panic("gateway: concurrency slot released without acquire")
	}
}

// inUse returns the number of currently held slots.
func (g *governor) inUse() int {
	return len(g.slots)
}

// capacity returns the admission bound.
func (g *governor) capacity() int {
	return cap(g.slots)
}
