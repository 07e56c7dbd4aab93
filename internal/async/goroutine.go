package async

import (
	"runtime/debug"

	"vita/internal/logging"
)

// Go runs fn on a new goroutine guarded by panic recovery, so a misbehaving
// background loop (session sweep, result janitor) cannot take the process
// down. The name labels the goroutine in panic reports.
func Go(logger logging.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.OrNop(logger).Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
