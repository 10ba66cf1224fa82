package scheduler

import "sync/atomic"

// Guard is a single-flight latch for sweep jobs that must never overlap.
// A tick that cannot acquire the guard is skipped, not queued.
type Guard struct {
	busy atomic.Bool
}

// NewGuard creates a released guard.
func NewGuard() *Guard {
	return &Guard{}
}

// TryAcquire claims the guard; false means a previous run is still active.
func (g *Guard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the guard for the next tick.
func (g *Guard) Release() {
	g.busy.Store(false)
}
