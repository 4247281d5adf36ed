// Package spin provides the short-hold mutual-exclusion primitive used
// throughout the object-wait core.
//
// A spin.Lock is the analogue of a raised-level spin lock: acquiring one never
// blocks on the scheduler, no allocation happens while one is held, and hold
// times must stay short. Holders must not park the calling goroutine. The only
// nesting the core permits is queue lock before wait-block lock.
package spin

import (
	"runtime"
	"sync/atomic"
)

// Lock is a test-and-set spin lock. The zero value is unlocked.
type Lock struct {
	v atomic.Uint32
}

// Lock acquires the lock, spinning until it is available. Contended spins
// yield the processor so a holder on the same P can make progress.
func (l *Lock) Lock() {
	spins := 0
	for !l.v.CompareAndSwap(0, 1) {
		spins++
		if spins >= activeSpin {
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *Lock) TryLock() bool {
	return l.v.CompareAndSwap(0, 1)
}

// Unlock releases the lock. Unlocking a free lock is a fatal error.
func (l *Lock) Unlock() {
	if l.v.Swap(0) != 1 {
		panic("spin: unlock of unlocked lock")
	}
}

// activeSpin bounds how many failed acquire attempts are made before
// yielding. Matches the busy-wait discipline of futex-style locks: spin a
// little for short critical sections, then get out of the way.
const activeSpin = 16
