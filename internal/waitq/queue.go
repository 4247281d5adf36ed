// Package waitq implements the object-wait core: the wait queue signal state
// machine, multi-queue wait blocks with a built-in timeout, and the wake
// coordinator used for asynchronous interruption.
//
// The design pairs a lock-free fast path (TryPass) with a spin-lock slow path
// for waiter list manipulation. Lock order is always queue lock before wait
// block lock; the one place an entry is linked while the block lock is
// already held is safe because no other path can reach that entry until the
// link is published.
package waitq

import (
	"runtime"
	"sync/atomic"

	"kwait/internal/sched"
	"kwait/internal/spin"
)

// Queue is the unit that gets signaled. It embeds the object-wait core's
// only per-object lock, which the object layer reuses to guard tree
// mutations on the owning object.
//
// The zero value is a valid queue in the NotSignaled state.
type Queue struct {
	state   atomic.Uint32
	lock    spin.Lock
	waiters waiterList
}

// Init sets the queue's initial signal state. Only valid before the queue is
// visible to waiters or signalers.
func (q *Queue) Init(initial SignalState) {
	q.state.Store(uint32(initial))
}

// State returns the current signal state.
func (q *Queue) State() SignalState {
	return SignalState(q.state.Load())
}

// Lock acquires the queue's lock. Exposed so the object layer can serialize
// name and child-list mutations on the same lock that guards the waiter
// list: one lock per object, used for both purposes.
func (q *Queue) Lock() { q.lock.Lock() }

// Unlock releases the queue's lock.
func (q *Queue) Unlock() { q.lock.Unlock() }

// HasWaiters reports whether any wait block entry is queued. The read is
// unsynchronized; it exists for lifecycle assertions (an object being
// destroyed must have no waiters, since any waiter would hold a reference).
func (q *Queue) HasWaiters() bool {
	return !q.waiters.empty()
}

// TryPass attempts to resolve a wait on the queue without blocking. It
// returns true if the caller may proceed, false if the caller must block;
// on false the state has been advanced to NotSignaledWithWaiters so that
// signalers take the slow path.
func (q *Queue) TryPass() bool {
	// Guess signaled-for-one first: the common case of acquiring an unheld
	// queued lock then needs a single CAS.
	state := SignaledForOne
	for {
		switch state {
		case SignaledForOne:
			// Win the single credit.
			if q.state.CompareAndSwap(uint32(SignaledForOne), uint32(NotSignaled)) {
				return true
			}
			state = q.State()
		case Signaled:
			return true
		case NotSignaledWithWaiters:
			// Someone else already forced the slow path.
			return false
		case NotSignaled:
			// Announce that waiters exist; winning the CAS commits this
			// caller to blocking.
			if q.state.CompareAndSwap(uint32(NotSignaled), uint32(NotSignaledWithWaiters)) {
				return false
			}
			state = q.State()
		default:
			panic("waitq: corrupt signal state " + state.String())
		}
	}
}

// Signal signals (or unsignals) the queue, potentially releasing blocked
// threads.
func (q *Queue) Signal(option SignalOption) {
	var oldState SignalState
	switch option {
	case SignalOne:
		// Try to park a single credit, unless threads are already waiting;
		// in that case leave the state alone, the lock-held path below
		// decides what comes next.
		old := NotSignaled
		for {
			if q.state.CompareAndSwap(uint32(old), uint32(SignaledForOne)) {
				break
			}
			old = q.State()
			if old == NotSignaledWithWaiters || old == SignaledForOne {
				break
			}
		}
		oldState = old

	case Unsignal:
		// Close the gate without clobbering a concurrent transition to
		// not-signaled-with-waiters.
		old := Signaled
		for {
			if q.state.CompareAndSwap(uint32(old), uint32(NotSignaled)) {
				break
			}
			old = q.State()
			if old == NotSignaledWithWaiters || old == NotSignaled {
				break
			}
		}
		return

	case Pulse:
		// State is untouched; only current waiters are released.
		oldState = q.State()

	case SignalAll:
		oldState = SignalState(q.state.Swap(uint32(Signaled)))

	default:
		panic("waitq: invalid signal option")
	}

	// No threads to release means the fast path is done.
	if oldState != NotSignaledWithWaiters {
		return
	}

	q.releaseWaiters(option, oldState)
}

// releaseWaiters is the lock-held half of Signal. For SignalOne it loops:
// the popped waiter's block may already have been resolved by another queue,
// in which case another waiter must be tried, until either a thread is woken
// or the waiter list drains and the state falls back to SignaledForOne.
func (q *Queue) releaseWaiters(option SignalOption, oldState SignalState) {
	var release waiterList
	q.lock.Lock()
	lockHeld := true

	for {
		if option == SignalOne {
			if q.waiters.empty() {
				// Nothing left to wake: park the credit. This may race
				// with other signalers (fine to lose) but must not lose
				// against a waking thread demoting the state to
				// not-signaled, so retry until some signaled state holds.
				old := oldState
				for {
					if q.state.CompareAndSwap(uint32(old), uint32(SignaledForOne)) {
						break
					}
					old = q.State()
					if old != NotSignaledWithWaiters && old != NotSignaled {
						break
					}
				}
				break
			}
			release.pushBack(q.waiters.popFront())
		} else {
			if !q.waiters.empty() {
				release = q.waiters
				q.waiters = waiterList{}
			}
		}

		// Walk the local release list. The queue lock protects the list
		// links; the block lock arbitrates who resolves each wait. As soon
		// as the last thread is set ready the queue may be destroyed, so
		// the queue lock is dropped before that final wake.
		threadWoken := false
		for !release.empty() {
			e := release.popFront()
			b := e.block
			b.lock.Lock()

			// Once unlinked, the hold on the block lock is the only thing
			// keeping this block from being released or reused.
			e.linked = false
			if e.queue != q {
				panic("waitq: foreign wait entry on release list")
			}

			// The built-in timeout slot does not count toward wait-all.
			if e != &b.entries[0] {
				if b.unsignaled == 0 {
					panic("waitq: unsignaled count underflow")
				}
				b.unsignaled--
			}

			// This queue satisfies the wait only if no other queue (and no
			// interruption) beat it to the thread, and the mode's condition
			// holds: the timeout slot always resolves, any-mode resolves on
			// the first signal, all-mode once nothing is left unsignaled.
			var t *sched.Thread
			if b.thread != nil &&
				(e == &b.entries[0] || b.flags&WaitAll == 0 || b.unsignaled == 0) {
				b.signaling = q
				t = b.thread
				b.thread = nil
			}
			b.lock.Unlock()

			if t == nil {
				continue
			}

			if release.empty() {
				// Last wake: demote the state if signal-for-one drained
				// the list, then get off the queue before the thread runs.
				if option == SignalOne && q.waiters.empty() {
					q.state.CompareAndSwap(uint32(NotSignaledWithWaiters), uint32(NotSignaled))
				}
				q.lock.Unlock()
				lockHeld = false
			}

			// Win the thread's blocked->waking transition before readying
			// it; an asynchronous interrupter may be competing and may hold
			// the waking state transiently before backing off.
			for {
				for t.State() != sched.StateBlocked {
					runtime.Gosched()
				}
				if t.TransitionState(sched.StateBlocked, sched.StateWaking) {
					t.Ready()
					break
				}
			}
			threadWoken = true
		}

		// Signal-all and pulse emptied the list in one pass. Signal-one
		// loops until it actually woke something.
		if option != SignalOne || threadWoken {
			break
		}
	}

	if lockHeld {
		q.lock.Unlock()
	}
}
