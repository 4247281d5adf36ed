package waitq

import (
	"time"

	"fortio.org/safecast"

	"kwait/internal/ktimer"
	"kwait/internal/sched"
	"kwait/internal/spin"
	"kwait/internal/status"
)

// Flags govern the behavior of a wait.
type Flags uint8

const (
	// WaitAll requires every target queue to signal before the wait
	// resolves; the built-in timeout never counts toward this.
	WaitAll Flags = 1 << iota
	// WaitInterruptible allows the wake coordinator to end the wait early.
	WaitInterruptible
)

// WaitForever requests an indefinite wait: the built-in timer is never
// armed.
const WaitForever time.Duration = -1

// builtinEntryCount is the inline capacity of every thread's reusable wait
// block: seven target slots plus the reserved timeout slot. Larger waits
// allocate a dedicated block.
const builtinEntryCount = 8

// Block is one thread's request to wait on 1..N queues plus the built-in
// timeout, with all/any policy. A block is reusable: Wait resets it to idle
// on every exit path. entries[0] is always the timeout slot; target queues
// occupy entries[1..count-1]. The timeout slot is stored first but processed
// last during setup so a wait satisfied immediately never touches the timer.
type Block struct {
	lock       spin.Lock
	entries    []Entry
	count      int
	unsignaled int
	flags      Flags

	active      bool
	interrupted bool

	// thread is the single arbiter of who resolves the wait: the signaler
	// or interrupter that clears it, under the block lock, wins.
	thread    *sched.Thread
	signaling *Queue

	// timeout is the built-in timeout queue; the timer signals it exactly
	// as any other signaler would signal any other queue.
	timeout Queue
	timer   *ktimer.Timer
	wheel   *ktimer.Wheel
}

// NewBlock creates a wait block able to wait on up to capacity queues at
// once. Creating one up front pays off when the same oversized multi-wait
// runs repeatedly; small waits should rely on the per-thread builtin block
// instead.
func NewBlock(wheel *ktimer.Wheel, capacity int) (*Block, error) {
	if capacity < 1 || wheel == nil {
		return nil, status.ErrInvalidParameter
	}
	if _, err := safecast.Conv[uint16](capacity); err != nil {
		return nil, status.ErrInvalidParameter
	}
	n := capacity + 1
	if n < builtinEntryCount {
		n = builtinEntryCount
	}
	b := &Block{
		entries: make([]Entry, n),
		wheel:   wheel,
	}
	for i := range b.entries {
		b.entries[i].block = b
	}
	// One-shot expiration looks like an ordinary signal-all on the
	// timeout queue.
	b.timer = wheel.NewTimer(func() { b.timeout.Signal(SignalAll) })
	return b, nil
}

// Destroy checks that the block is not actively waiting. The memory itself
// is reclaimed by the collector; this exists to catch blocks torn down
// mid-wait.
func (b *Block) Destroy() {
	if b.active {
		panic("waitq: destroying an active wait block")
	}
}

// Capacity returns the number of target queues the block can hold.
func (b *Block) Capacity() int {
	return len(b.entries) - 1
}

// SignalingQueue returns the queue that resolved the most recent wait, or
// nil if the wait was interrupted. For all-mode waits this is the last queue
// to signal; callers should not depend on which one.
func (b *Block) SignalingQueue() *Queue {
	return b.signaling
}

// FirstTarget returns the first non-timeout queue armed in the block, for
// profiling a blocked thread. The caller gets no reference guarantee.
func (b *Block) FirstTarget() *Queue {
	if b.count < 2 {
		return nil
	}
	return b.entries[1].queue
}

// BuiltinBlock returns the thread's inline reusable wait block, creating it
// on first use. Only the owning thread may call this, so no locking is
// needed; the common small-N wait path allocates nothing after the first
// wait.
func BuiltinBlock(t *sched.Thread, wheel *ktimer.Wheel) *Block {
	if b, ok := t.Builtin.(*Block); ok {
		return b
	}
	b, err := NewBlock(wheel, builtinEntryCount-1)
	if err != nil {
		panic("waitq: builtin block construction failed")
	}
	t.Builtin = b
	return b
}

// WaitOne waits on a single queue. The lock-free fast path resolves the
// common case without touching the thread's builtin block at all.
func WaitOne(t *sched.Thread, wheel *ktimer.Wheel, q *Queue, flags Flags, timeout time.Duration) error {
	if q.TryPass() {
		return nil
	}
	b := BuiltinBlock(t, wheel)
	b.count = 2
	b.entries[1].queue = q
	b.flags = flags
	return b.Wait(t, timeout)
}

// WaitMany waits on several queues until one (any-mode) or all (all-mode)
// have signaled, sharing one timeout. It uses the caller's preallocated
// block if given, the thread's builtin block if the request fits, and a
// dedicated allocation otherwise. On success it returns the queue that
// satisfied the wait.
func WaitMany(t *sched.Thread, wheel *ktimer.Wheel, queues []*Queue, flags Flags, timeout time.Duration, pre *Block) (*Queue, error) {
	var b *Block
	switch {
	case pre != nil:
		b = pre
	case len(queues)+1 <= builtinEntryCount:
		b = BuiltinBlock(t, wheel)
	default:
		var err error
		b, err = NewBlock(wheel, len(queues))
		if err != nil {
			return nil, status.ErrInsufficientResources
		}
		defer b.Destroy()
	}
	if len(queues) < 1 || len(queues)+1 > len(b.entries) {
		return nil, status.ErrInvalidParameter
	}

	for i, q := range queues {
		b.entries[i+1].queue = q
	}
	b.count = len(queues) + 1
	b.flags = flags
	err := b.Wait(t, timeout)
	if err != nil {
		return nil, err
	}
	return b.signaling, nil
}

// Wait executes the block against its armed target queues, blocking the
// given thread for at most the requested timeout. Callers arm the block by
// setting count, flags, and entries[1..count-1] target queues; Wait resets
// the block to idle before returning on every path.
//
// Returns nil on success, status.ErrTimeout if the built-in timeout queue
// satisfied the wait, and status.ErrInterrupted if an asynchronous wake won
// the race.
func (b *Block) Wait(t *sched.Thread, timeout time.Duration) error {
	if b.count < 1 || b.count > len(b.entries) {
		panic("waitq: wait block count out of range")
	}
	if b.unsignaled != 0 || b.active || b.thread != nil || b.entries[0].queue != nil {
		panic("waitq: wait block reused while active")
	}

	block := true
	timerQueued := false
	setupFailed := false
	var err error

	b.lock.Lock()
	b.signaling = nil
	b.interrupted = false
	count := b.count

	// Setup: link an entry on each target queue, timeout slot last.
	index := 0
	for ; index < count; index++ {
		var e *Entry
		if index == count-1 {
			e = &b.entries[0]
			e.queue = nil
			if timeout == WaitForever {
				continue
			}
			if timeout == 0 {
				// Immediate timeout: no need to even arm the timer. The
				// block lock is still held, so no other queue has had a
				// chance to satisfy the wait.
				block = false
				b.signaling = &b.timeout
				err = status.ErrTimeout
				break
			}
			// Arming clears any stale credit left on the timeout queue by
			// an expiration that lost an earlier wait.
			b.timeout.Signal(Unsignal)
			if qerr := b.wheel.Queue(b.timer, time.Now().Add(timeout)); qerr != nil {
				err = qerr
				setupFailed = true
				break
			}
			timerQueued = true
			e.queue = &b.timeout
		} else {
			e = &b.entries[index+1]
		}

		q := e.queue
		if q == nil {
			panic("waitq: wait entry without a target queue")
		}
		if e.linked {
			panic("waitq: wait entry already linked")
		}

		// Queue lock before block lock. The block lock is already held,
		// but this entry is not yet reachable from the queue, so no other
		// path can approach these two locks in the opposite order.
		q.lock.Lock()
		if !q.TryPass() {
			q.waiters.pushBack(e)
			e.linked = true
			// The timeout slot never counts toward wait-all.
			if index != count-1 {
				b.unsignaled++
			}
		} else if index != count-1 {
			// Already signaled: decide whether setup can stop early. Any
			// mode is satisfied outright; all mode only if this was the
			// final target and nothing earlier remains unsignaled.
			if b.flags&WaitAll == 0 || (index == count-2 && b.unsignaled == 0) {
				q.lock.Unlock()
				b.signaling = q
				block = false
				break
			}
		} else {
			// The timer expired between arming and linking. Count it as a
			// timeout; the loop exits on the next iteration.
			block = false
			b.signaling = &b.timeout
			timerQueued = false
			err = status.ErrTimeout
		}
		q.lock.Unlock()
	}

	if !setupFailed {
		// The block counts as active even if it will not block.
		b.active = true
		if block {
			b.thread = t
		}
	}
	b.lock.Unlock()

	if !setupFailed {
		if block {
			// Park. The wait block is published on the thread first so the
			// wake coordinator can find it while the thread is blocking.
			t.WaitBlock = b
			t.SetState(sched.StateBlocking)
			t.Block()
			t.WaitBlock = nil

			if b.interrupted {
				err = status.ErrInterrupted
			} else {
				if b.signaling == nil {
					panic("waitq: woken with no signaling queue")
				}
				if b.signaling == &b.timeout {
					err = status.ErrTimeout
					timerQueued = false
				}
			}
		} else if b.signaling == nil {
			panic("waitq: unblocked wait with no signaling queue")
		}

		if timerQueued {
			// Cancel either disarms the timer or waits out an expiration
			// already in delivery. A delivered expiration leaves a credit on
			// the timeout queue, cleared at the next arming.
			_ = b.wheel.Cancel(b.timer)
		}
	}

	b.cleanup(index)
	return err
}

// cleanup detaches any entries still linked after a wait and resets the
// block to idle. initialized is how many setup iterations ran; entries
// beyond it were never touched.
func (b *Block) cleanup(initialized int) {
	if b.thread != nil {
		panic("waitq: cleanup with an owning thread still set")
	}
	if initialized > b.count {
		panic("waitq: cleanup beyond initialized entries")
	}

	// An entry that is already unlinked may still be in a signaler's hands;
	// unless it is the entry that resolved the wait (that signaler was
	// provably done when it woke the thread), remember it so the block lock
	// can be used as a barrier below.
	missed := false
	for i := 0; i < initialized; i++ {
		var e *Entry
		if i == b.count-1 {
			e = &b.entries[0]
		} else {
			e = &b.entries[i+1]
		}
		q := e.queue

		if e.linked {
			q.lock.Lock()
			b.lock.Lock()
			// Re-check: the entry may have been released between the
			// unlocked peek and acquiring the locks.
			if e.linked {
				if e.queue != q {
					panic("waitq: wait entry changed queues")
				}
				q.waiters.remove(e)
				e.linked = false
				if e != &b.entries[0] {
					if b.unsignaled == 0 {
						panic("waitq: unsignaled count underflow")
					}
					b.unsignaled--
				}
				// Last waiter gone: try to demote the state. A concurrent
				// not-yet-blocked passer that loses this will restore
				// not-signaled-with-waiters in its slow path.
				if q.waiters.empty() {
					q.state.CompareAndSwap(uint32(NotSignaledWithWaiters), uint32(NotSignaled))
				}
			}
			b.lock.Unlock()
			q.lock.Unlock()
			missed = false
		} else if q != nil && q != b.signaling {
			missed = true
		}
	}

	if missed {
		// Barrier: any signaler still touching the block holds its lock;
		// one acquire/release guarantees they are all gone before the
		// block is treated as idle again.
		b.lock.Lock()
		b.lock.Unlock() //nolint:staticcheck // empty critical section is the point
	}

	if b.unsignaled != 0 {
		panic("waitq: unsignaled count leaked across a wait")
	}
	for i := 0; i < b.count; i++ {
		b.entries[i].queue = nil
	}
	b.count = 0
	b.active = false
}
