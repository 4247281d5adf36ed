package waitq

import (
	"runtime"

	"kwait/internal/sched"
)

// WakeBlockedOrSuspended pulls a thread out of a blocked or suspended state,
// interrupting any wait it may have been performing. If the thread is not
// blocked or suspended, or its wait is not interruptible, nothing happens.
// With onlyIfSuspended set, blocked threads are left alone.
//
// Returns whether the thread was actually woken. At most one caller can win
// for a given park: the blocked->waking transition plus the block-lock check
// of the owning thread arbitrate against both concurrent interrupters and a
// queue's own signal path.
func WakeBlockedOrSuspended(t *sched.Thread, onlyIfSuspended bool) bool {
	// Let the thread settle out of a transitional state first. This is a
	// bounded-latency busy-wait, not a blocking wait: the windows are a few
	// instructions on the target thread.
	for {
		st := t.State()
		if st != sched.StateSuspending &&
			(onlyIfSuspended || st != sched.StateBlocking) {
			break
		}
		runtime.Gosched()
	}

	wake := false
	if !onlyIfSuspended && t.State() == sched.StateBlocked {
		// Claim the thread before inspecting the wait block; a losing
		// signaler will spin on the state until it is restored below.
		if t.TransitionState(sched.StateBlocked, sched.StateWaking) {
			b, ok := t.WaitBlock.(*Block)
			if !ok {
				panic("waitq: blocked thread has no wait block")
			}
			// Unlocked peek first; the locked re-check decides.
			if b.thread != nil && b.flags&WaitInterruptible != 0 {
				b.lock.Lock()
				if b.thread != nil {
					b.interrupted = true
					b.thread = nil
					wake = true
				}
				b.lock.Unlock()
			}
			// Lost to a queue's signal: the waking state was claimed in
			// error, put it back so the winner can proceed.
			if !wake {
				t.SetState(sched.StateBlocked)
			}
		}
	} else if t.State() == sched.StateSuspended {
		// Nothing is being waited on; just race for the wake.
		if t.TransitionState(sched.StateSuspended, sched.StateWaking) {
			wake = true
		}
	}

	if wake {
		t.Ready()
	}
	return wake
}

// WakeBlocking wakes a thread caught between deciding to block and fully
// parking. The caller must guarantee externally that the thread is in
// exactly the blocking or suspending state and cannot finish the transition
// concurrently; this is the narrow window the signal-delivery path owns.
//
// Returns whether the thread was woken; false means a queue already
// satisfied the wait and the thread will park only to be released by it.
func WakeBlocking(t *sched.Thread) bool {
	wake := false
	if t.State() == sched.StateBlocking {
		b, ok := t.WaitBlock.(*Block)
		if !ok {
			panic("waitq: blocking thread has no wait block")
		}
		if b.thread != nil && b.flags&WaitInterruptible != 0 {
			b.lock.Lock()
			if b.thread != nil {
				b.interrupted = true
				b.thread = nil
				wake = true
			}
			b.lock.Unlock()
		}
	} else {
		if t.State() != sched.StateSuspending {
			panic("waitq: WakeBlocking on a settled thread")
		}
		wake = true
	}

	if wake {
		t.SetState(sched.StateWaking)
		t.Ready()
	}
	return wake
}
