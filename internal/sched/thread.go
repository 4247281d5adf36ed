package sched

import (
	"sync/atomic"
)

// Thread is one schedulable context. The object-wait layer blocks, readies,
// and interrupts threads exclusively through the small surface here: Block,
// Ready, State, and TransitionState.
//
// A thread is backed by a goroutine. There is no implicit "current thread";
// blocking entry points take the calling thread explicitly.
type Thread struct {
	id    uint64
	name  string
	state atomic.Uint32

	// park carries the single wake token. Ready is called at most once per
	// park cycle (arbitrated by the Blocked->Waking transition), so a
	// one-slot buffer can never drop a wakeup even if Ready lands before
	// the thread reaches the receive.
	park chan struct{}

	// WaitBlock is installed by the wait layer for the duration of a
	// blocking wait and cleared on resumption. It is stored untyped so the
	// scheduler stays free of wait-layer types; the wait layer is its only
	// reader and writer. Visibility is ordered by the state word: it is
	// written before the thread publishes Blocking and read only after a
	// successful CAS out of Blocked or Blocking.
	WaitBlock any

	// Builtin is per-thread scratch owned by the wait layer (the inline
	// reusable wait block). Only the owning thread touches it.
	Builtin any
}

// ID returns the thread identifier.
func (t *Thread) ID() uint64 { return t.id }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// State returns the current scheduling state.
func (t *Thread) State() State {
	return State(t.state.Load())
}

// SetState stores a new scheduling state unconditionally.
func (t *Thread) SetState(s State) {
	t.state.Store(uint32(s))
}

// TransitionState atomically moves the thread from one state to another and
// reports whether the move happened. This is the arbitration point between a
// queue's signal path and an asynchronous interruption: exactly one caller
// wins the Blocked->Waking transition.
func (t *Thread) TransitionState(from, to State) bool {
	return t.state.CompareAndSwap(uint32(from), uint32(to))
}

// Block parks the calling thread until a Ready call. The caller must have
// already published a transitional state (Blocking or Suspending); Block
// publishes the parked state and then sleeps. Returns with the thread
// running again.
//
// If a waker caught the thread inside the transitional window and already
// made it ready, the parked state is skipped and the pending wake token is
// consumed immediately.
func (t *Thread) Block() {
	if !t.TransitionState(StateBlocking, StateBlocked) &&
		!t.TransitionState(StateSuspending, StateSuspended) {
		switch t.State() {
		case StateWaking, StateReady:
			// Woken mid-transition; fall through to the receive.
		default:
			panic("sched: Block called without a transitional state")
		}
	}
	<-t.park
	t.SetState(StateRunning)
}

// Ready moves a woken thread into the ready pool and hands it back its wake
// token. The caller must have won the transition to Waking first.
func (t *Thread) Ready() {
	if t.State() != StateWaking {
		panic("sched: Ready called on a thread not in the waking state")
	}
	t.SetState(StateReady)
	t.park <- struct{}{}
}
