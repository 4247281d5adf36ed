// Package sched is the scheduler collaborator of the object-wait core: thread
// identity, the thread-state machine, and the block/ready primitives. It
// carries no scheduling policy; run-queue selection belongs to the Go runtime
// underneath.
package sched

import (
	"sync"
	"sync/atomic"
)

// Scheduler spawns and tracks threads. Construct one per simulated kernel.
type Scheduler struct {
	nextID atomic.Uint64
	wg     sync.WaitGroup
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Adopt binds the calling goroutine to a new thread. The caller becomes the
// thread body and is responsible for calling Exit when done. Used when thread
// lifecycles are managed externally (for example by an errgroup).
func (s *Scheduler) Adopt(name string) *Thread {
	t := &Thread{
		id:   s.nextID.Add(1),
		name: name,
		park: make(chan struct{}, 1),
	}
	t.SetState(StateRunning)
	return t
}

// Go spawns a goroutine-backed thread running body. The scheduler's Wait
// returns once every spawned thread has exited.
func (s *Scheduler) Go(name string, body func(t *Thread)) *Thread {
	t := s.Adopt(name)
	t.SetState(StateReady)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.SetState(StateRunning)
		body(t)
		t.Exit()
	}()
	return t
}

// Wait blocks until all spawned threads have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Exit marks the thread as exited. Idempotent.
func (t *Thread) Exit() {
	t.SetState(StateExited)
}

// Suspend parks the calling thread without waiting on anything. It resumes
// when some other thread wakes it through the wake coordinator.
func (t *Thread) Suspend() {
	t.SetState(StateSuspending)
	t.Block()
}
