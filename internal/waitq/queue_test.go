package waitq

import (
	"fmt"
	"runtime"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"kwait/internal/ktimer"
	"kwait/internal/sched"
)

func newTestWheel(t *testing.T) *ktimer.Wheel {
	t.Helper()
	w := ktimer.NewWheel()
	t.Cleanup(w.Close)
	return w
}

func waitForState(t *testing.T, th *sched.Thread, want sched.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for th.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("thread never reached %v, stuck at %v", want, th.State())
		}
		runtime.Gosched()
	}
}

func TestTryPassSignaledIsDurable(t *testing.T) {
	var q Queue
	q.Init(Signaled)
	for i := 0; i < 3; i++ {
		if !q.TryPass() {
			t.Fatalf("pass %d on a signaled queue failed", i)
		}
	}
	if q.State() != Signaled {
		t.Fatalf("signaled state consumed: %v", q.State())
	}
}

func TestTryPassConsumesSingleCredit(t *testing.T) {
	var q Queue
	q.Init(SignaledForOne)
	if !q.TryPass() {
		t.Fatalf("first pass did not win the credit")
	}
	if q.State() != NotSignaled {
		t.Fatalf("state after winning the credit: %v", q.State())
	}
	if q.TryPass() {
		t.Fatalf("second pass won a spent credit")
	}
	if q.State() != NotSignaledWithWaiters {
		t.Fatalf("failed pass did not announce waiters: %v", q.State())
	}
}

func TestSignalOneParksCredit(t *testing.T) {
	var q Queue
	q.Signal(SignalOne)
	if q.State() != SignaledForOne {
		t.Fatalf("state after signal-one with no waiters: %v", q.State())
	}
	// A second signal-one does not stack credits.
	q.Signal(SignalOne)
	if !q.TryPass() {
		t.Fatalf("parked credit not consumable")
	}
	if q.TryPass() {
		t.Fatalf("two credits parked by consecutive signal-one")
	}
}

func TestUnsignal(t *testing.T) {
	var q Queue
	q.Signal(SignalAll)
	if q.State() != Signaled {
		t.Fatalf("state after signal-all: %v", q.State())
	}
	q.Signal(Unsignal)
	if q.State() != NotSignaled {
		t.Fatalf("state after unsignal: %v", q.State())
	}
	// Unsignal must not clobber an announced-waiters state.
	q.TryPass()
	q.Signal(Unsignal)
	if q.State() != NotSignaledWithWaiters {
		t.Fatalf("unsignal clobbered waiter announcement: %v", q.State())
	}
}

func TestSignalAllWakesAllWaiters(t *testing.T) {
	w := newTestWheel(t)
	s := sched.New()
	var q Queue

	const waiters = 3
	errs := make(chan error, waiters)
	threads := make([]*sched.Thread, waiters)
	for i := 0; i < waiters; i++ {
		threads[i] = s.Go(fmt.Sprintf("waiter-%d", i), func(th *sched.Thread) {
			errs <- WaitOne(th, w, &q, 0, WaitForever)
		})
	}
	for _, th := range threads {
		waitForState(t, th, sched.StateBlocked)
	}

	q.Signal(SignalAll)
	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Fatalf("waiter returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("waiter %d never woke", i)
		}
	}
	s.Wait()
	if q.State() != Signaled {
		t.Fatalf("state after signal-all: %v", q.State())
	}
}

func TestSignalOneWakesExactlyOne(t *testing.T) {
	w := newTestWheel(t)
	s := sched.New()
	var q Queue

	errs := make(chan error, 2)
	a := s.Go("a", func(th *sched.Thread) { errs <- WaitOne(th, w, &q, 0, WaitForever) })
	b := s.Go("b", func(th *sched.Thread) { errs <- WaitOne(th, w, &q, 0, WaitForever) })
	waitForState(t, a, sched.StateBlocked)
	waitForState(t, b, sched.StateBlocked)

	q.Signal(SignalOne)
	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("woken waiter returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("signal-one woke nobody")
	}
	select {
	case <-errs:
		t.Fatalf("signal-one woke both waiters")
	case <-time.After(50 * time.Millisecond):
	}

	q.Signal(SignalAll)
	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("remaining waiter returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("remaining waiter never woke")
	}
	s.Wait()
}

func TestPulseReleasesWithoutLeavingSignal(t *testing.T) {
	w := newTestWheel(t)
	s := sched.New()
	var q Queue

	errs := make(chan error, 1)
	th := s.Go("pulsed", func(th *sched.Thread) { errs <- WaitOne(th, w, &q, 0, WaitForever) })
	waitForState(t, th, sched.StateBlocked)

	q.Signal(Pulse)
	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("pulsed waiter returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pulse released nobody")
	}
	s.Wait()

	// Pulse leaves no credit behind: a later pass must block.
	if q.TryPass() {
		t.Fatalf("pulse left a signal behind")
	}
}

func TestQueuedLockHandoff(t *testing.T) {
	w := newTestWheel(t)
	s := sched.New()

	// A queued lock is signal-one discipline: acquire by passing, release by
	// signaling one.
	var lock Queue
	lock.Init(SignaledForOne)

	const (
		lockers = 4
		rounds  = 100
	)
	counter := 0
	var g errgroup.Group
	for i := 0; i < lockers; i++ {
		i := i
		g.Go(func() error {
			th := s.Adopt(fmt.Sprintf("locker-%d", i))
			defer th.Exit()
			for j := 0; j < rounds; j++ {
				if err := WaitOne(th, w, &lock, 0, WaitForever); err != nil {
					return fmt.Errorf("acquire: %w", err)
				}
				counter++
				lock.Signal(SignalOne)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("locker failed: %v", err)
	}
	if counter != lockers*rounds {
		t.Fatalf("lost increments under the lock: want %d, got %d", lockers*rounds, counter)
	}
	if !lock.TryPass() {
		t.Fatalf("lock not released after the last handoff")
	}
}
