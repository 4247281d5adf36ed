// Package ktimer is the timer collaborator of the object-wait core. A Wheel
// owns a deadline min-heap and a single firing goroutine; a Timer is one
// re-armable deadline whose expiration runs a caller-supplied callback. The
// wait layer points that callback at the signal operation of a wait block's
// built-in timeout queue, so an expiring timer looks exactly like any other
// signaler.
package ktimer

import (
	"container/heap"
	"sync"
	"time"

	"kwait/internal/status"
)

// Timer is a single re-armable deadline. Timers are created against one wheel
// and must not be shared across wheels.
type Timer struct {
	fire     func()
	deadline time.Time
	index    int // heap position, -1 when not queued
	queued   bool

	// gen is bumped under the wheel lock by every Queue and Cancel. An
	// expiration popped off the heap carries the gen it was armed with and is
	// dropped if the timer's gen has moved on by delivery time, so a stale
	// expiration can never outlive a cancel or land on top of a re-arm.
	gen    uint64
	firing bool
}

// Wheel schedules timers. The zero value is not usable; call NewWheel.
type Wheel struct {
	mu       sync.Mutex
	idle     *sync.Cond // signaled when a callback finishes
	timers   timerHeap
	inflight int
	kick     chan struct{}
	closed   bool
}

// NewWheel returns a running wheel. Close it to stop the firing goroutine.
func NewWheel() *Wheel {
	w := &Wheel{kick: make(chan struct{}, 1)}
	w.idle = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// NewTimer returns an unqueued timer that runs fire on expiration. The
// callback runs on the wheel goroutine and must not block; signaling a wait
// queue satisfies that.
func (w *Wheel) NewTimer(fire func()) *Timer {
	return &Timer{fire: fire, index: -1}
}

// Queue arms the timer for the given absolute deadline. Re-queuing an armed
// timer moves its deadline and supersedes any expiration of the old one
// still awaiting delivery. The expiration callback will run once unless the
// timer is canceled first.
func (w *Wheel) Queue(t *Timer, deadline time.Time) error {
	if t == nil || t.fire == nil {
		return status.ErrInvalidParameter
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return status.ErrInvalidParameter
	}
	t.gen++
	t.deadline = deadline
	if t.queued {
		heap.Fix(&w.timers, t.index)
	} else {
		t.queued = true
		heap.Push(&w.timers, t)
	}
	w.mu.Unlock()
	w.poke()
	return nil
}

// Cancel disarms the timer and synchronizes with its expiration: once Cancel
// returns, the callback has either run to completion or never will. Returns
// ErrTooLate if the timer was not armed, which includes the case where it
// already fired. Must not be called from a timer callback.
func (w *Wheel) Cancel(t *Timer) error {
	if t == nil {
		return status.ErrInvalidParameter
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	t.gen++
	for t.firing {
		w.idle.Wait()
	}
	if !t.queued {
		return status.ErrTooLate
	}
	heap.Remove(&w.timers, t.index)
	t.queued = false
	return nil
}

// Close stops the wheel and waits out any callback already in delivery.
// Armed timers never fire after Close returns. Must not be called from a
// timer callback.
func (w *Wheel) Close() {
	w.mu.Lock()
	w.closed = true
	for len(w.timers) > 0 {
		t := heap.Pop(&w.timers).(*Timer)
		t.queued = false
	}
	for w.inflight > 0 {
		w.idle.Wait()
	}
	w.mu.Unlock()
	w.poke()
}

func (w *Wheel) poke() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Wheel) run() {
	sleeper := time.NewTimer(time.Hour)
	defer sleeper.Stop()
	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		var fired []*Timer
		var gens []uint64
		now := time.Now()
		for len(w.timers) > 0 && !w.timers[0].deadline.After(now) {
			t := heap.Pop(&w.timers).(*Timer)
			t.queued = false
			fired = append(fired, t)
			gens = append(gens, t.gen)
		}
		var wait time.Duration
		if len(w.timers) > 0 {
			wait = time.Until(w.timers[0].deadline)
		} else {
			wait = time.Hour
		}
		w.mu.Unlock()

		// Callbacks run outside the wheel lock; they may re-arm timers. Each
		// delivery rechecks the generation so a Cancel or re-Queue that
		// landed after the pop drops the expiration instead of running it.
		for i, t := range fired {
			w.mu.Lock()
			if w.closed || t.gen != gens[i] {
				w.mu.Unlock()
				continue
			}
			t.firing = true
			w.inflight++
			w.mu.Unlock()
			t.fire()
			w.mu.Lock()
			t.firing = false
			w.inflight--
			w.idle.Broadcast()
			w.mu.Unlock()
		}

		if !sleeper.Stop() {
			select {
			case <-sleeper.C:
			default:
			}
		}
		sleeper.Reset(wait)
		select {
		case <-sleeper.C:
		case <-w.kick:
		}
	}
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
