package object

import (
	"time"

	"kwait/internal/ktimer"
	"kwait/internal/ktrace"
	"kwait/internal/sched"
	"kwait/internal/waitq"
)

// Wheel returns the timer wheel driving the tree's wait timeouts.
func (tr *Tree) Wheel() *ktimer.Wheel {
	return tr.wheel
}

// Signal applies a signal operation to an object's queue.
func (tr *Tree) Signal(o *Object, option waitq.SignalOption) {
	o.queue.Signal(option)
	if tr.tracer.Enabled(ktrace.LevelAll) {
		name, _ := o.Name()
		tr.tracer.Emit(ktrace.Event{
			Time:   time.Now(),
			Kind:   ktrace.KindSignal,
			Object: name,
			Detail: option.String(),
		})
	}
}

// WaitOnQueue blocks the thread on a single queue for at most timeout.
func (tr *Tree) WaitOnQueue(t *sched.Thread, q *waitq.Queue, flags waitq.Flags, timeout time.Duration) error {
	return waitq.WaitOne(t, tr.wheel, q, flags, timeout)
}

// WaitOnQueues blocks the thread until one (any-mode) or all (all-mode) of
// the queues have signaled, returning the queue that satisfied the wait. A
// caller that waits on the same large set repeatedly can pass a preallocated
// block; pre may be nil.
func (tr *Tree) WaitOnQueues(t *sched.Thread, queues []*waitq.Queue, flags waitq.Flags, timeout time.Duration, pre *waitq.Block) (*waitq.Queue, error) {
	return waitq.WaitMany(t, tr.wheel, queues, flags, timeout, pre)
}

// WaitOnObjects is WaitOnQueues over the objects' embedded queues, returning
// the object whose queue satisfied the wait.
func (tr *Tree) WaitOnObjects(t *sched.Thread, objects []*Object, flags waitq.Flags, timeout time.Duration, pre *waitq.Block) (*Object, error) {
	queues := make([]*waitq.Queue, len(objects))
	for i, o := range objects {
		queues[i] = &o.queue
	}
	sig, err := waitq.WaitMany(t, tr.wheel, queues, flags, timeout, pre)
	if err != nil {
		return nil, err
	}
	for _, o := range objects {
		if &o.queue == sig {
			return o, nil
		}
	}
	panic("object: wait resolved by a queue outside the set")
}

// BlockingQueue returns the first queue a blocked thread is waiting on, or
// nil if the thread is not blocked on anything. Meant for profilers sampling
// other threads; the result may be stale the moment it is returned and
// carries no reference.
func BlockingQueue(t *sched.Thread) *waitq.Queue {
	if t.State() != sched.StateBlocked {
		return nil
	}
	b, ok := t.WaitBlock.(*waitq.Block)
	if !ok {
		return nil
	}
	return b.FirstTarget()
}
