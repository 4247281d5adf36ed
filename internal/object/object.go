// Package object implements the reference-counted object tree the wait core
// hangs off of. Every object embeds a wait queue, and that queue's lock is
// the object's only lock: it guards the child list and the name as well as
// the queue itself.
package object

import (
	"sync/atomic"

	"kwait/internal/waitq"
)

// refSanityLimit bounds plausible reference counts. A count at or above it,
// or an increment from zero, means a stale pointer and is unrecoverable.
const refSanityLimit = 1 << 28

// Object is a node in the tree. All fields besides the reference count are
// guarded by a queue lock: name and the parent link by the parent's, the
// child list by the object's own.
type Object struct {
	kind Kind
	refs atomic.Int64

	parent *Object
	name   string
	named  bool

	children []*Object

	queue waitq.Queue

	// destroy runs after the object is unlinked from its parent, before the
	// release cascade moves up.
	destroy func(*Object)
}

// Kind returns the object's kind.
func (o *Object) Kind() Kind {
	return o.kind
}

// Queue returns the object's embedded wait queue.
func (o *Object) Queue() *waitq.Queue {
	return &o.queue
}

// Name returns the object's name and whether it has one. Unnamed objects are
// invisible to lookup but otherwise fully functional.
func (o *Object) Name() (string, bool) {
	p := o.parent
	if p == nil {
		return o.name, o.named
	}
	p.queue.Lock()
	name, named := o.name, o.named
	p.queue.Unlock()
	return name, named
}

// Parent returns the object's parent, nil only for the root.
func (o *Object) Parent() *Object {
	return o.parent
}

// RefCount returns the current reference count. Only useful for diagnostics;
// the value may be stale by the time the caller looks at it.
func (o *Object) RefCount() int64 {
	return o.refs.Load()
}

// AddRef takes an additional reference. The caller must already hold one;
// reviving an object from zero is a use-after-free and panics.
func (o *Object) AddRef() {
	old := o.refs.Add(1) - 1
	if old == 0 || old >= refSanityLimit {
		panic("object: reference count corruption on add")
	}
}

// TryAddRef takes a reference unless the count has already drained to zero,
// in which case a releaser is committed to destroying the object and the pin
// is backed out. Callers must hold the parent's queue lock so the transient
// increment stays invisible to the releaser's final check under that lock.
// Returns whether the reference was taken.
func (o *Object) TryAddRef() bool {
	old := o.refs.Add(1) - 1
	if old == 0 {
		o.refs.Add(-1)
		return false
	}
	if old >= refSanityLimit {
		panic("object: reference count corruption on add")
	}
	return true
}

// Release drops a reference. When the last one goes, the object is unlinked
// from its parent, its destroy hook runs, and the parent loses the reference
// the child held on it, iteratively up the tree rather than recursively so a
// deep chain of sole-referenced ancestors cannot exhaust the stack.
func (o *Object) Release() {
	cur := o
	for {
		old := cur.refs.Add(-1) + 1
		if old <= 0 || old >= refSanityLimit {
			panic("object: reference count corruption on release")
		}
		if old != 1 {
			return
		}

		if cur.queue.HasWaiters() {
			panic("object: destroying an object with waiters")
		}
		if len(cur.children) != 0 {
			panic("object: destroying an object with children")
		}
		parent := cur.parent
		if parent == nil {
			panic("object: root reference count reached zero")
		}

		parent.queue.Lock()
		// A lookup that raced with this release would have pinned the count
		// back up under the parent's lock; holding it now, zero is final.
		if cur.refs.Load() != 0 {
			panic("object: object revived during destruction")
		}
		parent.removeChild(cur)
		parent.queue.Unlock()
		cur.parent = nil

		if cur.destroy != nil {
			cur.destroy(cur)
		}

		// The child held a reference on the parent; dropping it may cascade.
		cur = parent
	}
}

// VisitChildren calls fn for each current child, under the object's queue
// lock. fn must not take locks that could block; tree dumps pin what they
// need inside the callback with TryAddRef.
func (o *Object) VisitChildren(fn func(*Object)) {
	o.queue.Lock()
	for _, c := range o.children {
		fn(c)
	}
	o.queue.Unlock()
}

// removeChild drops c from p's child list. Caller holds p's queue lock.
// Order is not meaningful, so the hole is filled from the tail.
func (p *Object) removeChild(c *Object) {
	for i, ch := range p.children {
		if ch == c {
			last := len(p.children) - 1
			p.children[i] = p.children[last]
			p.children[last] = nil
			p.children = p.children[:last]
			return
		}
	}
	panic("object: child missing from parent list")
}
