package waitq

// Entry links one wait block onto one queue's waiter list. While a wait is
// being set up or torn down the entry may be "linked" (reachable from a
// queue's waiter list or a signaler's local release list) or idle. The
// linked marker is written only under the owning block's lock; the list
// pointers only under the relevant queue's lock.
type Entry struct {
	block  *Block
	queue  *Queue
	next   *Entry
	prev   *Entry
	linked bool
}

// waiterList is a FIFO intrusive list of wait block entries. All operations
// require the lock of whichever structure owns the list; the list itself
// never allocates.
type waiterList struct {
	head *Entry
	tail *Entry
}

func (l *waiterList) empty() bool {
	return l.head == nil
}

func (l *waiterList) pushBack(e *Entry) {
	e.prev = l.tail
	e.next = nil
	if l.tail != nil {
		l.tail.next = e
	} else {
		l.head = e
	}
	l.tail = e
}

func (l *waiterList) popFront() *Entry {
	e := l.head
	if e == nil {
		return nil
	}
	l.remove(e)
	return e
}

func (l *waiterList) remove(e *Entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.next = nil
	e.prev = nil
}
