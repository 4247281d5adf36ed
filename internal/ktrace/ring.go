package ktrace

import "sync"

// RingTracer keeps the most recent events in a fixed circular buffer, for
// post-mortem inspection after a scenario run or a test failure.
type RingTracer struct {
	mu     sync.Mutex
	level  Level
	events []Event
	next   int
	full   bool
}

// NewRing returns a ring tracer holding up to size events.
func NewRing(size int, level Level) *RingTracer {
	if size <= 0 {
		size = 1024
	}
	return &RingTracer{level: level, events: make([]Event, size)}
}

// Emit records an event, overwriting the oldest once the ring is full.
func (r *RingTracer) Emit(ev Event) {
	if ev.Seq == 0 {
		ev.Seq = NextSeq()
	}
	r.mu.Lock()
	r.events[r.next] = ev
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Level returns the recording level.
func (r *RingTracer) Level() Level { return r.level }

// Enabled reports whether events at the given level are recorded.
func (r *RingTracer) Enabled(level Level) bool { return level <= r.level }

// Snapshot returns the buffered events, oldest first.
func (r *RingTracer) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Event, r.next)
		copy(out, r.events[:r.next])
		return out
	}
	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}
