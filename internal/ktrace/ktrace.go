// Package ktrace records object-wait core events: object lifecycle, signal
// delivery, waits, and wakes. Tracing is off the hot path; the wait and
// signal algorithms never emit events themselves, the object layer and the
// scenario harness do.
package ktrace

import (
	"sync/atomic"
	"time"
)

// Kind identifies a trace event.
type Kind uint8

const (
	// KindCreate records an object creation.
	KindCreate Kind = iota + 1
	// KindDestroy records an object reaching zero references.
	KindDestroy
	// KindSignal records a signal operation on a queue.
	KindSignal
	// KindWaitBegin records a thread entering a wait.
	KindWaitBegin
	// KindWaitEnd records a wait resolving.
	KindWaitEnd
	// KindWake records an asynchronous wake attempt.
	KindWake
	// KindInterrupt records a wake attempt aimed at interrupting a wait.
	KindInterrupt
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindDestroy:
		return "destroy"
	case KindSignal:
		return "signal"
	case KindWaitBegin:
		return "wait-begin"
	case KindWaitEnd:
		return "wait-end"
	case KindWake:
		return "wake"
	case KindInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Level controls how much is recorded.
type Level uint8

const (
	// LevelOff disables tracing entirely.
	LevelOff Level = iota
	// LevelLifecycle records object creation and destruction.
	LevelLifecycle
	// LevelAll additionally records signals, waits, and wakes.
	LevelAll
)

// Event is a single trace record.
type Event struct {
	Time   time.Time
	Seq    uint64
	Kind   Kind
	Thread string // thread name, empty when not thread-attributed
	Object string // object name or path
	Detail string
}

// Tracer receives events. Implementations must be goroutine-safe.
type Tracer interface {
	Emit(ev Event)
	Level() Level
	// Enabled reports whether events at the given level are recorded;
	// callers use it to skip building event payloads.
	Enabled(level Level) bool
}

var seq atomic.Uint64

// NextSeq returns the next global event sequence number.
func NextSeq() uint64 {
	return seq.Add(1)
}

type nopTracer struct{}

func (nopTracer) Emit(Event) {}

func (nopTracer) Level() Level { return LevelOff }

func (nopTracer) Enabled(Level) bool { return false }

// Nop returns a tracer that drops everything.
func Nop() Tracer {
	return nopTracer{}
}
