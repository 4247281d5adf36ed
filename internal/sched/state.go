package sched

// State describes the externally visible scheduling state of a thread.
//
// Blocking and Suspending are transitional: the thread has decided to leave
// the processor but has not finished parking. Code that needs to poke such a
// thread spins briefly until the transition completes; the windows are a few
// instructions wide by construction.
type State uint32

const (
	// StateInvalid is the zero value and never a legal state.
	StateInvalid State = iota
	// StateReady means the thread is runnable and waiting for a processor.
	StateReady
	// StateRunning means the thread is executing.
	StateRunning
	// StateBlocking means the thread is on its way into a blocked wait.
	StateBlocking
	// StateBlocked means the thread is parked inside a wait.
	StateBlocked
	// StateSuspending means the thread is on its way into a bare suspend.
	StateSuspending
	// StateSuspended means the thread is parked without waiting on anything.
	StateSuspended
	// StateWaking means a waker won the race to pull the thread out of a
	// parked state and is about to make it ready.
	StateWaking
	// StateExited means the thread body has returned.
	StateExited
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocking:
		return "blocking"
	case StateBlocked:
		return "blocked"
	case StateSuspending:
		return "suspending"
	case StateSuspended:
		return "suspended"
	case StateWaking:
		return "waking"
	case StateExited:
		return "exited"
	default:
		return "invalid"
	}
}
