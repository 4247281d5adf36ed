package waitq

// SignalState is the four-valued state of a wait queue. The zero value is
// NotSignaled so a zero Queue starts closed.
type SignalState uint32

const (
	// NotSignaled means no one may pass; waiters must block.
	NotSignaled SignalState = iota
	// NotSignaledWithWaiters means blocked threads are queued; signalers
	// must take the lock-held slow path.
	NotSignaledWithWaiters
	// SignaledForOne carries one credit of permission, consumed atomically
	// by exactly one passer.
	SignaledForOne
	// Signaled is the open gate: every waiter, present or future, passes
	// until the queue is explicitly unsignaled.
	Signaled
)

// String returns the state name.
func (s SignalState) String() string {
	switch s {
	case NotSignaled:
		return "not-signaled"
	case NotSignaledWithWaiters:
		return "not-signaled-with-waiters"
	case SignaledForOne:
		return "signaled-for-one"
	case Signaled:
		return "signaled"
	default:
		return "invalid"
	}
}

// SignalOption selects the behavior of a signal operation.
type SignalOption uint8

const (
	// SignalAll opens the gate and leaves it open.
	SignalAll SignalOption = iota
	// SignalOne releases one waiter, or leaves a single durable credit if
	// no waiter could be woken.
	SignalOne
	// Pulse releases every current waiter without changing the state.
	Pulse
	// Unsignal closes the gate without touching waiters.
	Unsignal
)

// String returns the option name.
func (o SignalOption) String() string {
	switch o {
	case SignalAll:
		return "all"
	case SignalOne:
		return "one"
	case Pulse:
		return "pulse"
	case Unsignal:
		return "unsignal"
	default:
		return "invalid"
	}
}
