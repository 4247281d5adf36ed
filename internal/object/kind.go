package object

// Kind classifies an object in the tree. The wait machinery treats all kinds
// alike; kinds exist so tools and dumps can tell an event from a directory.
type Kind uint8

const (
	// KindInvalid is the zero value and never a valid object kind.
	KindInvalid Kind = iota
	// KindDirectory is a pure container of other objects.
	KindDirectory
	// KindEvent is a plain signalable object.
	KindEvent
	// KindQueuedLock is a mutual-exclusion object built on signal-one.
	KindQueuedLock
	// KindTimer is an object signaled by time.
	KindTimer
	// KindDevice represents a device node.
	KindDevice
	// KindPipe represents a byte pipe endpoint pair.
	KindPipe
	// KindEndpoint represents a communication endpoint.
	KindEndpoint

	kindCount
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindEvent:
		return "event"
	case KindQueuedLock:
		return "queued-lock"
	case KindTimer:
		return "timer"
	case KindDevice:
		return "device"
	case KindPipe:
		return "pipe"
	case KindEndpoint:
		return "endpoint"
	default:
		return "invalid"
	}
}

// Valid reports whether k names a real object kind.
func (k Kind) Valid() bool {
	return k > KindInvalid && k < kindCount
}
