// Package status defines the error taxonomy shared by the object-wait core.
//
// Callers compare with errors.Is; layers above wrap these with context via
// fmt.Errorf and %w. Conditions that indicate corruption (reference count
// underflow, an impossible queue state) are not errors at all: they panic,
// since continuing would risk a use-after-free.
package status

import "errors"

var (
	// ErrTimeout reports that the built-in timeout queue satisfied the wait.
	// It is a normal, non-exceptional outcome.
	ErrTimeout = errors.New("wait timed out")

	// ErrInterrupted reports that an asynchronous wake won the race against
	// the queues being waited on. Callers must treat the state of the waited
	// objects as unknown.
	ErrInterrupted = errors.New("wait interrupted")

	// ErrInsufficientResources reports an allocation failure while building
	// an oversized wait block, a name, or a new object.
	ErrInsufficientResources = errors.New("insufficient resources")

	// ErrNotFound reports a path lookup miss.
	ErrNotFound = errors.New("object not found")

	// ErrAlreadyNamed reports a second attempt to name an object.
	ErrAlreadyNamed = errors.New("object already named")

	// ErrTooLate reports that a concurrent namer won the race.
	ErrTooLate = errors.New("lost naming race")

	// ErrInvalidParameter reports a malformed request.
	ErrInvalidParameter = errors.New("invalid parameter")
)
