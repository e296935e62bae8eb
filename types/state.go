package types

// State represents the processor lifecycle state.
//
//	StateInit → StateStarting → StateRunning → StateStopping → StateStopped
//
// A stopped processor may be started again.
type State int

const (
	// StateInit is the state before the first Start.
	StateInit State = iota

	// StateStarting indicates Start is running its first discovery pass.
	StateStarting

	// StateRunning indicates the partition controller loop is active.
	StateRunning

	// StateStopping indicates Stop is cancelling workers and releasing leases.
	StateStopping

	// StateStopped indicates all background work has terminated.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// CanStart reports whether Start may be called from this state.
func (s State) CanStart() bool {
	return s == StateInit || s == StateStopped
}
