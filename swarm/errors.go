package swarm

import "errors"

// Sentinel errors returned by the coordination layer. All store I/O failures
// inside periodic loops are logged and swallowed; these surface only from
// direct calls on the Coordinator and its components.
var (
	// ErrSwarmUnavailable indicates the shared store could not be reached at
	// startup and the node is running in standalone mode.
	ErrSwarmUnavailable = errors.New("swarm: shared store unavailable")

	// ErrTaskNotFound indicates no status record exists for a task id.
	ErrTaskNotFound = errors.New("swarm: task not found")

	// ErrExecutorMissing indicates a declared capability has no registered
	// executor. Raised at startup, never at dispatch time.
	ErrExecutorMissing = errors.New("swarm: capability has no registered executor")

	// ErrNotStarted indicates an operation that requires a started
	// coordinator was invoked before Start.
	ErrNotStarted = errors.New("swarm: coordinator not started")

	// ErrInvalidConfig indicates the coordinator configuration failed
	// validation.
	ErrInvalidConfig = errors.New("swarm: invalid configuration")
)
