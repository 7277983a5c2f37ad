package sim

import "errors"

// Error taxonomy of the coordination service. Invalid commands on a unit
// stream are logged and ignored rather than surfaced; relay drops are part
// of the redundancy model, not errors.
var (
	// ErrRunNotFound marks an unknown simulation id.
	ErrRunNotFound = errors.New("simulation not found")

	// ErrAgentNotFound marks a command referencing an unknown agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAlreadyLaunched marks a second launch attempt while a strike
	// unit is active.
	ErrAlreadyLaunched = errors.New("strike unit already launched")

	// ErrTerminal marks a state-changing operation against a run that
	// already reached a terminal status.
	ErrTerminal = errors.New("simulation already in a terminal state")
)
