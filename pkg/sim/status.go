package sim

// Status is the lifecycle state of a simulation run. Transitions are
// monotonic: Running is the initial state and the other three are terminal.
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusSuccess  Status = "SUCCESS"
	StatusTimedOut Status = "TIMED_OUT"
	StatusCanceled Status = "CANCELED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s != StatusRunning
}
