package dspstream

// State identifies one of the possible states stream can be in.
type State int

// states
const (
	// Idle means that transfer is halted and buffers are stable. Stream
	// can be started or reconfigured.
	Idle State = iota
	// Streaming means that transfer and processing are running.
	Streaming
	// StopRequested means that stop was armed, but transfer still didn't
	// reach the block boundary.
	StopRequested
	// Draining means that caller waits for the final block to be processed.
	Draining
)

// event identifies the type of event
type event int

// types of events.
const (
	start event = iota
	stop
	drain
	drained
	timeout
	reconfigure
	snapshot
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case StopRequested:
		return "stop requested"
	case Draining:
		return "draining"
	}
	return "unknown"
}

// Convert the event to a string.
func (e event) String() string {
	switch e {
	case start:
		return "start"
	case stop:
		return "stop"
	case drain:
		return "drain"
	case drained:
		return "drained"
	case timeout:
		return "timeout"
	case reconfigure:
		return "reconfigure"
	case snapshot:
		return "snapshot"
	}
	return "unknown"
}

// transition returns the state reached by e from s. ErrInvalidState is
// returned if event isn't allowed in s.
func (s State) transition(e event) (State, error) {
	switch s {
	case Idle:
		switch e {
		case start:
			return Streaming, nil
		}
	case Streaming:
		switch e {
		case stop:
			return StopRequested, nil
		}
	case StopRequested:
		switch e {
		case start:
			return Streaming, nil
		case drain:
			return Draining, nil
		}
	case Draining:
		switch e {
		case drained:
			return Idle, nil
		case timeout:
			return StopRequested, nil
		}
	}
	return s, &StateError{State: s, event: e}
}
