package launcher

// State is a step in the launch lifecycle:
// NotStarted -> Validating -> (Failed | Launching) -> Running -> Exited.
// Failed and Exited are terminal.
type State int

const (
	StateNotStarted State = iota
	StateValidating
	StateFailed
	StateLaunching
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateValidating:
		return "validating"
	case StateFailed:
		return "failed"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen from s
func (s State) Terminal() bool {
	return s == StateFailed || s == StateExited
}

var transitions = map[State][]State{
	StateNotStarted: {StateValidating},
	StateValidating: {StateFailed, StateLaunching},
	StateLaunching:  {StateFailed, StateRunning},
	StateRunning:    {StateFailed, StateExited},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
