package agent

import "nimbus/internal/check"

// State describes the agent lifecycle state.
type State uint8

const (
	StateUninitialized State = iota
	StateInitialized
	StateStarting
	StateStarted
	StateStopRequested
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopRequested:
		return "stop_requested"
	default:
		return "unknown"
	}
}

// validTransition reports whether from -> to is a legal lifecycle move.
// StopRequested -> Started looks odd but is real: a stop raised while the
// startup sequencer is still running is overwritten when the sequencer
// reaches Started. Stop latency only holds in the dispatch loop.
func validTransition(from, to State) bool {
	switch from {
	case StateUninitialized:
		return to == StateInitialized
	case StateInitialized:
		return to == StateStarting || to == StateUninitialized
	case StateStarting:
		return to == StateStarted || to == StateInitialized || to == StateStopRequested
	case StateStarted:
		return to == StateStopRequested || to == StateInitialized
	case StateStopRequested:
		return to == StateInitialized || to == StateStarted || to == StateStopRequested
	}
	return false
}

// setState transitions the lifecycle state. Callers must not hold a.mu.
func (a *Agent) setState(to State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setStateLocked(to)
}

func (a *Agent) setStateLocked(to State) {
	check.Assertf(validTransition(a.state, to), "state transition: %s -> %s", a.state, to)
	a.state = to
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
