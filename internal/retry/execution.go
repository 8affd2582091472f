package retry

import "sync"

// State is the position of an Execution in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateDelaying
	StateSucceeded
	StateExhausted
	StateCanceled
	// StateAborted marks a call whose operation panicked.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateDelaying:
		return "delaying"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateCanceled:
		return "canceled"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Execution is the observable state of one retried call. Each call owns its
// own Execution, so overlapping calls never share a retrying flag.
type Execution struct {
	mu       sync.RWMutex
	state    State
	attempt  int
	inFlight bool
}

// NewExecution returns an idle execution handle.
func NewExecution() *Execution {
	return &Execution{}
}

// Retrying reports whether the call is between its first attempt and its
// resolution.
func (e *Execution) Retrying() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inFlight
}

// Attempt is the 1-based index of the current or last attempt; 0 before the
// first attempt.
func (e *Execution) Attempt() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attempt
}

func (e *Execution) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Execution) begin() {
	e.mu.Lock()
	e.inFlight = true
	e.attempt = 0
	e.state = StateIdle
	e.mu.Unlock()
}

func (e *Execution) set(state State, attempt int) {
	e.mu.Lock()
	e.state = state
	e.attempt = attempt
	e.mu.Unlock()
}

func (e *Execution) finish(state State) {
	e.mu.Lock()
	e.state = state
	e.inFlight = false
	e.mu.Unlock()
}

// abort resolves an execution that left Run without reaching a terminal state.
func (e *Execution) abort() {
	e.mu.Lock()
	if e.inFlight {
		e.state = StateAborted
		e.inFlight = false
	}
	e.mu.Unlock()
}
