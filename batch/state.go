package batch

// State is the lifecycle state of a Batch or a single BatchRequest.
//
// Batches move Pending → Submitted → Running → one of the terminal states.
// Requests only ever use Pending, Completed and Failed.
type State string

const (
	StatePending   State = "pending"
	StateSubmitted State = "submitted"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// FromAPIState maps a Gemini job state string onto the local state set.
// Unknown states map to StateFailed, so a new remote state can never leave
// a batch stuck in an active state.
func FromAPIState(s string) State {
	switch s {
	case "JOB_STATE_PENDING":
		return StateSubmitted
	case "JOB_STATE_RUNNING":
		return StateRunning
	case "JOB_STATE_SUCCEEDED":
		return StateCompleted
	case "JOB_STATE_FAILED":
		return StateFailed
	case "JOB_STATE_CANCELLED":
		return StateCancelled
	case "JOB_STATE_EXPIRED":
		return StateExpired
	default:
		return StateFailed
	}
}

// IsTerminal reports whether no further lifecycle transition can occur.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateExpired:
		return true
	}
	return false
}

// IsActive reports whether the batch is still progressing through the pipeline.
func (s State) IsActive() bool {
	switch s {
	case StatePending, StateSubmitted, StateRunning:
		return true
	}
	return false
}

// ActiveStates returns the non-terminal states, in lifecycle order.
func ActiveStates() []State {
	return []State{StatePending, StateSubmitted, StateRunning}
}

// TerminalStates returns the states from which no transition is possible.
func TerminalStates() []State {
	return []State{StateCompleted, StateFailed, StateCancelled, StateExpired}
}

// InputMode records how a batch's requests were transmitted to the API.
type InputMode string

const (
	// InputModeInline sends requests inside the create-batch call.
	InputModeInline InputMode = "inline"
	// InputModeFile uploads requests as a JSONL file first.
	InputModeFile InputMode = "file"
)
