package questline

// QueueState represents the lifecycle state of a player's queue.
// Use the exported constants (StateIdle, StateRunning, StatePaused) instead of
// raw strings to avoid typos.
type QueueState string

const (
	// StateIdle means the queue has no current task and nothing pending.
	StateIdle QueueState = "idle"
	// StateRunning means the current task is accruing progress.
	StateRunning QueueState = "running"
	// StatePaused means progress is frozen until an explicit resume.
	StatePaused QueueState = "paused"
)

// AllStates lists every valid queue state in a stable order.
var AllStates = []QueueState{StateIdle, StateRunning, StatePaused}

// String returns the raw string value of the state.
func (s QueueState) String() string { return string(s) }

// ParseState converts a string into a QueueState, returning an error for
// unknown values.
func ParseState(s string) (QueueState, error) {
	switch s {
	case string(StateIdle):
		return StateIdle, nil
	case string(StateRunning):
		return StateRunning, nil
	case string(StatePaused):
		return StatePaused, nil
	default:
		return "", ErrUnknownState
	}
}
