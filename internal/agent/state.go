package agent

import "fmt"

// State is the orchestrator state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSuggesting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSuggesting:
		return "suggesting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
