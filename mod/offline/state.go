package offline

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrIllegalTransition is returned when a lifecycle edge is not allowed
	ErrIllegalTransition = errors.New("illegal lifecycle transition")

	// ErrNotActive is returned by operations that need an active manager
	ErrNotActive = errors.New("manager is not active")
)

// State is the lifecycle state of a manager
type State int

const (
	StateInstalling State = iota
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText lets the state appear by name in JSON status reports
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// legal lists the allowed edges. Skip-waiting uses the same
// installing -> active edge, only without waiting for clients.
var legal = map[State]State{
	StateInstalling: StateActive,
	StateActive:     StateRedundant,
}

type lifecycle struct {
	mu    sync.RWMutex
	state State
}

func (l *lifecycle) get() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// transition moves to next if the current state allows it
func (l *lifecycle) transition(next State) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.state
	if to, ok := legal[prev]; !ok || to != next {
		return prev, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, prev, next)
	}
	l.state = next
	return prev, nil
}
