package session

import (
	"sync"
	"time"
)

// State is the presentation session state.
type State int

const (
	StateIdle State = iota
	StatePresenting
	StateEnded
	StateConversationPending
	StateConversationReady
	StateConversationFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePresenting:
		return "presenting"
	case StateEnded:
		return "ended"
	case StateConversationPending:
		return "conversation_pending"
	case StateConversationReady:
		return "conversation_ready"
	case StateConversationFailed:
		return "conversation_failed"
	default:
		return "unknown"
	}
}

var validTransitions = map[State][]State{
	StateIdle:                {StatePresenting},
	StatePresenting:          {StateEnded, StateIdle},
	StateEnded:               {StatePresenting, StateConversationPending, StateIdle},
	StateConversationPending: {StateConversationReady, StateConversationFailed, StateIdle},
	StateConversationReady:   {StatePresenting, StateIdle},
	StateConversationFailed:  {StateEnded, StatePresenting, StateIdle},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

type stateMachine struct {
	mu        sync.RWMutex
	current   State
	listeners []func(StateChange)
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateIdle}
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to state, notifying listeners after the lock is released.
func (m *stateMachine) Transition(state State, reason string) error {
	m.mu.Lock()
	if !CanTransition(m.current, state) {
		err := &InvalidTransitionError{From: m.current, To: state}
		m.mu.Unlock()
		return err
	}
	event := StateChange{
		FromState: m.current,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.current = state
	listeners := append([]func(StateChange){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
	return nil
}

func (m *stateMachine) AddListener(fn func(StateChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}
