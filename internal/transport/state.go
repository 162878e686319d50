package transport

import (
	"fmt"
	"sync"

	pkgerrors "github.com/reclamflow/feed/pkg/errors"
)

// State is the lifecycle position of the broker subscription.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event drives a state transition.
type Event string

const (
	EventConnect   Event = "connect"
	EventConnected Event = "connected"
	EventError     Event = "error"
	EventTeardown  Event = "teardown"
)

var transitions = map[State]map[Event]State{
	StateDisconnected: {
		EventConnect:  StateConnecting,
		EventTeardown: StateDisconnected,
	},
	StateConnecting: {
		EventConnected: StateConnected,
		EventError:     StateDisconnected,
		EventTeardown:  StateDisconnected,
	},
	StateConnected: {
		EventError:    StateDisconnected,
		EventTeardown: StateDisconnected,
	},
}

// Transition describes one applied event.
type Transition struct {
	From  State
	To    State
	Event Event
	Err   error
}

// Observer is told about every applied transition.
type Observer func(Transition)

// Machine is the table-driven subscription state machine.
type Machine struct {
	mu        sync.Mutex
	state     State
	observers []Observer
}

func NewMachine() *Machine {
	return &Machine{state: StateDisconnected}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Observe registers o for all future transitions.
func (m *Machine) Observe(o Observer) {
	if o == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// Fire applies ev. Events the current state does not accept are rejected and
// leave the state untouched.
func (m *Machine) Fire(ev Event, cause error) (Transition, error) {
	m.mu.Lock()
	next, ok := transitions[m.state][ev]
	if !ok {
		from := m.state
		m.mu.Unlock()
		return Transition{}, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("event %s not allowed while %s", ev, from))
	}
	transition := Transition{From: m.state, To: next, Event: ev, Err: cause}
	m.state = next
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	for _, observer := range observers {
		observer(transition)
	}
	return transition, nil
}
