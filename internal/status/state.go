// Package status holds the connection state machine of the protocol
// session.
package status

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wppagent/internal/bus"
)

// State is the connection state of the protocol session.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Disconnected State = "DISCONNECTED"
)

// All lists every state, in lifecycle order.
var All = []State{Idle, Connecting, Connected, Disconnected}

var ErrInvalidTransition = errors.New("invalid state transition")

// edges[from] holds the states reachable from from. Any state may return
// to Idle on an explicit disconnect.
var edges = map[State]map[State]bool{
	Idle:         {Connecting: true},
	Connecting:   {Connected: true, Disconnected: true, Idle: true},
	Connected:    {Disconnected: true, Idle: true},
	Disconnected: {Connecting: true, Idle: true},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	return edges[from][to]
}

// StatusChange is the payload of bus.KindConnStateChanged.
type StatusChange struct {
	From State
	To   State
	At   time.Time
}

// Machine guards the current state and announces every accepted change.
type Machine struct {
	bus *bus.Bus
	now func() time.Time

	mu      sync.RWMutex
	current State
	entered time.Time
}

// NewMachine returns a machine in Idle. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{bus: b, now: time.Now, current: Idle, entered: time.Now()}
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entered
}

// Transition moves to to, or returns an error wrapping ErrInvalidTransition
// and leaves the state untouched.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	at := m.now()
	m.current, m.entered = to, at
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnStateChanged,
			Timestamp: at,
			Payload:   StatusChange{From: from, To: to, At: at},
		})
	}
	return nil
}
