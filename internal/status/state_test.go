package status

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/wppagent/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connecting},
		{Connecting, Connected},
		{Connecting, Disconnected},
		{Connecting, Idle},
		{Connected, Disconnected},
		{Connected, Idle},
		{Disconnected, Connecting},
		{Disconnected, Idle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connected},
		{Idle, Disconnected},
		{Connected, Connecting},
		{Disconnected, Connected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want unchanged %s", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindConnStateChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindConnStateChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Connecting {
		t.Errorf("change = %v -> %v, want IDLE -> CONNECTING", change.From, change.To)
	}
	if !change.At.Equal(m.Since()) || !evt.Timestamp.Equal(change.At) {
		t.Errorf("change at %v, event at %v, since %v", change.At, evt.Timestamp, m.Since())
	}
}

func TestSinceMovesOnlyOnAcceptedTransition(t *testing.T) {
	m := NewMachine(nil)
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return clock }

	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if !m.Since().Equal(clock) {
		t.Fatalf("since = %v, want %v", m.Since(), clock)
	}

	clock = clock.Add(time.Minute)
	if err := m.Transition(Idle); err != nil {
		t.Fatal(err)
	}
	entered := m.Since()
	clock = clock.Add(time.Minute)
	if err := m.Transition(Connected); err == nil {
		t.Fatal("IDLE -> CONNECTED accepted")
	}
	if !m.Since().Equal(entered) {
		t.Errorf("since moved on a rejected transition: %v", m.Since())
	}
}

func TestCanTransitionCoversAllStates(t *testing.T) {
	for _, s := range All {
		if !CanTransition(s, Idle) && s != Idle {
			t.Errorf("%s cannot return to IDLE", s)
		}
		if CanTransition(s, s) {
			t.Errorf("%s -> %s self edge", s, s)
		}
	}
}

// TestReconnectCycle walks the loop a dropped connection goes through:
// CONNECTED → DISCONNECTED → CONNECTING → CONNECTED
func TestReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	for _, s := range []State{Disconnected, Connecting, Connected} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:         {},
		Connecting:   {Connecting},
		Connected:    {Connecting, Connected},
		Disconnected: {Connecting, Disconnected},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
