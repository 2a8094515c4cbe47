package callstate

import (
	"testing"

	"github.com/voxsec/voxsec/internal/bus"
)

func newMachine(t *testing.T) (*Machine, *bus.Bus) {
	t.Helper()
	b := bus.New("call-test")
	t.Cleanup(b.Close)
	return New("call-test", b), b
}

// drive fires a sequence of triggers, failing the test if any is blocked.
func drive(t *testing.T, m *Machine, triggers ...Trigger) {
	t.Helper()
	for _, tr := range triggers {
		if !m.Fire(tr, nil) {
			t.Fatalf("trigger %q blocked in state %q", tr, m.Current())
		}
	}
}

func TestState_Hierarchy(t *testing.T) {
	tests := []struct {
		state  State
		family State
		want   bool
	}{
		{ActiveListening, Active, true},
		{ActiveSpeaking, Active, true},
		{Active, Active, true},
		{Active, ActiveListening, false},
		{TransferringDialing, Transferring, true},
		{OnHold, Active, false},
		{Bridged, Transferring, false},
	}
	for _, tt := range tests {
		if got := tt.state.Is(tt.family); got != tt.want {
			t.Errorf("%q.Is(%q) = %v, want %v", tt.state, tt.family, got, tt.want)
		}
	}
}

func TestMachine_GreetingAndHangupPath(t *testing.T) {
	m, _ := newMachine(t)

	drive(t, m,
		TriggerStartCall,
		TriggerCallConnected,
		TriggerAIStartsSpeaking,
		TriggerAIStopsSpeaking,
		TriggerEndCall,
		TriggerCallEnded,
	)

	if m.Current() != Ended {
		t.Errorf("final state = %q, want ended", m.Current())
	}

	wantPath := []State{Connecting, ActiveListening, ActiveSpeaking, ActiveListening, Ending, Ended}
	hist := m.History()
	if len(hist) != len(wantPath) {
		t.Fatalf("history length = %d, want %d", len(hist), len(wantPath))
	}
	for i, tr := range hist {
		if tr.To != wantPath[i] {
			t.Errorf("transition %d entered %q, want %q", i, tr.To, wantPath[i])
		}
	}
}

func TestMachine_ConversationTurns(t *testing.T) {
	m, _ := newMachine(t)
	drive(t, m, TriggerStartCall, TriggerCallConnected)

	drive(t, m,
		TriggerUserStartsSpeaking,
		TriggerUserStopsSpeaking,
		TriggerAIStartsSpeaking,
		TriggerAIStopsSpeaking,
	)
	if m.Current() != ActiveListening {
		t.Errorf("state after full turn = %q, want active.listening", m.Current())
	}
}

func TestMachine_BargeInReturnsToListening(t *testing.T) {
	m, _ := newMachine(t)
	drive(t, m, TriggerStartCall, TriggerCallConnected, TriggerAIStartsSpeaking)

	if !m.Fire(TriggerUserStartsSpeaking, nil) {
		t.Fatal("barge-in trigger blocked")
	}
	if m.Current() != ActiveListening {
		t.Errorf("state after barge-in = %q, want active.listening", m.Current())
	}
}

func TestMachine_TransferAcceptedPath(t *testing.T) {
	m, _ := newMachine(t)
	drive(t, m, TriggerStartCall, TriggerCallConnected)

	payload := map[string]any{"destination": "Sales", "caller": "+15551234"}
	if !m.Fire(TriggerRequestTransfer, payload) {
		t.Fatal("request_transfer blocked with valid payload")
	}
	drive(t, m,
		TriggerDestinationValidated,
		TriggerAttendantAnswered,
		TriggerAnnouncementDone,
		TriggerTransferAccepted,
		TriggerBridgeComplete,
	)
	if m.Current() != Bridged {
		t.Errorf("final state = %q, want bridged", m.Current())
	}
}

func TestMachine_TransferRejectedReturnsToListening(t *testing.T) {
	m, _ := newMachine(t)
	drive(t, m, TriggerStartCall, TriggerCallConnected)
	if !m.Fire(TriggerRequestTransfer, map[string]any{"destination": "Sales", "caller": "x"}) {
		t.Fatal("request_transfer blocked")
	}

	// transfer_rejected only fires from transferring.waiting.
	if m.Fire(TriggerTransferRejected, nil) {
		t.Fatalf("transfer_rejected applied in state %q", m.Current())
	}

	drive(t, m, TriggerDestinationValidated, TriggerAttendantAnswered, TriggerAnnouncementDone)
	drive(t, m, TriggerTransferRejected)
	if m.Current() != ActiveListening {
		t.Errorf("state after reject = %q, want active.listening", m.Current())
	}
}

func TestMachine_TransferTimeoutFromAnyTransferringState(t *testing.T) {
	for _, setup := range [][]Trigger{
		{TriggerDestinationValidated},
		{TriggerDestinationValidated, TriggerAttendantAnswered},
		{TriggerDestinationValidated, TriggerAttendantAnswered, TriggerAnnouncementDone},
	} {
		m, _ := newMachine(t)
		drive(t, m, TriggerStartCall, TriggerCallConnected)
		m.Fire(TriggerRequestTransfer, map[string]any{"destination": "d", "caller": "c"})
		drive(t, m, setup...)

		if !m.Fire(TriggerTransferTimeout, nil) {
			t.Errorf("transfer_timeout blocked in state %q", m.Current())
		}
		if m.Current() != ActiveListening {
			t.Errorf("state after timeout = %q, want active.listening", m.Current())
		}
	}
}

func TestMachine_RequestTransferGuard(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    bool
	}{
		{"valid", map[string]any{"destination": "Sales", "caller": "+1555"}, true},
		{"missing destination", map[string]any{"caller": "+1555"}, false},
		{"missing caller", map[string]any{"destination": "Sales"}, false},
		{"nil payload", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, b := newMachine(t)
			drive(t, m, TriggerStartCall, TriggerCallConnected)

			var blocked []bus.Event
			b.Subscribe(bus.StateTransitionBlocked, func(evt bus.Event) {
				blocked = append(blocked, evt)
			})

			got := m.Fire(TriggerRequestTransfer, tt.payload)
			if got != tt.want {
				t.Fatalf("Fire = %v, want %v", got, tt.want)
			}
			if !tt.want {
				if m.Current() != ActiveListening {
					t.Errorf("state changed on blocked transition: %q", m.Current())
				}
				if len(blocked) != 1 {
					t.Errorf("got %d state.transition.blocked events, want 1", len(blocked))
				}
			}
		})
	}
}

func TestMachine_InvalidTriggerEmitsBlockedAndKeepsState(t *testing.T) {
	m, b := newMachine(t)

	var blocked int
	b.Subscribe(bus.StateTransitionBlocked, func(bus.Event) { blocked++ })

	// bridge_complete is meaningless in idle.
	if m.Fire(TriggerBridgeComplete, nil) {
		t.Fatal("invalid trigger was applied")
	}
	if m.Current() != Idle {
		t.Errorf("state = %q, want idle", m.Current())
	}
	if blocked != 1 {
		t.Errorf("blocked events = %d, want exactly 1", blocked)
	}
}

func TestMachine_StateChangedEventPerEntry(t *testing.T) {
	m, b := newMachine(t)

	var changes []bus.Event
	b.Subscribe(bus.StateChanged, func(evt bus.Event) { changes = append(changes, evt) })

	drive(t, m, TriggerStartCall, TriggerCallConnected)

	if len(changes) != 2 {
		t.Fatalf("got %d state.changed events, want 2", len(changes))
	}
	first := changes[0].Payload
	if first["old"] != "idle" || first["new"] != "connecting" {
		t.Errorf("first change = %v", first)
	}
	second := changes[1].Payload
	if second["old"] != "connecting" || second["new"] != "active.listening" {
		t.Errorf("second change = %v", second)
	}
}

func TestMachine_ForceEndFromAnywhere(t *testing.T) {
	states := [][]Trigger{
		{},
		{TriggerStartCall},
		{TriggerStartCall, TriggerCallConnected},
		{TriggerStartCall, TriggerCallConnected, TriggerHold},
	}
	for _, setup := range states {
		m, _ := newMachine(t)
		drive(t, m, setup...)
		if !m.Fire(TriggerForceEnd, nil) {
			t.Errorf("force_end blocked in state %q", m.Current())
		}
		if m.Current() != Ended {
			t.Errorf("state after force_end = %q, want ended", m.Current())
		}
	}
}

func TestMachine_EndCallExcludedFromEnded(t *testing.T) {
	m, _ := newMachine(t)
	drive(t, m, TriggerStartCall, TriggerForceEnd)

	if m.Fire(TriggerEndCall, nil) {
		t.Error("end_call should be blocked once ended")
	}
}

func TestMachine_HoldUnhold(t *testing.T) {
	m, _ := newMachine(t)
	drive(t, m, TriggerStartCall, TriggerCallConnected, TriggerAIStartsSpeaking)

	drive(t, m, TriggerHold)
	if m.Current() != OnHold {
		t.Fatalf("state = %q, want on_hold", m.Current())
	}
	drive(t, m, TriggerUnhold)
	if m.Current() != ActiveListening {
		t.Errorf("state = %q, want active.listening", m.Current())
	}
}

func TestMachine_Can(t *testing.T) {
	m, _ := newMachine(t)
	if !m.Can(TriggerStartCall, nil) {
		t.Error("start_call should be possible from idle")
	}
	if m.Can(TriggerHold, nil) {
		t.Error("hold should not be possible from idle")
	}
	if m.Current() != Idle {
		t.Error("Can must not change state")
	}
}
