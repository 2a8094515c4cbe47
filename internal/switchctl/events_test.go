package switchctl

import (
	"context"
	"testing"
	"time"

	"github.com/voxsec/voxsec/internal/bus"
)

func TestParseHeaders(t *testing.T) {
	block := "Event-Name: CHANNEL_ANSWER\nUnique-ID: uuid-a\nCaller-Caller-ID-Number: 5550100"
	h := parseHeaders(block)
	if h["Event-Name"] != "CHANNEL_ANSWER" {
		t.Errorf("Event-Name = %q", h["Event-Name"])
	}
	if h["Unique-ID"] != "uuid-a" {
		t.Errorf("Unique-ID = %q", h["Unique-ID"])
	}
	if h["Caller-Caller-ID-Number"] != "5550100" {
		t.Errorf("caller = %q", h["Caller-Caller-ID-Number"])
	}
}

func TestNormalizeEvent(t *testing.T) {
	const primary = "uuid-a"
	tests := []struct {
		name    string
		headers map[string]string
		want    bus.Kind
		drop    bool
	}{
		{
			name:    "answer on primary leg",
			headers: map[string]string{"Event-Name": "CHANNEL_ANSWER", "Unique-ID": primary},
			want:    bus.CallConnected,
		},
		{
			name:    "answer on originated leg",
			headers: map[string]string{"Event-Name": "CHANNEL_ANSWER", "Unique-ID": "uuid-b"},
			want:    bus.TransferAnswered,
		},
		{
			name:    "ring on originated leg",
			headers: map[string]string{"Event-Name": "CHANNEL_RING", "Unique-ID": "uuid-b"},
			want:    bus.TransferRinging,
		},
		{
			name:    "ring on primary leg is dropped",
			headers: map[string]string{"Event-Name": "CHANNEL_RING", "Unique-ID": primary},
			drop:    true,
		},
		{
			name: "hangup on primary leg",
			headers: map[string]string{
				"Event-Name": "CHANNEL_HANGUP", "Unique-ID": primary,
				"Hangup-Cause": "NORMAL_CLEARING",
			},
			want: bus.CallEnded,
		},
		{
			name:    "hangup on originated leg",
			headers: map[string]string{"Event-Name": "CHANNEL_HANGUP", "Unique-ID": "uuid-b"},
			want:    bus.TransferCancelled,
		},
		{
			name: "dtmf",
			headers: map[string]string{
				"Event-Name": "DTMF", "Unique-ID": primary, "DTMF-Digit": "5",
			},
			want: bus.UserDTMF,
		},
		{
			name:    "housekeeping event is dropped",
			headers: map[string]string{"Event-Name": "CHANNEL_EXECUTE", "Unique-ID": primary},
			drop:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, ok := normalizeEvent(tt.headers, primary)
			if tt.drop {
				if ok {
					t.Fatalf("expected event dropped, got %s", evt.Kind)
				}
				return
			}
			if !ok {
				t.Fatal("event unexpectedly dropped")
			}
			if evt.Kind != tt.want {
				t.Errorf("kind = %s, want %s", evt.Kind, tt.want)
			}
			if evt.Source != "switch" {
				t.Errorf("source = %q, want switch", evt.Source)
			}
			if evt.Payload["uuid"] != tt.headers["Unique-ID"] {
				t.Errorf("payload uuid = %v", evt.Payload["uuid"])
			}
		})
	}
}

func TestNormalizeEvent_PayloadDetails(t *testing.T) {
	evt, ok := normalizeEvent(map[string]string{
		"Event-Name": "CHANNEL_HANGUP", "Unique-ID": "uuid-a", "Hangup-Cause": "ORIGINATOR_CANCEL",
	}, "uuid-a")
	if !ok {
		t.Fatal("hangup dropped")
	}
	if evt.Payload["cause"] != "ORIGINATOR_CANCEL" {
		t.Errorf("cause = %v", evt.Payload["cause"])
	}

	evt, ok = normalizeEvent(map[string]string{
		"Event-Name": "DTMF", "Unique-ID": "uuid-a", "DTMF-Digit": "#",
	}, "uuid-a")
	if !ok {
		t.Fatal("dtmf dropped")
	}
	if evt.Payload["digit"] != "#" {
		t.Errorf("digit = %v", evt.Payload["digit"])
	}
}

func TestEventCallID_RoutingVariableWins(t *testing.T) {
	h := map[string]string{
		"Unique-ID":               "uuid-b",
		"Variable-Voxsec-Call-Id": "call-1",
	}
	if got := eventCallID(h); got != "call-1" {
		t.Errorf("call id = %q, want call-1", got)
	}
	delete(h, "Variable-Voxsec-Call-Id")
	if got := eventCallID(h); got != "uuid-b" {
		t.Errorf("call id = %q, want uuid-b", got)
	}
}

type staticRouter struct {
	targets map[string]Target
}

func (r staticRouter) Route(callID string) (Target, bool) {
	t, ok := r.targets[callID]
	return t, ok
}

func TestEventStream_DispatchPublishesOnSessionBus(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()

	var got []bus.Event
	b.Subscribe(bus.UserDTMF, func(evt bus.Event) { got = append(got, evt) })

	s := NewEventStream(Config{}, staticRouter{targets: map[string]Target{
		"call-1": {Events: b, CallUUID: "uuid-a"},
	}})

	s.dispatch(t.Context(), map[string]string{
		"Event-Name": "DTMF", "Unique-ID": "uuid-a", "DTMF-Digit": "1",
	})

	if len(got) != 1 {
		t.Fatalf("published %d events, want 1", len(got))
	}
	if got[0].CallID != "call-1" {
		t.Errorf("call id = %q", got[0].CallID)
	}
	if got[0].Payload["digit"] != "1" {
		t.Errorf("digit = %v", got[0].Payload["digit"])
	}
}

func TestEventStream_DropsUnroutableEvent(t *testing.T) {
	s := NewEventStream(Config{}, staticRouter{})
	// Must return without publishing or panicking once retries are exhausted.
	s.dispatch(t.Context(), map[string]string{
		"Event-Name": "CHANNEL_ANSWER", "Unique-ID": "uuid-z",
	})
}

func TestEventStream_ParkLaunchesNewCall(t *testing.T) {
	s := NewEventStream(Config{}, staticRouter{})

	launched := make(chan NewCall, 1)
	s.OnNewCall = func(_ context.Context, call NewCall) { launched <- call }

	s.dispatch(t.Context(), map[string]string{
		"Event-Name":                "CHANNEL_PARK",
		"Unique-ID":                 "uuid-new",
		"Caller-Caller-ID-Number":   "5550100",
		"Caller-Caller-ID-Name":     "Ada",
		"Caller-Destination-Number": "9000",
	})

	select {
	case call := <-launched:
		if call.UUID != "uuid-new" || call.CallerID != "5550100" || call.Destination != "9000" {
			t.Errorf("call = %+v", call)
		}
	case <-time.After(time.Second):
		t.Fatal("OnNewCall not invoked")
	}
}

func TestEventStream_ParkForOwnedCallIsIgnored(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()

	s := NewEventStream(Config{}, staticRouter{targets: map[string]Target{
		"uuid-a": {Events: b, CallUUID: "uuid-a"},
	}})
	s.OnNewCall = func(_ context.Context, call NewCall) {
		t.Errorf("unexpected launch for %s", call.UUID)
	}

	s.dispatch(t.Context(), map[string]string{
		"Event-Name": "CHANNEL_PARK", "Unique-ID": "uuid-a",
	})
	// Give a stray goroutine a beat to surface before the test ends.
	time.Sleep(50 * time.Millisecond)
}
