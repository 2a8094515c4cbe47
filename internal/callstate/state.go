// Package callstate implements the call-lifecycle state machine.
//
// The machine is the single source of truth for where a call is in its life:
// components never keep their own "in transfer" or "on hold" booleans, they
// ask the machine or subscribe to state.changed events. States are
// hierarchical — "active.listening" is a child of "active" — and transitions
// are declared in an explicit table with optional guards.
//
// Invalid triggers are dropped, not errored: the machine publishes
// state.transition.blocked and stays where it is.
package callstate

import "strings"

// State is a node in the hierarchical state space. Child states use dotted
// names ("active.listening"). The zero value is not a valid state.
type State string

const (
	Idle       State = "idle"
	Connecting State = "connecting"
	Connected  State = "connected"

	Active           State = "active"
	ActiveListening  State = "active.listening"
	ActiveSpeaking   State = "active.speaking"
	ActiveProcessing State = "active.processing"

	OnHold State = "on_hold"

	Transferring           State = "transferring"
	TransferringValidating State = "transferring.validating"
	TransferringDialing    State = "transferring.dialing"
	TransferringAnnouncing State = "transferring.announcing"
	TransferringWaiting    State = "transferring.waiting"
	TransferringBridging   State = "transferring.bridging"

	Bridged State = "bridged"
	Ending  State = "ending"
	Ended   State = "ended"
)

// Is reports whether s equals family or is a descendant of it.
// ActiveListening.Is(Active) is true; Active.Is(ActiveListening) is false.
func (s State) Is(family State) bool {
	return s == family || strings.HasPrefix(string(s), string(family)+".")
}

// IsActive reports whether s is in the active family.
func (s State) IsActive() bool { return s.Is(Active) }

// IsTransferring reports whether s is in the transferring family.
func (s State) IsTransferring() bool { return s.Is(Transferring) }

// Terminal reports whether s is the final state.
func (s State) Terminal() bool { return s == Ended }

// Trigger names an external cause for a state transition.
type Trigger string

const (
	TriggerStartCall            Trigger = "start_call"
	TriggerCallConnected        Trigger = "call_connected"
	TriggerUserStartsSpeaking   Trigger = "user_starts_speaking"
	TriggerUserStopsSpeaking    Trigger = "user_stops_speaking"
	TriggerAIStartsSpeaking     Trigger = "ai_starts_speaking"
	TriggerAIStopsSpeaking      Trigger = "ai_stops_speaking"
	TriggerHold                 Trigger = "hold"
	TriggerUnhold               Trigger = "unhold"
	TriggerRequestTransfer      Trigger = "request_transfer"
	TriggerDestinationValidated Trigger = "destination_validated"
	TriggerAttendantAnswered    Trigger = "attendant_answered"
	TriggerAnnouncementDone     Trigger = "announcement_done"
	TriggerTransferAccepted     Trigger = "transfer_accepted"
	TriggerTransferRejected     Trigger = "transfer_rejected"
	TriggerTransferTimeout      Trigger = "transfer_timeout"
	TriggerTransferCancelled    Trigger = "transfer_cancelled"
	TriggerBridgeComplete       Trigger = "bridge_complete"
	TriggerEndCall              Trigger = "end_call"
	TriggerCallEnded            Trigger = "call_ended"
	TriggerForceEnd             Trigger = "force_end"
)
